package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
)

func TestStreamFiltersByTypeAndTask(t *testing.T) {
	bus := logbus.New(16, nil)
	bus.Publish("task_state", model.TaskState{TaskID: "other"})
	bus.Publish("task_state", model.TaskState{TaskID: "t1", Total: 3})
	bus.Log("info", "hello", nil)

	srv := httptest.NewServer(NewHandler(bus, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?types=task_state&taskId=t1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string          `json:"type"`
		Data model.TaskState `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "task_state" || msg.Data.TaskID != "t1" || msg.Data.Total != 3 {
		t.Fatalf("msg = %+v", msg)
	}

	bus.Publish("task_state", model.TaskState{TaskID: "t1", Completed: 1})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if msg.Data.Completed != 1 {
		t.Fatalf("live msg = %+v", msg)
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(nil, []string{"http://ok.test"})
	r := httptest.NewRequest("GET", "/ws", nil)
	if !h.checkOrigin(r) {
		t.Fatal("no origin should pass")
	}
	r.Header.Set("Origin", "http://evil.test")
	if h.checkOrigin(r) {
		t.Fatal("foreign origin passed")
	}
	r.Header.Set("Origin", "http://OK.test")
	if !h.checkOrigin(r) {
		t.Fatal("allowed origin rejected")
	}
}
