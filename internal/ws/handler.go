// Package ws streams bus messages to websocket clients.
package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

type Handler struct {
	bus          *logbus.Bus
	allowOrigins []string
	upgrader     websocket.Upgrader
}

func NewHandler(bus *logbus.Bus, allowOrigins []string) *Handler {
	h := &Handler{
		bus:          bus,
		allowOrigins: allowOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: h.checkOrigin,
	}
	return h
}

// ServeHTTP replays the bus buffer, then streams live messages. The optional
// "types" query (comma separated) restricts which message types are sent,
// and "taskId" restricts task_state messages to one task.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f := newFilter(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch, cancel := h.bus.Subscribe(256)
	defer cancel()

	// Anything published between Subscribe and Snapshot arrives twice; the
	// live loop skips sequence numbers already replayed.
	var replayed uint64
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	for _, msg := range h.bus.Snapshot() {
		replayed = msg.Seq
		if !f.match(msg) {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg.Seq <= replayed || !f.match(msg) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}
}

type filter struct {
	types  map[string]bool
	taskID string
}

func newFilter(r *http.Request) filter {
	q := r.URL.Query()
	f := filter{taskID: strings.TrimSpace(q.Get("taskId"))}
	if raw := strings.TrimSpace(q.Get("types")); raw != "" {
		f.types = make(map[string]bool)
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				f.types[t] = true
			}
		}
	}
	return f
}

func (f filter) match(msg logbus.Message) bool {
	if f.types != nil && !f.types[msg.Type] {
		return false
	}
	if f.taskID != "" && msg.Type == "task_state" {
		if st, ok := msg.Data.(model.TaskState); ok {
			return st.TaskID == f.taskID
		}
	}
	return true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
