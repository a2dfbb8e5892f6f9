package logbus

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestBusRingBufferKeepsLast(t *testing.T) {
	b := New(2, nil)
	b.Publish("a", 1)
	b.Publish("b", 2)
	b.Publish("c", 3)
	snap := b.Snapshot()
	if len(snap) != 2 || snap[0].Type != "b" || snap[1].Type != "c" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap[0].Seq != 2 || snap[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %d %d", snap[0].Seq, snap[1].Seq)
	}
	b.Publish("d", 4)
	b.Publish("e", 5)
	snap = b.Snapshot()
	if snap[0].Type != "d" || snap[1].Type != "e" {
		t.Fatalf("ring did not wrap in order: %+v", snap)
	}
}

func TestBusCountsDropsForSlowSubscriber(t *testing.T) {
	b := New(10, nil)
	_, cancel := b.Subscribe(1)
	defer cancel()
	b.Publish("a", nil)
	b.Publish("b", nil)
	b.Publish("c", nil)
	if got := b.Dropped(); got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
	cancel()
	b.Publish("d", nil)
}

func TestBusSubscribeReceives(t *testing.T) {
	b := New(10, nil)
	ch, cancel := b.Subscribe(4)
	defer cancel()
	b.Log("info", "hello", map[string]any{"k": "v"})
	msg := <-ch
	data, ok := msg.Data.(LogData)
	if !ok || data.Msg != "hello" || msg.Type != "log" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestBusDropsDebugBelowLoggerLevel(t *testing.T) {
	var out bytes.Buffer
	l := logrus.New()
	l.SetOutput(&out)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&ConsoleFormatter{DisableColors: true})

	b := New(10, l)
	b.Log("debug", "noisy", nil)
	b.Log("warn", "careful", map[string]any{"taskId": "t1"})

	if b.DebugEnabled() {
		t.Fatal("debug should be disabled")
	}
	if len(b.Snapshot()) != 1 {
		t.Fatalf("expected 1 message, got %d", len(b.Snapshot()))
	}
	line := out.String()
	if !strings.Contains(line, "careful") || !strings.Contains(line, "taskId=t1") {
		t.Fatalf("unexpected log output: %q", line)
	}
	if strings.Contains(line, "noisy") {
		t.Fatalf("debug line leaked: %q", line)
	}
}

func TestClosedBusIgnoresPublish(t *testing.T) {
	b := New(10, nil)
	b.Close()
	b.Publish("x", nil)
	if len(b.Snapshot()) != 0 {
		t.Fatal("closed bus should not buffer")
	}
	ch, _ := b.Subscribe(1)
	if _, ok := <-ch; ok {
		t.Fatal("subscribe on closed bus should return closed channel")
	}
}
