// Package logbus fans out log lines and state events to websocket clients and
// keeps a bounded history for late subscribers.
package logbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Message is one bus event. Seq increases by one per published message.
type Message struct {
	Seq  uint64 `json:"seq"`
	Type string `json:"type"`
	Time int64  `json:"time"`
	Data any    `json:"data"`
}

type LogData struct {
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

type Bus struct {
	mu     sync.RWMutex
	ring   []Message
	head   int // index of the oldest message once the ring is full
	seq    uint64
	subs   map[chan Message]struct{}
	closed bool

	dropped atomic.Uint64
	logger  *logrus.Logger
}

// New returns a bus keeping the last capacity messages. Log lines are also
// written to logger when it is non-nil, and lines below its level are dropped.
func New(capacity int, logger *logrus.Logger) *Bus {
	if capacity <= 0 {
		capacity = 200
	}
	return &Bus{
		ring:   make([]Message, 0, capacity),
		subs:   make(map[chan Message]struct{}),
		logger: logger,
	}
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
	b.ring = nil
	b.head = 0
}

// Snapshot returns the buffered history, oldest first.
func (b *Bus) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, 0, len(b.ring))
	out = append(out, b.ring[b.head:]...)
	return append(out, b.ring[:b.head]...)
}

// Dropped counts messages a slow subscriber did not receive.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	if b.closed {
		close(ch)
		b.mu.Unlock()
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish never blocks: subscribers whose buffer is full miss the message.
func (b *Bus) Publish(typ string, data any) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.seq++
	msg := Message{Seq: b.seq, Type: typ, Time: time.Now().UnixMilli(), Data: data}
	if len(b.ring) < cap(b.ring) {
		b.ring = append(b.ring, msg)
	} else {
		b.ring[b.head] = msg
		b.head = (b.head + 1) % len(b.ring)
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Log(level, message string, fields map[string]any) {
	if b == nil {
		return
	}
	if b.logger != nil {
		lvl := parseLevel(level)
		if !b.logger.IsLevelEnabled(lvl) {
			return
		}
		b.logger.WithFields(logrus.Fields(fields)).Log(lvl, message)
	}
	b.Publish("log", LogData{Level: level, Msg: message, Fields: fields})
}

// DebugEnabled reports whether debug lines would be kept.
func (b *Bus) DebugEnabled() bool {
	if b == nil {
		return false
	}
	if b.logger == nil {
		return true
	}
	return b.logger.IsLevelEnabled(logrus.DebugLevel)
}

func parseLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
