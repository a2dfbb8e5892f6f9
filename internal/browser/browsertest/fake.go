// Package browsertest provides in-memory browser sessions for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"

	"farm_engine/internal/browser"
)

// Allocator hands out Sessions and counts opens and closes.
type Allocator struct {
	// OpenErr, when set, is returned by Open.
	OpenErr error
	// Visible lists selectors that become visible immediately.
	Visible map[string]bool

	opened atomic.Int64
	closed atomic.Int64

	mu       sync.Mutex
	sessions []*Session
}

func (a *Allocator) Open(ctx context.Context, id browser.Identity) (browser.Session, error) {
	if a.OpenErr != nil {
		return nil, a.OpenErr
	}
	a.opened.Add(1)
	s := &Session{ID: id, Visible: a.Visible, onClose: func() { a.closed.Add(1) }}
	a.mu.Lock()
	a.sessions = append(a.sessions, s)
	a.mu.Unlock()
	return s, nil
}

func (a *Allocator) Opened() int64 { return a.opened.Load() }
func (a *Allocator) Closed() int64 { return a.closed.Load() }

func (a *Allocator) Sessions() []*Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Session(nil), a.sessions...)
}

// Session records navigations. Selectors not in Visible time out.
type Session struct {
	ID      browser.Identity
	Visible map[string]bool
	NavErr  error

	mu        sync.Mutex
	navigated []string
	closed    bool
	onClose   func()
}

func (s *Session) AccountID() string { return s.ID.AccountID }

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	s.navigated = append(s.navigated, url)
	s.mu.Unlock()
	return s.NavErr
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if s.Visible[selector] {
		return nil
	}
	return fmt.Errorf("wait %s: %w", selector, context.DeadlineExceeded)
}

func (s *Session) Page() *rod.Page { return nil }

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		if s.onClose != nil {
			s.onClose()
		}
	}
	return nil
}

func (s *Session) Navigated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.navigated...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
