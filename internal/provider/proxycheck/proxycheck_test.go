package proxycheck

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

func TestCheckDirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	defer srv.Close()

	c := New(config.ProxyConfig{CheckURL: srv.URL}, nil)
	res, err := c.Check(context.Background(), nil)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.ExitIP != "203.0.113.7" {
		t.Fatalf("exit ip = %q", res.ExitIP)
	}
}

func TestCheckReusesConnections(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"203.0.113.7"}`))
	}))
	srv.Config.ConnState = func(_ net.Conn, state http.ConnState) {
		if state == http.StateNew {
			conns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	c := New(config.ProxyConfig{CheckURL: srv.URL}, nil)
	for i := 0; i < 3; i++ {
		if _, err := c.Check(context.Background(), nil); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if got := conns.Load(); got != 1 {
		t.Fatalf("opened %d connections, want 1", got)
	}
	if len(c.clients) != 1 {
		t.Fatalf("cached %d clients, want 1", len(c.clients))
	}
	c.Close()
	if len(c.clients) != 0 {
		t.Fatalf("clients left after Close: %d", len(c.clients))
	}
}

func TestCheckStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		code   exception.Code
	}{
		{http.StatusForbidden, exception.CodeIPBlocked},
		{http.StatusTooManyRequests, exception.CodeIPRateLimited},
		{http.StatusUnavailableForLegalReasons, exception.CodeIPGeoRestricted},
		{http.StatusBadRequest, exception.CodeProxyConnectionFailed},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(config.ProxyConfig{CheckURL: srv.URL}, nil)
		_, err := c.Check(context.Background(), nil)
		srv.Close()
		if !exception.Is(err, tt.code) {
			t.Fatalf("status %d: expected %s, got %v", tt.status, tt.code, err)
		}
	}
}

func TestCheckThroughProxyAuth(t *testing.T) {
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Proxy-Authorization") == "" {
			w.WriteHeader(http.StatusProxyAuthRequired)
			return
		}
		_, _ = w.Write([]byte("198.51.100.1"))
	}))
	defer proxy.Close()

	c := New(config.ProxyConfig{CheckURL: "http://check.invalid/ip"}, nil)

	_, err := c.Check(context.Background(), &model.Proxy{URL: proxy.URL})
	if !exception.Is(err, exception.CodeProxyAuthFailed) {
		t.Fatalf("expected PROXY_AUTH_FAILED, got %v", err)
	}

	res, err := c.Check(context.Background(), &model.Proxy{URL: proxy.URL, Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("check with credentials: %v", err)
	}
	if res.ExitIP != "198.51.100.1" {
		t.Fatalf("exit ip = %q", res.ExitIP)
	}
}

func TestCheckUnreachableProxy(t *testing.T) {
	c := New(config.ProxyConfig{CheckURL: "http://check.invalid/ip"}, nil)
	_, err := c.Check(context.Background(), &model.Proxy{URL: "http://127.0.0.1:1"})
	if !exception.Is(err, exception.CodeProxyConnectionFailed) {
		t.Fatalf("expected PROXY_CONNECTION_FAILED, got %v", err)
	}
}

func TestCheckInvalidProxy(t *testing.T) {
	c := New(config.ProxyConfig{CheckURL: "http://check.invalid/ip"}, nil)
	_, err := c.Check(context.Background(), &model.Proxy{URL: "::bad"})
	if !exception.Is(err, exception.CodeProxyInvalid) {
		t.Fatalf("expected PROXY_INVALID, got %v", err)
	}
}
