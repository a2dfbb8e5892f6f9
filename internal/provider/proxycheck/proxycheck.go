package proxycheck

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/provider"
)

// Checker keeps one resty client per proxy URL so repeated checks reuse
// pooled connections.
type Checker struct {
	cfg config.ProxyConfig
	bus *logbus.Bus

	mu      sync.Mutex
	clients map[string]*resty.Client
}

func New(cfg config.ProxyConfig, bus *logbus.Bus) *Checker {
	return &Checker{cfg: cfg, bus: bus, clients: make(map[string]*resty.Client)}
}

// Close drops every cached client and its idle connections.
func (c *Checker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, client := range c.clients {
		client.GetClient().CloseIdleConnections()
		delete(c.clients, key)
	}
}

func (c *Checker) client(proxyURL string) *resty.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[proxyURL]; ok {
		return client
	}
	client := c.client(proxyURL)
	c.clients[proxyURL] = client
	return client
}

// Enabled reports whether a check URL is configured.
func (c *Checker) Enabled() bool { return strings.TrimSpace(c.cfg.CheckURL) != "" }

// Check fetches the check URL through p (or the global proxy) and maps
// failures onto the proxy exception family.
func (c *Checker) Check(ctx context.Context, p *model.Proxy) (provider.ProxyCheckResult, error) {
	proxyURL, err := c.proxyURL(p)
	if err != nil {
		return provider.ProxyCheckResult{}, err
	}
	client := c.client(proxyURL)

	start := time.Now()
	resp, err := client.R().SetContext(ctx).Get(c.cfg.CheckURL)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return provider.ProxyCheckResult{}, classifyTransport(err)
	}
	if e := classifyStatus(resp.StatusCode()); e != nil {
		return provider.ProxyCheckResult{}, e.WithDetail("status", resp.StatusCode())
	}

	res := provider.ProxyCheckResult{ExitIP: exitIP(resp.Body()), LatencyMs: latency}
	c.bus.Log("debug", "proxy ok", map[string]any{"exitIp": res.ExitIP, "latencyMs": latency})
	return res, nil
}

func (c *Checker) proxyURL(p *model.Proxy) (string, error) {
	raw := c.cfg.Global
	if p != nil && strings.TrimSpace(p.URL) != "" {
		raw = strings.TrimSpace(p.URL)
	}
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", exception.ProxyInvalid()
	}
	if p != nil && p.Username != "" && u.User == nil {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u.String(), nil
}

func (c *Checker) newClient(proxyURL string) *resty.Client {
	client := resty.New().
		SetTimeout(c.cfg.Timeout()).
		SetRetryCount(c.cfg.Retry.Count).
		SetRetryWaitTime(c.cfg.Retry.Wait()).
		SetRetryMaxWaitTime(c.cfg.Retry.MaxWait()).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			if r == nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	if proxyURL != "" {
		client.SetProxy(proxyURL)
	}
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		c.bus.Log("debug", "proxy check request", map[string]any{"url": req.URL, "proxied": proxyURL != ""})
		return nil
	})
	return client
}

func classifyStatus(status int) *exception.Error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusProxyAuthRequired:
		return exception.ProxyAuthFailed()
	case status == http.StatusForbidden:
		return exception.IPBlocked()
	case status == http.StatusTooManyRequests:
		return exception.IPRateLimited()
	case status == http.StatusUnavailableForLegalReasons:
		return exception.IPGeoRestricted()
	default:
		return exception.ProxyConnectionFailed()
	}
}

func classifyTransport(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "Proxy Authentication Required") {
		return exception.ProxyAuthFailed().Wrap(err)
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return exception.ProxyConnectionFailed().WithDetail("timeout", true).Wrap(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return exception.ProxyConnectionFailed().Wrap(err)
}

// exitIP accepts {"ip": "..."} or a bare address.
func exitIP(body []byte) string {
	var v struct {
		IP     string `json:"ip"`
		Origin string `json:"origin"`
	}
	if json.Unmarshal(body, &v) == nil {
		if v.IP != "" {
			return v.IP
		}
		return v.Origin
	}
	s := strings.TrimSpace(string(body))
	if net.ParseIP(s) != nil {
		return s
	}
	return ""
}
