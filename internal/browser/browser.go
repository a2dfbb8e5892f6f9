// Package browser allocates isolated automation contexts: one incognito
// browser context per account, with that account's proxy, fingerprint and
// cookies bound to it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
)

// Identity is everything needed to open a context for one account.
type Identity struct {
	AccountID   string
	Proxy       *model.Proxy
	Fingerprint *model.Fingerprint
	Cookies     []model.CookieJarEntry
	Headless    bool
}

// Session is an open automation context. Scripts drive it; the pipeline
// closes it.
type Session interface {
	AccountID() string
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// Page is the underlying rod page; nil for non-rod sessions.
	Page() *rod.Page
	Close() error
}

type Allocator interface {
	Open(ctx context.Context, id Identity) (Session, error)
}

// Pool launches at most one browser per headless mode and hands out
// incognito contexts from it.
type Pool struct {
	cfg         config.BrowserConfig
	globalProxy string
	bus         *logbus.Bus

	mu        sync.Mutex
	browsers  map[bool]*rod.Browser
	launchers map[bool]*launcher.Launcher
}

func NewPool(cfg config.BrowserConfig, globalProxy string, bus *logbus.Bus) *Pool {
	return &Pool{
		cfg:         cfg,
		globalProxy: globalProxy,
		bus:         bus,
		browsers:    make(map[bool]*rod.Browser),
		launchers:   make(map[bool]*launcher.Launcher),
	}
}

func (p *Pool) browser(headless bool) (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b := p.browsers[headless]; b != nil {
		return b, nil
	}

	controlURL := p.cfg.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Headless(headless).Leakless(true)
		if p.cfg.BinPath != "" {
			l = l.Bin(p.cfg.BinPath)
		}
		u, err := l.Launch()
		if err != nil {
			l.Kill()
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	p.browsers[headless] = b
	if l != nil {
		p.launchers[headless] = l
	}
	p.bus.Log("info", "browser ready", map[string]any{"headless": headless, "remote": p.cfg.ControlURL != ""})
	return b, nil
}

// Open creates a fresh browser context for id. On error nothing is left open.
func (p *Pool) Open(ctx context.Context, id Identity) (Session, error) {
	proxy, err := resolveProxy(id.Proxy, p.globalProxy)
	if err != nil {
		return nil, err
	}

	main, err := p.browser(id.Headless)
	if err != nil {
		return nil, exception.ExecutionFailed().WithMessage("browser unavailable").Wrap(err)
	}

	res, err := proto.TargetCreateBrowserContext{
		DisposeOnDetach: true,
		ProxyServer:     proxy.server,
	}.Call(main.Context(ctx))
	if err != nil {
		return nil, exception.ExecutionFailed().WithMessage("create browser context").Wrap(err)
	}
	bctx := *main
	bctx.BrowserContextID = res.BrowserContextID
	scoped := &bctx

	s := &session{accountID: id.AccountID, browser: scoped, navTimeout: p.cfg.NavTimeout()}

	var page *rod.Page
	if p.cfg.UseStealth() {
		page, err = stealth.Page(scoped)
	} else {
		page, err = scoped.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = s.Close()
		return nil, exception.ExecutionFailed().WithMessage("open page").Wrap(err)
	}
	s.page = page

	if proxy.username != "" {
		s.stopAuth = answerProxyAuth(page, proxy.username, proxy.password)
	}

	if err := applyFingerprint(page, id.Fingerprint); err != nil {
		_ = s.Close()
		return nil, exception.ExecutionFailed().WithMessage("apply fingerprint").Wrap(err)
	}
	if err := setCookies(page, id.Cookies, time.Now()); err != nil {
		_ = s.Close()
		return nil, exception.ExecutionFailed().WithMessage("set cookies").Wrap(err)
	}

	p.bus.Log("debug", "browser context opened", map[string]any{
		"accountId": id.AccountID,
		"proxy":     proxy.server != "",
		"headless":  id.Headless,
	})
	return s, nil
}

// Close shuts down every browser the pool launched.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for k, b := range p.browsers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(p.browsers, k)
	}
	for k, l := range p.launchers {
		l.Kill()
		delete(p.launchers, k)
	}
	return errors.Join(errs...)
}

type session struct {
	accountID  string
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	stopAuth   func()

	closeOnce sync.Once
	closeErr  error
}

func (s *session) AccountID() string { return s.accountID }

func (s *session) Page() *rod.Page { return s.page }

func (s *session) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx).Timeout(s.navTimeout)
	if err := p.Navigate(url); err != nil {
		return exception.PageLoadFailed().WithDetail("url", url).Wrap(err)
	}
	if err := p.WaitLoad(); err != nil {
		return exception.PageLoadFailed().WithDetail("url", url).Wrap(err)
	}
	return nil
}

func (s *session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	p := s.page.Context(ctx).Timeout(timeout)
	el, err := p.Element(selector)
	if err != nil {
		return err
	}
	return el.WaitVisible()
}

// Close disposes the browser context, which also closes its pages.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.stopAuth != nil {
			s.stopAuth()
		}
		if s.page != nil {
			_ = rod.Try(func() {
				_ = s.page.Timeout(2 * time.Second).Close()
			})
		}
		s.closeErr = s.browser.Close()
	})
	return s.closeErr
}

// answerProxyAuth turns on request interception for this page's target only
// and answers its proxy challenges with the given credentials. Paused
// requests are continued untouched. The returned func stops interception.
func answerProxyAuth(page *rod.Page, username, password string) (stop func()) {
	restore := page.EnableDomain(&proto.FetchEnable{HandleAuthRequests: true})

	ctx, cancel := context.WithCancel(context.Background())
	events := page.Context(ctx)
	wait := events.EachEvent(func(e *proto.FetchRequestPaused) {
		_ = proto.FetchContinueRequest{RequestID: e.RequestID}.Call(events)
	}, func(e *proto.FetchAuthRequired) {
		_ = proto.FetchContinueWithAuth{
			RequestID: e.RequestID,
			AuthChallengeResponse: &proto.FetchAuthChallengeResponse{
				Response: proto.FetchAuthChallengeResponseResponseProvideCredentials,
				Username: username,
				Password: password,
			},
		}.Call(events)
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		wait()
	}()

	return func() {
		cancel()
		<-done
		restore()
	}
}
