package browser

import (
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/proto"

	"farm_engine/internal/exception"
	"farm_engine/internal/model"
)

// defaultDevice is emulated for accounts without a fingerprint.
var defaultDevice = devices.LaptopWithMDPIScreen

func applyFingerprint(page *rod.Page, fp *model.Fingerprint) error {
	if fp == nil {
		return page.Emulate(defaultDevice)
	}
	ua := strings.TrimSpace(fp.UserAgent)
	if ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: fp.AcceptLanguage,
			Platform:       fp.Platform,
		}); err != nil {
			return err
		}
	}
	w, h, scale := viewport(fp)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: scale,
		Mobile:            fp.Mobile,
	}); err != nil {
		return err
	}
	if fp.Timezone != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}).Call(page); err != nil {
			return err
		}
	}
	return nil
}

func viewport(fp *model.Fingerprint) (int, int, float64) {
	w, h, scale := fp.ScreenWidth, fp.ScreenHeight, fp.DeviceScale
	if w <= 0 || h <= 0 {
		w, h = 1280, 800
	}
	if scale <= 0 {
		scale = 1
	}
	return w, h, scale
}

func setCookies(page *rod.Page, entries []model.CookieJarEntry, now time.Time) error {
	live := model.LiveCookies(entries, now)
	if len(live) == 0 {
		return nil
	}
	params := make([]*proto.NetworkCookieParam, 0, len(live))
	for _, c := range live {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			URL:      c.URL,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			SameSite: sameSite(c.SameSite),
		}
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(float64(c.Expires) / 1000)
		}
		params = append(params, p)
	}
	return page.SetCookies(params)
}

func sameSite(s string) proto.NetworkCookieSameSite {
	switch strings.ToLower(s) {
	case "lax":
		return proto.NetworkCookieSameSiteLax
	case "strict":
		return proto.NetworkCookieSameSiteStrict
	case "none":
		return proto.NetworkCookieSameSiteNone
	default:
		return ""
	}
}

type proxyEndpoint struct {
	server   string
	username string
	password string
}

// resolveProxy picks the account proxy over global and splits it into the
// --proxy-server value and the credentials answered on auth challenges.
// Credentials in the URL win over the account's username/password fields.
func resolveProxy(p *model.Proxy, global string) (proxyEndpoint, error) {
	raw := global
	if p != nil && strings.TrimSpace(p.URL) != "" {
		raw = strings.TrimSpace(p.URL)
	}
	if raw == "" {
		return proxyEndpoint{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return proxyEndpoint{}, exception.ProxyInvalid().WithDetail("proxy", redact(raw))
	}
	switch u.Scheme {
	case "http", "https", "socks4", "socks5":
	default:
		return proxyEndpoint{}, exception.ProxyInvalid().WithMessage("unsupported proxy scheme " + u.Scheme)
	}
	ep := proxyEndpoint{server: u.Scheme + "://" + u.Host}
	switch {
	case u.User != nil && u.User.Username() != "":
		ep.username = u.User.Username()
		ep.password, _ = u.User.Password()
	case p != nil && p.Username != "":
		ep.username, ep.password = p.Username, p.Password
	}
	return ep, nil
}

func redact(raw string) string {
	if i := strings.LastIndex(raw, "@"); i >= 0 {
		return "***" + raw[i:]
	}
	return raw
}
