package model

import "time"

type CookieJarEntry struct {
	URL     string   `json:"url" yaml:"url"`
	Cookies []Cookie `json:"cookies" yaml:"cookies"`
}

type Cookie struct {
	Name     string `json:"name" yaml:"name"`
	Value    string `json:"value" yaml:"value"`
	Path     string `json:"path,omitempty" yaml:"path"`
	Domain   string `json:"domain,omitempty" yaml:"domain"`
	Expires  int64  `json:"expires,omitempty" yaml:"expires"`
	Secure   bool   `json:"secure,omitempty" yaml:"secure"`
	HttpOnly bool   `json:"httpOnly,omitempty" yaml:"httpOnly"`
	SameSite string `json:"sameSite,omitempty" yaml:"sameSite"`
}

func (c Cookie) Expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires <= now.UnixMilli()
}

// LiveCookies returns every unexpired cookie across entries, paired with its jar URL.
func LiveCookies(entries []CookieJarEntry, now time.Time) []CookieWithURL {
	var out []CookieWithURL
	for _, e := range entries {
		for _, c := range e.Cookies {
			if c.Name == "" || c.Expired(now) {
				continue
			}
			out = append(out, CookieWithURL{URL: e.URL, Cookie: c})
		}
	}
	return out
}

type CookieWithURL struct {
	URL string
	Cookie
}
