package model

import "time"

type Wallet struct {
	ID         string    `json:"id" yaml:"id"`
	Address    string    `json:"address" yaml:"address"`
	PrivateKey string    `json:"-" yaml:"privateKey"`
	Chain      string    `json:"chain,omitempty" yaml:"chain"`
	Balance    string    `json:"balance,omitempty" yaml:"balance"`
	BalanceAt  time.Time `json:"balanceAt,omitempty" yaml:"-"`
}

type SocialAccount struct {
	ID       string           `json:"id" yaml:"id"`
	Platform string           `json:"platform" yaml:"platform"`
	Username string           `json:"username" yaml:"username"`
	Password string           `json:"-" yaml:"password"`
	Token    string           `json:"-" yaml:"token"`
	Cookies  []CookieJarEntry `json:"cookies,omitempty" yaml:"cookies"`
}

type EmailAccount struct {
	ID       string `json:"id" yaml:"id"`
	Address  string `json:"address" yaml:"address"`
	Password string `json:"-" yaml:"password"`
	IMAPHost string `json:"imapHost,omitempty" yaml:"imapHost"`
}

type Proxy struct {
	ID       string `json:"id" yaml:"id"`
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"-" yaml:"password"`
	Country  string `json:"country,omitempty" yaml:"country"`
}

// Fingerprint is the browser identity applied to a session.
type Fingerprint struct {
	ID             string  `json:"id" yaml:"id"`
	UserAgent      string  `json:"userAgent" yaml:"userAgent"`
	Platform       string  `json:"platform,omitempty" yaml:"platform"`
	AcceptLanguage string  `json:"acceptLanguage,omitempty" yaml:"acceptLanguage"`
	Timezone       string  `json:"timezone,omitempty" yaml:"timezone"`
	ScreenWidth    int     `json:"screenWidth,omitempty" yaml:"screenWidth"`
	ScreenHeight   int     `json:"screenHeight,omitempty" yaml:"screenHeight"`
	DeviceScale    float64 `json:"deviceScale,omitempty" yaml:"deviceScale"`
	Mobile         bool    `json:"mobile,omitempty" yaml:"mobile"`
}

// AccountGroupItem bundles the resources of one synthetic identity.
// Any reference may be nil.
type AccountGroupItem struct {
	ID          string          `json:"id" yaml:"id"`
	GroupID     string          `json:"groupId" yaml:"groupId"`
	Label       string          `json:"label,omitempty" yaml:"label"`
	Wallet      *Wallet         `json:"wallet,omitempty" yaml:"wallet"`
	Socials     []SocialAccount `json:"socials,omitempty" yaml:"socials"`
	Email       *EmailAccount   `json:"email,omitempty" yaml:"email"`
	Proxy       *Proxy          `json:"proxy,omitempty" yaml:"proxy"`
	Fingerprint *Fingerprint    `json:"fingerprint,omitempty" yaml:"fingerprint"`
	CreatedAt   time.Time       `json:"createdAt" yaml:"-"`
}

// Social returns the first social account for platform.
func (a AccountGroupItem) Social(platform string) (SocialAccount, bool) {
	for _, s := range a.Socials {
		if s.Platform == platform {
			return s, true
		}
	}
	return SocialAccount{}, false
}

// AccountData is the domain data handed to scripts.
type AccountData struct {
	AccountID string
	Label     string
	Wallet    *Wallet
	Socials   []SocialAccount
	Email     *EmailAccount
}

func (a AccountGroupItem) Data() AccountData {
	return AccountData{
		AccountID: a.ID,
		Label:     a.Label,
		Wallet:    a.Wallet,
		Socials:   a.Socials,
		Email:     a.Email,
	}
}
