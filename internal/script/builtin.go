package script

import (
	"context"
	"errors"
	"time"

	"farm_engine/internal/browser"
	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/retry"
)

const (
	RefRequireWallet = "builtin.require-wallet"
	RefRequireEmail  = "builtin.require-email"
)

// Page builds a script that opens cfg.URL and waits for cfg.WaitSelectors,
// retrying the whole step with cfg's policy.
func Page(cfg config.ScriptConfig, bus *logbus.Bus) Script {
	return func(ctx context.Context, s browser.Session, acct model.AccountData) error {
		opts := retry.Options[struct{}]{
			Name: cfg.Ref,
			OnRetry: func(attempt int, err error) {
				Logf(ctx, "warn", "%s attempt %d failed: %v", cfg.Ref, attempt, err)
			},
			MaxRetries: cfg.Retries,
			Interval:   time.Duration(cfg.IntervalMs) * time.Millisecond,
			Bus:        bus,
			// Taxonomy errors other than page loads are final.
			ShouldRetry: func(err error) bool {
				var e *exception.Error
				if errors.As(err, &e) {
					return e.Code == exception.CodePageLoadFailed
				}
				return true
			},
		}
		if len(cfg.WaitSelectors) > 0 {
			opts.Visibility = &retry.Visibility{
				Checker:    s,
				Selectors:  cfg.WaitSelectors,
				RequireAll: cfg.RequireAll,
				Timeout:    time.Duration(cfg.WaitTimeoutMs) * time.Millisecond,
			}
		}
		return retry.Run(ctx, func(ctx context.Context, attempt int) error {
			if cfg.URL == "" {
				return nil
			}
			Logf(ctx, "info", "open %s (attempt %d)", cfg.URL, attempt)
			return s.Navigate(ctx, cfg.URL)
		}, opts)
	}
}

func requireWallet(_ context.Context, _ browser.Session, acct model.AccountData) error {
	if acct.Wallet == nil || acct.Wallet.Address == "" {
		return exception.WalletNotFound().WithDetail("accountId", acct.AccountID)
	}
	return nil
}

func requireEmail(_ context.Context, _ browser.Session, acct model.AccountData) error {
	if acct.Email == nil || acct.Email.Address == "" {
		return exception.EmailNotFound().WithDetail("accountId", acct.AccountID)
	}
	return nil
}

// NewDefaultRegistry registers the builtin checks and one Page script per
// configured entry.
func NewDefaultRegistry(cfgs []config.ScriptConfig, bus *logbus.Bus) (*Registry, error) {
	r := NewRegistry()
	if err := r.Register(RefRequireWallet, requireWallet); err != nil {
		return nil, err
	}
	if err := r.Register(RefRequireEmail, requireEmail); err != nil {
		return nil, err
	}
	for _, c := range cfgs {
		if err := r.Register(c.Ref, Page(c, bus)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
