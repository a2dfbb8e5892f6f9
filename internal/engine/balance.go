package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"farm_engine/internal/batch"
	"farm_engine/internal/config"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/provider"
)

// BalanceRefresher updates stored wallet balances through the batch runner.
type BalanceRefresher struct {
	wallets  WalletStore
	provider provider.BalanceProvider
	bus      *logbus.Bus
	opts     batch.Options
}

func NewBalanceRefresher(wallets WalletStore, p provider.BalanceProvider, limits config.LimitsConfig, bus *logbus.Bus) *BalanceRefresher {
	opts := batch.Options{
		Name:      "balance-refresh",
		BatchSize: limits.BatchSize,
		Delay:     limits.BatchDelay(),
		Bus:       bus,
	}
	if limits.UpstreamQPS > 0 {
		burst := limits.UpstreamBurst
		if burst < 1 {
			burst = 1
		}
		opts.Limiter = rate.NewLimiter(rate.Limit(limits.UpstreamQPS), burst)
	}
	return &BalanceRefresher{wallets: wallets, provider: p, bus: bus, opts: opts}
}

// Refresh starts a background refresh of walletIDs (all wallets when empty)
// and returns the number queued. The result channel yields the tally once.
func (b *BalanceRefresher) Refresh(ctx context.Context, walletIDs []string) (int, <-chan batch.Result, error) {
	wallets, err := b.wallets.ListWallets(ctx, walletIDs)
	if err != nil {
		return 0, nil, err
	}
	b.bus.Log("info", "balance refresh queued", map[string]any{"wallets": len(wallets), "provider": b.provider.Name()})
	// The refresh outlives the request that started it.
	res := batch.Start(context.WithoutCancel(ctx), wallets, b.refreshOne, b.opts)
	return len(wallets), res, nil
}

func (b *BalanceRefresher) refreshOne(ctx context.Context, w model.Wallet) error {
	wei, err := b.provider.Balance(ctx, w.Address)
	if err != nil {
		b.bus.Log("warn", "balance lookup failed", map[string]any{"walletId": w.ID, "error": err.Error()})
		return err
	}
	return b.wallets.UpdateWalletBalance(ctx, w.ID, provider.FormatEther(wei), time.Now())
}
