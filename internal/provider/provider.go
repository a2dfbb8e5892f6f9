// Package provider defines the external lookups the engine depends on.
package provider

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/params"

	"farm_engine/internal/model"
)

// BalanceProvider reads the native balance of an address.
type BalanceProvider interface {
	Name() string
	Balance(ctx context.Context, address string) (*big.Int, error)
}

type ProxyCheckResult struct {
	ExitIP    string `json:"exitIp,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}

// ProxyChecker verifies a proxy can reach the outside world. Failures are
// *exception.Error values from the proxy family.
type ProxyChecker interface {
	Check(ctx context.Context, p *model.Proxy) (ProxyCheckResult, error)
}

// FormatEther renders wei in ether with six decimals.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.000000"
	}
	return new(big.Rat).SetFrac(wei, big.NewInt(params.Ether)).FloatString(6)
}
