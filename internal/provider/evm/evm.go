package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"farm_engine/internal/config"
	"farm_engine/internal/exception"
	"farm_engine/internal/logbus"
)

// Client looks up balances over JSON-RPC. The connection is dialed on first use.
type Client struct {
	cfg config.ChainConfig
	bus *logbus.Bus

	mu     sync.Mutex
	client *ethclient.Client
}

func New(cfg config.ChainConfig, bus *logbus.Bus) *Client {
	return &Client{cfg: cfg, bus: bus}
}

func (c *Client) Name() string { return "evm" }

func (c *Client) conn(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if strings.TrimSpace(c.cfg.RPCURL) == "" {
		return nil, exception.WalletConnectionFailed().WithMessage("chain rpc url not configured")
	}
	cl, err := ethclient.DialContext(ctx, c.cfg.RPCURL)
	if err != nil {
		return nil, exception.WalletConnectionFailed().Wrap(err)
	}
	c.client = cl
	return cl, nil
}

func (c *Client) Balance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, exception.WalletInvalidAddress().WithDetail("address", address)
	}
	cl, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	wei, err := cl.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, exception.Timeout().WithDetail("address", address).Wrap(err)
		}
		return nil, exception.WalletConnectionFailed().WithDetail("address", address).Wrap(err)
	}
	c.bus.Log("debug", "balance fetched", map[string]any{"address": address, "wei": wei.String()})
	return wei, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		c.client.Close()
		c.client = nil
	}
}
