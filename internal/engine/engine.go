// Package engine runs tasks: a worker pool per task feeding accounts through
// the execution pipeline, plus bulk balance refresh.
package engine

import (
	"context"

	"farm_engine/internal/batch"
	"farm_engine/internal/browser"
	"farm_engine/internal/config"
	"farm_engine/internal/logbus"
	"farm_engine/internal/model"
	"farm_engine/internal/notify"
	"farm_engine/internal/provider"
)

// Store is everything the engine persists through.
type Store interface {
	RecordStore
	WalletStore
}

type Options struct {
	Store        Store
	Allocator    browser.Allocator
	Scripts      ScriptResolver
	ProxyChecker provider.ProxyChecker
	Balances     provider.BalanceProvider
	Bus          *logbus.Bus
	Limits       config.LimitsConfig
	Task         config.TaskConfig
	Notifier     notify.Notifier
	Headless     bool
}

type Engine struct {
	store    Store
	runner   *Runner
	balances *BalanceRefresher
	bus      *logbus.Bus
}

func New(opts Options) *Engine {
	pipeline := NewPipeline(PipelineOptions{
		Store:        opts.Store,
		Allocator:    opts.Allocator,
		Scripts:      opts.Scripts,
		ProxyChecker: opts.ProxyChecker,
		Bus:          opts.Bus,
	})
	e := &Engine{
		store: opts.Store,
		bus:   opts.Bus,
		runner: NewRunner(RunnerOptions{
			Store:    opts.Store,
			Pipeline: pipeline,
			Bus:      opts.Bus,
			Notifier: opts.Notifier,
			Task:     opts.Task,
			Limits:   opts.Limits,
			Headless: opts.Headless,
		}),
	}
	if opts.Balances != nil {
		e.balances = NewBalanceRefresher(opts.Store, opts.Balances, opts.Limits, opts.Bus)
	}
	return e
}

func (e *Engine) Start(ctx context.Context, req StartRequest) (model.TaskState, error) {
	return e.runner.Start(ctx, req)
}

func (e *Engine) Stop(ctx context.Context, taskID string) (model.TaskState, error) {
	return e.runner.Stop(ctx, taskID)
}

func (e *Engine) StopAll(ctx context.Context) error {
	err := e.runner.StopAll(ctx)
	if err == nil {
		e.bus.Log("info", "engine stopped", nil)
	}
	return err
}

func (e *Engine) Wait(ctx context.Context, taskID string) (model.TaskState, error) {
	return e.runner.Wait(ctx, taskID)
}

func (e *Engine) State(taskID string) (model.TaskState, bool) {
	return e.runner.State(taskID)
}

func (e *Engine) States() model.EngineState {
	return e.runner.States()
}

func (e *Engine) Records(ctx context.Context, taskID string) ([]model.ExecutionRecord, error) {
	return e.store.ListRecords(ctx, taskID)
}

func (e *Engine) Record(ctx context.Context, id string) (model.ExecutionRecord, error) {
	return e.store.GetRecord(ctx, id)
}

// RefreshBalances is non-blocking; the tally is logged when the batch ends.
func (e *Engine) RefreshBalances(ctx context.Context, walletIDs []string) (int, <-chan batch.Result, error) {
	if e.balances == nil {
		return 0, nil, ErrNoBalanceProvider
	}
	return e.balances.Refresh(ctx, walletIDs)
}
