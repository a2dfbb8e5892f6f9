package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farm_engine/internal/browser"
	"farm_engine/internal/config"
	"farm_engine/internal/engine"
	"farm_engine/internal/exception"
	"farm_engine/internal/httpapi"
	"farm_engine/internal/logbus"
	"farm_engine/internal/notify"
	"farm_engine/internal/provider"
	"farm_engine/internal/provider/evm"
	"farm_engine/internal/provider/proxycheck"
	"farm_engine/internal/script"
	"farm_engine/internal/seed"
	"farm_engine/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	seedPath := flag.String("seed", "", "optional yaml file with accounts and tasks to upsert on startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logbus.NewLogger(cfg.Log.Level, cfg.Log.Format)
	bus := logbus.New(cfg.Log.BufferSize, logger)
	defer bus.Close()
	bus.Log("info", "server starting", map[string]any{"addr": cfg.Server.Addr})

	ctx := context.Background()
	store, err := sqlite.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		logger.Fatalf("open sqlite: %v", err)
	}
	defer store.Close()

	if cfg.Task.ShouldSweepOrphans() {
		records, tasks, err := store.SweepOrphans(ctx, exception.CodeExecutionFailed, "interrupted by restart")
		if err != nil {
			logger.Fatalf("sweep orphans: %v", err)
		}
		if records > 0 || tasks > 0 {
			bus.Log("warn", "swept orphaned executions", map[string]any{"records": records, "tasks": tasks})
		}
	}

	if *seedPath != "" {
		f, err := seed.Load(*seedPath)
		if err != nil {
			logger.Fatalf("load seed: %v", err)
		}
		accounts, tasks, err := seed.Apply(ctx, store, f)
		if err != nil {
			logger.Fatalf("apply seed: %v", err)
		}
		bus.Log("info", "seed applied", map[string]any{"accounts": accounts, "tasks": tasks})
	}

	scripts, err := script.NewDefaultRegistry(cfg.Scripts, bus)
	if err != nil {
		logger.Fatalf("scripts: %v", err)
	}

	pool := browser.NewPool(cfg.Browser, cfg.Proxy.Global, bus)
	defer pool.Close()

	var checker provider.ProxyChecker
	if pc := proxycheck.New(cfg.Proxy, bus); pc.Enabled() {
		defer pc.Close()
		checker = pc
	}

	var balances provider.BalanceProvider
	if cfg.Chain.RPCURL != "" {
		client := evm.New(cfg.Chain, bus)
		defer client.Close()
		balances = client
	}

	var notifier notify.Notifier
	var mailer *notify.EmailNotifier
	if cfg.Notify.Email.Enabled {
		mailer, err = notify.NewEmailNotifier(cfg.Notify.Email, bus)
		if err != nil {
			logger.Fatalf("email notifier: %v", err)
		}
		notifier = mailer
	}

	eng := engine.New(engine.Options{
		Store:        store,
		Allocator:    pool,
		Scripts:      scripts,
		ProxyChecker: checker,
		Balances:     balances,
		Bus:          bus,
		Limits:       cfg.Limits,
		Task:         cfg.Task,
		Notifier:     notifier,
		Headless:     cfg.Browser.IsHeadless(),
	})

	api := httpapi.New(httpapi.Options{
		Cfg:    cfg,
		Bus:    bus,
		Engine: eng,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), cfg.Task.StopTimeout())
	if err := eng.StopAll(stopCtx); err != nil {
		bus.Log("warn", "tasks did not stop in time", map[string]any{"error": err.Error()})
	}
	cancelStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if mailer != nil {
		_ = mailer.Close(shutdownCtx)
	}
	bus.Log("info", "server stopped", nil)
}
