package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"signal-core/internal/api"
	"signal-core/internal/engine"
	"signal-core/internal/events"
	"signal-core/internal/journal"
	"signal-core/internal/logger"
	"signal-core/internal/monitor"
	"signal-core/internal/state"
	"signal-core/internal/stream"
	"signal-core/pkg/binance/futures"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	log.WithFields(map[string]any{
		"testnet": cfg.BinanceTestnet, "port": cfg.Port,
	}).Info("signal-core starting")

	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET are required")
	}

	overrides, err := config.LoadSymbolOverrides(cfg.SymbolsFile)
	if err != nil {
		log.WithError(err).Fatal("symbol overrides load failed")
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("database open failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.WithError(err).Fatal("database migrations failed")
	}

	client := futures.NewClient(futures.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	}, log)

	bus := events.NewBus()
	store := state.NewStore()
	eng := engine.New(client, store, bus, log, engine.Config{
		DefaultStopLossPercent:    cfg.DefaultStopLossPercent,
		DefaultTakeProfitPercent:  cfg.DefaultTakeProfitPercent,
		TrailingStopPercent:       cfg.TrailingStopPercent,
		TrailingActivationPercent: cfg.TrailingActivationPercent,
		ExitDedupWindow:           cfg.ExitDedupWindow,
		SymbolOverrides:           overrides,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover open positions before any signal can arrive.
	syncCtx, cancelSync := context.WithTimeout(ctx, 30*time.Second)
	if err := eng.SyncPositions(syncCtx); err != nil {
		log.WithError(err).Warn("position sync failed, starting with empty state")
	}
	cancelSync()

	supervisor := stream.NewSupervisor(client, log, stream.Config{
		RenewalInterval: cfg.ListenKeyRenewalInterval,
		BackoffCap:      cfg.ReconnectBackoffCap,
	})
	recorder := journal.NewRecorder(database, bus, store, log)
	statusMon := monitor.New(store, bus, log, time.Minute)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	run(func() { supervisor.Run(ctx) })
	run(func() { eng.Run(ctx, supervisor.Events()) })
	run(func() { eng.RunTrailing(ctx, cfg.TrailingPollInterval) })
	run(func() { recorder.Run(ctx) })
	run(func() { statusMon.Run(ctx) })

	server := api.NewServer(eng, store, database, log)
	httpSrv := server.HTTPServer(":" + cfg.Port)
	run(func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
			stop()
		}
	})
	log.WithFields(map[string]any{"addr": httpSrv.Addr}).Info("webhook listener up")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown failed")
	}
	eng.WaitIdle()
	bus.Close()
	wg.Wait()
	log.Info("stopped")
}
