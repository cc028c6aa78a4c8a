// Copy Trader — a multi-account MT5 signal-copying pipeline driven by Redis
// streams.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires router → translator → executor → manager over Redis streams
//	router/router.go     — classifies raw provider messages (management vs signal), dedupes, publishes
//	router/translator.go — gates signals on NY trading windows, emits trade commands
//	parser/              — per-provider signal and management-text parsers
//	executor/executor.go — fans each open out to every eligible MT5 account in parallel
//	manager/             — per-account position supervision: TP ladder, break-even, trailing,
//	                       reentry runners, add-ons, ToroFX scaling, management orders
//	mt5/                 — JSON-RPC client for the per-account MT5 bridge terminals
//	notify/notify.go     — best-effort human notifications via the external notify API
//	ops/                 — read-only health/snapshot/WebSocket operational surface
//
// How copies happen:
//
//	Provider messages land on a Redis stream. The router parses them into
//	normalized signals, the translator turns signals into open commands, and
//	the executor opens the position on every account allowed to follow that
//	channel. From then on the manager supervises each position according to
//	the account's trading mode until it is fully closed.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/internal/engine"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Create and start engine
	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("copy trader started",
		"accounts", len(cfg.ActiveAccounts()),
		"channels", len(cfg.Channels),
		"windows", cfg.TradingWindows,
		"ops_enabled", cfg.Ops.Enabled,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
