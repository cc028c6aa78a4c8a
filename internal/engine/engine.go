// Package engine is the central orchestrator of the copy-trading pipeline.
//
// It wires together all subsystems:
//
//  1. Router consumes raw provider messages, classifies management text,
//     parses signals, dedupes, and publishes parsed signals.
//  2. Translator gates signals on the trading windows and turns them into
//     trade commands.
//  3. Executor fans each open command out to every eligible MT5 account in
//     parallel.
//  4. Manager supervises every open position per account: TP ladder,
//     break-even, trailing, reentry, add-ons, scaling, management orders.
//  5. Trade events flow to a Redis stream, the notifier, and the ops tap.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/yalvarez/trading-platform/internal/bus"
	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/internal/dedup"
	"github.com/yalvarez/trading-platform/internal/executor"
	"github.com/yalvarez/trading-platform/internal/manager"
	"github.com/yalvarez/trading-platform/internal/mt5"
	"github.com/yalvarez/trading-platform/internal/notify"
	"github.com/yalvarez/trading-platform/internal/ops"
	"github.com/yalvarez/trading-platform/internal/parser"
	"github.com/yalvarez/trading-platform/internal/router"
	"github.com/yalvarez/trading-platform/internal/window"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// Engine owns the lifecycle of every pipeline stage and the goroutines
// that consume the Redis streams connecting them.
type Engine struct {
	cfg      config.Config
	bus      *bus.Bus
	pool     *mt5.Pool
	router   *router.Router
	trans    *router.Translator
	executor *executor.Executor
	manager  *manager.Manager
	notifier *notify.Notifier
	ops      *ops.Server
	events   chan types.TradeEvent
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and wires all engine components.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rdb, err := bus.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		cancel()
		return nil, err
	}
	b := bus.New(rdb, logger)

	sched, err := window.New(cfg.TradingWindows)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("trading windows: %w", err)
	}

	accounts := cfg.ActiveAccounts()
	pool := mt5.NewPool(accounts, cfg.Executor.RequestTimeout, logger)

	execClients := make(map[string]executor.Broker, len(accounts))
	mgrClients := make(map[string]manager.Broker, len(accounts))
	for _, acc := range accounts {
		client, err := pool.Client(acc.Name)
		if err != nil {
			cancel()
			return nil, err
		}
		execClients[acc.Name] = client
		mgrClients[acc.Name] = client
	}

	events := make(chan types.TradeEvent, 256)
	notifier := notify.New(cfg.Notifier, accounts, logger)

	exec := executor.New(cfg.Executor, accounts, execClients, events, notifier, logger)

	registry := manager.NewRegistry()
	mgr := manager.New(cfg.Manager, cfg.Executor.Magic, accounts, mgrClients, exec, registry, events, notifier, logger)

	deduper := dedup.New(rdb, cfg.Router.DedupTTL)
	fast := dedup.NewFastTracker(rdb, cfg.Router.FastUpdateWindow)
	parsers := parser.NewRegistry(cfg.Channels, logger)
	rtr := router.New(parsers, b, deduper, fast, logger)
	trans := router.NewTranslator(b, sched, events, logger)

	e := &Engine{
		cfg:      cfg,
		bus:      b,
		pool:     pool,
		router:   rtr,
		trans:    trans,
		executor: exec,
		manager:  mgr,
		notifier: notifier,
		events:   events,
		logger:   logger.With("component", "engine"),
		ctx:      ctx,
		cancel:   cancel,
	}

	if cfg.Ops.Enabled {
		e.ops = ops.NewServer(cfg.Ops, mgr, logger)
	}

	return e, nil
}

// Start launches every consumer and supervision loop. Non-blocking.
func (e *Engine) Start() error {
	e.pool.Check(e.ctx)

	consumer := fmt.Sprintf("consumer_%d", os.Getpid())

	e.consume(bus.StreamRaw, bus.GroupRouter, consumer, e.router.HandleRaw)
	e.consume(bus.StreamSignals, bus.GroupTranslator, consumer, e.trans.HandleSignal)
	e.consume(bus.StreamCommands, bus.GroupExecutor, consumer, e.handleCommand)
	e.consume(bus.StreamMgmt, bus.GroupMgmt, consumer, e.manager.HandleManagement)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.manager.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.notifier.Run(e.ctx)
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pumpEvents()
	}()

	if e.ops != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.ops.Start(); err != nil {
				e.logger.Error("ops server error", "error", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.bus.Tail(e.ctx, bus.StreamEvents, e.tapEvent); err != nil && e.ctx.Err() == nil {
				e.logger.Error("event tail error", "error", err)
			}
		}()
	}

	e.logger.Info("engine started",
		"accounts", len(e.cfg.ActiveAccounts()),
		"channels", len(e.cfg.Channels),
		"consumer", consumer,
	)
	return nil
}

// Stop cancels every goroutine and waits for them to drain.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.cancel()
	if e.ops != nil {
		if err := e.ops.Stop(); err != nil {
			e.logger.Error("ops server shutdown", "error", err)
		}
	}
	e.wg.Wait()

	e.logger.Info("shutdown complete")
}

// consume starts one stream consumer goroutine.
func (e *Engine) consume(stream, group, consumer string, handler bus.Handler) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.bus.Consume(e.ctx, stream, group, consumer, handler); err != nil && e.ctx.Err() == nil {
			e.logger.Error("consumer stopped", "stream", stream, "error", err)
		}
	}()
}

// handleCommand decodes a trade command envelope and dispatches it.
func (e *Engine) handleCommand(ctx context.Context, msg bus.Message) error {
	raw := msg.Str("data")
	if raw == "" {
		return nil
	}

	var cmd types.TradeCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		e.logger.Error("bad trade command", "error", err)
		return nil
	}

	log := e.logger.With("trace", cmd.SignalID, "type", string(cmd.Type), "symbol", cmd.Symbol)

	switch cmd.Type {
	case types.CmdOpen:
		e.handleOpen(ctx, log, cmd)

	case types.CmdClose:
		for _, account := range cmd.Accounts {
			if _, err := e.executor.PartialClose(ctx, account, cmd.Ticket, 100); err != nil {
				log.Error("close failed", "account", account, "error", err)
			}
		}

	case types.CmdPartialClose:
		for _, account := range cmd.Accounts {
			if _, err := e.executor.PartialClose(ctx, account, cmd.Ticket, cmd.Volume); err != nil {
				log.Error("partial close failed", "account", account, "error", err)
			}
		}

	case types.CmdModifySL, types.CmdBreakEven, types.CmdTrailing:
		for _, account := range cmd.Accounts {
			if _, err := e.executor.ModifySL(ctx, account, cmd.Ticket, cmd.SL, string(cmd.Type), cmd.ProviderTag); err != nil {
				log.Error("modify sl failed", "account", account, "error", err)
			}
		}

	case types.CmdAddon:
		for _, account := range cmd.Accounts {
			open, err := e.executor.OpenRunnerTrade(ctx, account, cmd.Symbol, cmd.Direction, cmd.Volume, cmd.SL, firstTP(cmd.TPs), cmd.ProviderTag)
			if err != nil {
				log.Error("addon open failed", "account", account, "error", err)
				continue
			}
			e.manager.Register(manager.Registration{
				Account:       account,
				Ticket:        open.Ticket,
				Symbol:        cmd.Symbol,
				Direction:     cmd.Direction,
				ProviderTag:   cmd.ProviderTag,
				TPs:           cmd.TPs,
				PlannedSL:     open.SL,
				EntryPrice:    open.Price,
				InitialVolume: open.Volume,
			})
		}

	default:
		log.Warn("unknown command type")
	}

	return nil
}

// handleOpen routes an open command. A fast upgrade that matched live fast
// positions is finished there; otherwise it falls through to a normal open.
func (e *Engine) handleOpen(ctx context.Context, log *slog.Logger, cmd types.TradeCommand) {
	if cmd.Upgrade {
		if n := e.manager.UpgradeFast(ctx, cmd.Symbol, cmd.Direction, cmd.SL, cmd.TPs, cmd.ProviderTag); n > 0 {
			log.Info("fast positions upgraded", "count", n)
			return
		}
		log.Info("no fast positions to upgrade, opening normally")
	}

	outcome := e.executor.OpenCompleteTrade(ctx, cmd)
	if outcome == nil {
		return
	}

	for account, open := range outcome.Opens {
		e.manager.Register(manager.Registration{
			Account:       account,
			Ticket:        open.Ticket,
			Symbol:        cmd.Symbol,
			Direction:     cmd.Direction,
			ProviderTag:   cmd.ProviderTag,
			TPs:           open.TPs,
			PlannedSL:     open.SL,
			Fast:          cmd.Fast,
			EntryPrice:    open.Price,
			InitialVolume: open.Volume,
		})
	}
	for account, reason := range outcome.Errors {
		log.Warn("account did not open", "account", account, "reason", reason)
	}
}

// pumpEvents publishes every pipeline trade event to the event stream.
func (e *Engine) pumpEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev := <-e.events:
			data, err := json.Marshal(ev)
			if err != nil {
				e.logger.Error("marshal trade event", "error", err)
				continue
			}
			if _, err := e.bus.PublishData(e.ctx, bus.StreamEvents, data); err != nil && e.ctx.Err() == nil {
				e.logger.Error("publish trade event", "error", err)
			}
		}
	}
}

// tapEvent forwards published trade events to the ops WebSocket clients.
func (e *Engine) tapEvent(ctx context.Context, msg bus.Message) error {
	raw := msg.Str("data")
	if raw == "" {
		return nil
	}

	var ev types.TradeEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return nil
	}

	e.ops.Broadcast(ev)
	return nil
}

func firstTP(tps []float64) float64 {
	if len(tps) == 0 {
		return 0
	}
	return tps[0]
}
