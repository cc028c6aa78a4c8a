// Package executor opens and manages positions across every configured MT5
// account in parallel.
//
// The open path for one command:
//
//  1. resolve eligible accounts (active, source channel allowed)
//  2. per account: snapshot a reference price and gate on the entry range
//  3. size the lot (fixed or risk-based) and fall back to a default SL
//  4. submit with filling-mode fallback
//
// Each account runs inside its own timeout so one stuck terminal cannot
// hold the fan-out open, and each failure stays local to its account.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// Broker is the per-terminal trading surface the executor drives.
// Satisfied by *mt5.Client.
type Broker interface {
	SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error)
	SymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error)
	SymbolTick(ctx context.Context, symbol string) (*types.Tick, error)
	Positions(ctx context.Context, ticket int64) ([]types.Position, error)
	OrderSend(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
	AccountInfo(ctx context.Context) (*types.AccountInfo, error)
}

// Notifier pushes human-facing fill and failure messages. Best-effort.
type Notifier interface {
	Notify(account, message string)
}

// AccountOpen describes one filled per-account open.
type AccountOpen struct {
	Ticket int64
	Volume float64
	Price  float64
	SL     float64
	TPs    []float64
}

// OpenOutcome aggregates a multi-account open. An account appears in
// exactly one of the two maps.
type OpenOutcome struct {
	Opens  map[string]AccountOpen
	Errors map[string]string
}

// Entry-gate outcomes that mean "this account skipped the signal" rather
// than "the open failed".
var (
	errEntryRejected   = errors.New("price beyond entry band")
	errEntryNotReached = errors.New("entry not reached within wait budget")
)

func skipReason(err error) (string, bool) {
	switch {
	case errors.Is(err, errEntryRejected):
		return "outside_entry_band", true
	case errors.Is(err, errEntryNotReached):
		return "entry_not_reached", true
	}
	return "", false
}

// Executor fans trade commands out to the per-account brokers.
type Executor struct {
	cfg      config.ExecutorConfig
	accounts []types.Account
	clients  map[string]Broker
	events   chan<- types.TradeEvent
	notifier Notifier
	logger   *slog.Logger
}

// New builds an executor over an already-connected client map. events and
// notifier may be nil; emission is then skipped.
func New(cfg config.ExecutorConfig, accounts []types.Account, clients map[string]Broker, events chan<- types.TradeEvent, notifier Notifier, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		accounts: accounts,
		clients:  clients,
		events:   events,
		notifier: notifier,
		logger:   logger.With("component", "executor"),
	}
}

// OpenCompleteTrade opens cmd on every eligible account in parallel and
// reports the per-account outcomes. A total wipe-out is not an error at
// this level; callers inspect the outcome maps.
func (e *Executor) OpenCompleteTrade(ctx context.Context, cmd types.TradeCommand) *OpenOutcome {
	out := &OpenOutcome{
		Opens:  make(map[string]AccountOpen),
		Errors: make(map[string]string),
	}
	eligible := e.eligibleAccounts(cmd)
	if len(eligible) == 0 {
		e.logger.Warn("no eligible accounts for signal",
			"symbol", cmd.Symbol, "provider", cmd.ProviderTag, "channel", cmd.SourceChannel)
		return out
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, acc := range eligible {
		b, ok := e.clients[acc.Name]
		if !ok {
			mu.Lock()
			out.Errors[acc.Name] = "no client for account"
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(acc types.Account, b Broker) {
			defer wg.Done()
			open, err := e.openOnAccount(ctx, acc, b, cmd)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				out.Errors[acc.Name] = err.Error()
				e.reportOpenFailure(acc.Name, cmd, err)
				return
			}
			out.Opens[acc.Name] = open
			e.reportOpen(acc.Name, cmd, open)
		}(acc, b)
	}
	wg.Wait()
	return out
}

// eligibleAccounts filters the configured accounts for one command: active,
// allowed to trade the source channel, and named by the command when it
// carries an explicit account list.
func (e *Executor) eligibleAccounts(cmd types.TradeCommand) []types.Account {
	var out []types.Account
	for _, acc := range e.accounts {
		if !acc.Active {
			continue
		}
		if len(cmd.Accounts) > 0 && !containsName(cmd.Accounts, acc.Name) {
			continue
		}
		if !acc.AcceptsChannel(cmd.SourceChannel) {
			continue
		}
		out = append(out, acc)
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// openOnAccount runs the full single-account open flow. The account budget
// covers the broker calls; entry gating gets its own extra allowance when a
// range has to be waited on.
func (e *Executor) openOnAccount(parent context.Context, acc types.Account, b Broker, cmd types.TradeCommand) (AccountOpen, error) {
	budget := e.cfg.AccountTimeout
	if cmd.EntryRange != nil {
		budget += e.cfg.EntryWait
	}
	ctx, cancel := context.WithTimeout(parent, budget)
	defer cancel()

	ok, err := b.SymbolSelect(ctx, cmd.Symbol, true)
	if err != nil {
		return AccountOpen{}, fmt.Errorf("symbol_select: %w", err)
	}
	if !ok {
		return AccountOpen{}, fmt.Errorf("symbol %s not available", cmd.Symbol)
	}
	info, err := b.SymbolInfo(ctx, cmd.Symbol)
	if err != nil {
		return AccountOpen{}, fmt.Errorf("symbol_info: %w", err)
	}
	tick, err := b.SymbolTick(ctx, cmd.Symbol)
	if err != nil {
		return AccountOpen{}, fmt.Errorf("symbol_tick: %w", err)
	}

	price, err := e.awaitEntry(ctx, b, cmd, info, tick.PriceFor(cmd.Direction))
	if err != nil {
		return AccountOpen{}, err
	}

	sl := cmd.SL
	if sl == 0 {
		sl = DefaultSL(cmd.Symbol, cmd.Direction, price, info.Point, e.defaultSLPips(cmd.Symbol))
	}
	sl = ClampStops(cmd.Symbol, cmd.Direction, price, RoundPrice(cmd.Symbol, sl), info.StopsLevel, info.Point)

	lot, err := e.lotFor(ctx, b, acc, price, sl, info)
	if err != nil {
		return AccountOpen{}, err
	}

	req := types.OrderRequest{
		Action:    types.ActionDeal,
		Symbol:    cmd.Symbol,
		Volume:    lot,
		Type:      orderType(cmd.Direction),
		Price:     RoundPrice(cmd.Symbol, price),
		SL:        sl,
		Deviation: e.cfg.Deviation,
		Magic:     e.cfg.Magic,
		Comment:   SafeComment(e.cfg.CommentPrefix, cmd.ProviderTag),
	}
	res, err := e.sendWithFallback(ctx, b, acc.Name, info, req)
	if err != nil {
		return AccountOpen{}, err
	}
	if !types.RetcodeOK(res.Retcode) {
		return AccountOpen{}, fmt.Errorf("order rejected: retcode %d %s", res.Retcode, res.Comment)
	}

	fill := res.Price
	if fill == 0 {
		fill = req.Price
	}
	return AccountOpen{Ticket: res.Order, Volume: lot, Price: fill, SL: sl, TPs: cmd.TPs}, nil
}

// awaitEntry resolves the price to fire at. Signals without a range fire at
// the reference immediately. With a range, the admissible band is the range
// widened by the entry tolerance on the chasing side only; a reference
// already beyond the tolerance rejects the account, a reference short of
// the range polls the live tick until it enters the band or the wait budget
// expires.
func (e *Executor) awaitEntry(ctx context.Context, b Broker, cmd types.TradeCommand, info *types.SymbolInfo, ref float64) (float64, error) {
	if cmd.EntryRange == nil {
		if ref <= 0 {
			return 0, fmt.Errorf("no market price for %s", cmd.Symbol)
		}
		return ref, nil
	}

	tol := types.PipsToPrice(cmd.Symbol, e.cfg.EntryBandPips, info.Point)
	lo, hi := cmd.EntryRange.Lo, cmd.EntryRange.Hi
	inBand := func(p float64) bool { return p >= lo && p <= hi+tol }
	beyond := func(p float64) bool { return p > hi+tol }
	if cmd.Direction == types.SELL {
		inBand = func(p float64) bool { return p >= lo-tol && p <= hi }
		beyond = func(p float64) bool { return p < lo-tol }
	}

	if ref > 0 && inBand(ref) {
		return ref, nil
	}
	if ref > 0 && beyond(ref) {
		return 0, fmt.Errorf("%w: %s ref %.5f outside [%.5f, %.5f]", errEntryRejected, cmd.Direction, ref, lo, hi)
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.EntryWait)
	defer cancel()
	ticker := time.NewTicker(e.cfg.EntryPoll)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return 0, errEntryNotReached
		case <-ticker.C:
			tick, err := b.SymbolTick(waitCtx, cmd.Symbol)
			if err != nil {
				continue // transient tick failure, keep polling
			}
			if p := tick.PriceFor(cmd.Direction); p > 0 && inBand(p) {
				return p, nil
			}
		}
	}
}

// lotFor sizes the position: explicit fixed lot wins, then risk-based
// sizing from the account balance, then the broker minimum.
func (e *Executor) lotFor(ctx context.Context, b Broker, acc types.Account, price, sl float64, info *types.SymbolInfo) (float64, error) {
	if acc.FixedLot > 0 {
		return acc.FixedLot, nil
	}
	if acc.RiskPercent > 0 && sl > 0 {
		ai, err := b.AccountInfo(ctx)
		if err != nil {
			return 0, fmt.Errorf("account_info: %w", err)
		}
		return LotForRisk(ai.Balance, acc.RiskPercent, math.Abs(price-sl), info), nil
	}
	e.logger.Warn("no lot sizing configured, using broker minimum", "account", acc.Name)
	return info.VolumeMin, nil
}

func (e *Executor) defaultSLPips(symbol string) float64 {
	if strings.HasPrefix(strings.ToUpper(symbol), "XAU") {
		return e.cfg.DefaultSLXAUPips
	}
	return e.cfg.DefaultSLPips
}

func orderType(d types.Direction) int {
	if d == types.BUY {
		return 0
	}
	return 1
}

// OpenRunnerTrade opens a single follow-up position (reentry runner or
// addon) on one account. The caller has already sized the volume; it is
// only floored to the broker step and clamped to the minimum here.
func (e *Executor) OpenRunnerTrade(ctx context.Context, account, symbol string, direction types.Direction, volume, sl, tp float64, providerTag string) (*AccountOpen, error) {
	b, err := e.client(account)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	info, err := b.SymbolInfo(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol_info: %w", err)
	}
	tick, err := b.SymbolTick(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol_tick: %w", err)
	}
	price := tick.PriceFor(direction)
	if price <= 0 {
		return nil, fmt.Errorf("no market price for %s", symbol)
	}

	lot := FloorToStep(volume, info.VolumeStep)
	if lot < info.VolumeMin {
		lot = info.VolumeMin
	}
	if sl > 0 {
		sl = ClampStops(symbol, direction, price, RoundPrice(symbol, sl), info.StopsLevel, info.Point)
	}

	req := types.OrderRequest{
		Action:    types.ActionDeal,
		Symbol:    symbol,
		Volume:    lot,
		Type:      orderType(direction),
		Price:     RoundPrice(symbol, price),
		SL:        sl,
		TP:        RoundPrice(symbol, tp),
		Deviation: e.cfg.Deviation,
		Magic:     e.cfg.Magic,
		Comment:   SafeComment(e.cfg.CommentPrefix, providerTag),
	}
	res, err := e.sendWithFallback(ctx, b, account, info, req)
	if err != nil {
		return nil, err
	}
	if !types.RetcodeOK(res.Retcode) {
		return nil, fmt.Errorf("runner rejected: retcode %d %s", res.Retcode, res.Comment)
	}
	fill := res.Price
	if fill == 0 {
		fill = req.Price
	}
	open := &AccountOpen{Ticket: res.Order, Volume: lot, Price: fill, SL: sl}
	if tp > 0 {
		open.TPs = []float64{tp}
	}
	e.logger.Info("runner opened",
		"account", account, "symbol", symbol, "direction", direction,
		"ticket", open.Ticket, "volume", lot, "sl", sl, "tp", tp)
	return open, nil
}

// ModifySL moves the stop of one open position, clamping against the
// broker's minimum stop distance, and verifies by re-reading the position.
// A verified move returns true; a rejected or unconfirmed move returns
// false with the cause. Event emission is the caller's job, since only the
// caller knows whether this was trailing, break-even, or an upgrade.
func (e *Executor) ModifySL(ctx context.Context, account string, ticket int64, newSL float64, reason, providerTag string) (bool, error) {
	b, err := e.client(account)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	pos, err := e.position(ctx, b, account, ticket)
	if err != nil {
		return false, err
	}
	info, err := b.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("symbol_info: %w", err)
	}

	want := ClampStops(pos.Symbol, pos.Direction(), pos.PriceCurrent, RoundPrice(pos.Symbol, newSL), info.StopsLevel, info.Point)
	req := types.OrderRequest{
		Action:   types.ActionSLTP,
		Symbol:   pos.Symbol,
		Position: ticket,
		SL:       want,
		TP:       pos.TP,
		Magic:    e.cfg.Magic,
		Comment:  SafeComment(providerTag, "SLUPD", reason),
	}
	res, err := b.OrderSend(ctx, req)
	if err != nil {
		return false, fmt.Errorf("order_send: %w", err)
	}
	if !types.RetcodeOK(res.Retcode) {
		return false, fmt.Errorf("sl modify rejected: retcode %d %s", res.Retcode, res.Comment)
	}

	after, err := e.position(ctx, b, account, ticket)
	if err != nil {
		return false, fmt.Errorf("sl verify: %w", err)
	}
	tol := types.PipSize(pos.Symbol, info.Point)
	if math.Abs(after.SL-want) > tol {
		return false, fmt.Errorf("sl verify: position shows %.5f, wanted %.5f", after.SL, want)
	}
	e.logger.Info("sl modified",
		"account", account, "ticket", ticket, "symbol", pos.Symbol,
		"sl", want, "reason", reason)
	return true, nil
}

// PartialClose closes percent of one position with a counter-order at the
// current tick. The requested percent is adjusted to broker volume rules
// (and can promote to a full close when the residual would be unsellable);
// the realised closed volume is returned.
func (e *Executor) PartialClose(ctx context.Context, account string, ticket int64, percent float64) (float64, error) {
	b, err := e.client(account)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	pos, err := e.position(ctx, b, account, ticket)
	if err != nil {
		return 0, err
	}
	info, err := b.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return 0, fmt.Errorf("symbol_info: %w", err)
	}
	closeVol := PartialVolume(pos.Volume, percent, info.VolumeStep, info.VolumeMin)
	if closeVol <= 0 {
		return 0, fmt.Errorf("nothing to close: volume %v at %v%%", pos.Volume, percent)
	}

	res, err := e.closeVolume(ctx, b, account, pos, info, closeVol, SafeComment(e.cfg.CommentPrefix, "PART"))
	if err != nil {
		return 0, err
	}

	realised := closeVol / pos.Volume * 100
	e.emit(types.TradeEvent{
		Type:      types.EventPartialClose,
		Account:   account,
		Ticket:    ticket,
		Symbol:    pos.Symbol,
		Direction: pos.Direction(),
		Price:     res.Price,
		Volume:    closeVol,
		Percent:   realised,
	})
	return closeVol, nil
}

// EarlyPartialClose closes fraction (0..1) of a position and then moves the
// SL to break-even covering the spread. Unlike PartialClose it refuses to
// touch positions too small to keep a sellable residual: an early risk-off
// must never flatten the trade.
func (e *Executor) EarlyPartialClose(ctx context.Context, account string, ticket int64, fraction float64, providerTag, reason string) (bool, error) {
	b, err := e.client(account)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	pos, err := e.position(ctx, b, account, ticket)
	if err != nil {
		return false, err
	}
	info, err := b.SymbolInfo(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("symbol_info: %w", err)
	}

	closeVol := FloorToStep(pos.Volume*fraction, info.VolumeStep)
	if closeVol < info.VolumeMin {
		// Small fixed lots (0.02, 0.03) floor to zero steps here; round the
		// raw fraction up to the next step instead of giving up on risk-off.
		closeVol = CeilToStep(pos.Volume*fraction, info.VolumeStep)
		if closeVol < info.VolumeMin {
			closeVol = info.VolumeMin
		}
	}
	if closeVol >= pos.Volume {
		return false, fmt.Errorf("volume %v cannot split %.0f%% early", pos.Volume, fraction*100)
	}

	res, err := e.closeVolume(ctx, b, account, pos, info, closeVol, SafeComment(providerTag, "PARTBE", reason))
	if err != nil {
		return false, err
	}
	e.emit(types.TradeEvent{
		Type:        types.EventPartialClose,
		Account:     account,
		Ticket:      ticket,
		Symbol:      pos.Symbol,
		Direction:   pos.Direction(),
		ProviderTag: providerTag,
		Reason:      reason,
		Price:       res.Price,
		Volume:      closeVol,
		Percent:     closeVol / pos.Volume * 100,
	})

	tick, err := b.SymbolTick(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("symbol_tick: %w", err)
	}
	be := BEPrice(pos.Symbol, pos.Direction(), pos.PriceOpen, tick.Spread(), 0, info.Point)
	ok, err := e.ModifySL(ctx, account, ticket, be, reason, providerTag)
	if err != nil {
		return false, fmt.Errorf("be after partial: %w", err)
	}
	if ok {
		e.emit(types.TradeEvent{
			Type:        types.EventBreakEven,
			Account:     account,
			Ticket:      ticket,
			Symbol:      pos.Symbol,
			Direction:   pos.Direction(),
			ProviderTag: providerTag,
			Reason:      reason,
			SL:          be,
		})
	}
	return ok, nil
}

// closeVolume submits the counter-order that closes closeVol of pos at the
// current opposite-side tick, walking filling modes like an open.
func (e *Executor) closeVolume(ctx context.Context, b Broker, account string, pos *types.Position, info *types.SymbolInfo, closeVol float64, comment string) (*types.OrderResult, error) {
	tick, err := b.SymbolTick(ctx, pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("symbol_tick: %w", err)
	}
	counter := pos.Direction().Opposite()
	req := types.OrderRequest{
		Action:    types.ActionDeal,
		Symbol:    pos.Symbol,
		Volume:    closeVol,
		Type:      orderType(counter),
		Price:     RoundPrice(pos.Symbol, tick.PriceFor(counter)),
		Position:  pos.Ticket,
		Deviation: e.cfg.Deviation,
		Magic:     e.cfg.Magic,
		Comment:   comment,
	}
	res, err := e.sendWithFallback(ctx, b, account, info, req)
	if err != nil {
		return nil, err
	}
	if !types.RetcodeOK(res.Retcode) {
		return nil, fmt.Errorf("close rejected: retcode %d %s", res.Retcode, res.Comment)
	}
	return res, nil
}

// position reads one position by ticket.
func (e *Executor) position(ctx context.Context, b Broker, account string, ticket int64) (*types.Position, error) {
	positions, err := b.Positions(ctx, ticket)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("ticket %d not found on %s", ticket, account)
	}
	return &positions[0], nil
}

func (e *Executor) client(account string) (Broker, error) {
	b, ok := e.clients[account]
	if !ok {
		return nil, fmt.Errorf("no client for account %q", account)
	}
	return b, nil
}

func (e *Executor) reportOpen(account string, cmd types.TradeCommand, open AccountOpen) {
	e.logger.Info("order opened",
		"account", account, "symbol", cmd.Symbol, "direction", cmd.Direction,
		"ticket", open.Ticket, "volume", open.Volume, "price", open.Price,
		"sl", open.SL, "provider", cmd.ProviderTag, "trace", cmd.SignalID)
	e.emit(types.TradeEvent{
		Type:        types.EventOpened,
		Account:     account,
		Ticket:      open.Ticket,
		Symbol:      cmd.Symbol,
		Direction:   cmd.Direction,
		ProviderTag: cmd.ProviderTag,
		Price:       open.Price,
		Volume:      open.Volume,
		SL:          open.SL,
		TraceID:     cmd.SignalID,
	})
	e.notify(account, fmt.Sprintf("✅ %s %s %s %.2f @ %.2f (ticket %d)",
		account, cmd.Symbol, cmd.Direction, open.Volume, open.Price, open.Ticket))
}

func (e *Executor) reportOpenFailure(account string, cmd types.TradeCommand, err error) {
	kind := types.EventOpenFailed
	reason := err.Error()
	if r, skipped := skipReason(err); skipped {
		kind = types.EventSkipped
		reason = r
		e.logger.Info("signal skipped",
			"account", account, "symbol", cmd.Symbol, "reason", r, "trace", cmd.SignalID)
	} else {
		e.logger.Error("open failed",
			"account", account, "symbol", cmd.Symbol, "error", err, "trace", cmd.SignalID)
		e.notify(account, fmt.Sprintf("❌ %s %s %s failed: %v", account, cmd.Symbol, cmd.Direction, err))
	}
	e.emit(types.TradeEvent{
		Type:        kind,
		Account:     account,
		Symbol:      cmd.Symbol,
		Direction:   cmd.Direction,
		ProviderTag: cmd.ProviderTag,
		Reason:      reason,
		TraceID:     cmd.SignalID,
	})
}

// emit publishes a trade event without ever blocking the trading path.
func (e *Executor) emit(ev types.TradeEvent) {
	if e.events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	select {
	case e.events <- ev:
	default:
		e.logger.Warn("event channel full, dropping", "type", ev.Type, "account", ev.Account)
	}
}

func (e *Executor) notify(account, message string) {
	if e.notifier != nil {
		e.notifier.Notify(account, message)
	}
}
