package manager

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/internal/executor"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// Broker is the read-only slice of the MT5 bridge the manager needs.
// Orders always go through the Trader, never directly.
type Broker interface {
	SymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error)
	SymbolTick(ctx context.Context, symbol string) (*types.Tick, error)
	Positions(ctx context.Context, ticket int64) ([]types.Position, error)
}

// Trader executes position changes. Satisfied by *executor.Executor.
type Trader interface {
	PartialClose(ctx context.Context, account string, ticket int64, percent float64) (float64, error)
	EarlyPartialClose(ctx context.Context, account string, ticket int64, fraction float64, providerTag, reason string) (bool, error)
	ModifySL(ctx context.Context, account string, ticket int64, newSL float64, reason, providerTag string) (bool, error)
	OpenRunnerTrade(ctx context.Context, account, symbol string, direction types.Direction, volume, sl, tp float64, providerTag string) (*executor.AccountOpen, error)
}

// Notifier delivers best-effort human notifications.
type Notifier interface {
	Notify(account, message string)
}

// MomentumFilter vetoes a late reentry runner: called when the runner
// attempt falls outside the grace window after TP1. Returning false skips
// the runner.
type MomentumFilter func(symbol string, direction types.Direction) bool

// Manager runs one supervision loop per account.
type Manager struct {
	cfg      config.ManagerConfig
	magic    int64
	accounts []types.Account
	brokers  map[string]Broker
	trader   Trader
	registry *Registry
	events   chan<- types.TradeEvent
	notifier Notifier
	momentum MomentumFilter
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg config.ManagerConfig, magic int64, accounts []types.Account, brokers map[string]Broker, trader Trader, reg *Registry, events chan<- types.TradeEvent, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		magic:    magic,
		accounts: accounts,
		brokers:  brokers,
		trader:   trader,
		registry: reg,
		events:   events,
		notifier: notifier,
		logger:   logger.With("component", "manager"),
		now:      time.Now,
	}
}

// SetMomentumFilter installs the late-reentry veto. Optional.
func (m *Manager) SetMomentumFilter(f MomentumFilter) { m.momentum = f }

// Registration is the handoff from the executor after an open.
type Registration struct {
	Account       string
	Ticket        int64
	Symbol        string
	Direction     types.Direction
	ProviderTag   string
	GroupID       int64
	TPs           []float64
	PlannedSL     float64
	Fast          bool
	EntryPrice    float64
	InitialVolume float64
}

// Register places a freshly opened trade under supervision.
func (m *Manager) Register(r Registration) {
	t := &ManagedTrade{
		Account:       r.Account,
		Ticket:        r.Ticket,
		Symbol:        r.Symbol,
		Direction:     r.Direction,
		ProviderTag:   r.ProviderTag,
		GroupID:       r.GroupID,
		TPs:           append([]float64(nil), r.TPs...),
		PlannedSL:     r.PlannedSL,
		Fast:          r.Fast,
		EntryPrice:    r.EntryPrice,
		InitialVolume: r.InitialVolume,
		OpenedAt:      m.now(),
	}
	m.registry.Add(t)
	m.logger.Info("trade registered",
		"account", r.Account, "ticket", r.Ticket, "symbol", r.Symbol,
		"direction", r.Direction, "provider", r.ProviderTag,
		"tps", len(r.TPs), "fast", r.Fast)
}

// Run discovers surviving positions, then supervises every account until the
// context ends.
func (m *Manager) Run(ctx context.Context) {
	m.DiscoverExisting(ctx)

	var wg sync.WaitGroup
	for _, acc := range m.accounts {
		wg.Add(1)
		go func(acc types.Account) {
			defer wg.Done()
			m.superviseAccount(ctx, acc)
		}(acc)
	}
	wg.Wait()
}

func (m *Manager) superviseAccount(ctx context.Context, acc types.Account) {
	sleep := m.cfg.LoopSleep
	if sleep <= 0 {
		sleep = time.Second
	}
	ticker := time.NewTicker(sleep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TickAccount(ctx, acc)
		}
	}
}

// TickAccount runs one supervision pass over an account's trades.
func (m *Manager) TickAccount(ctx context.Context, acc types.Account) {
	b := m.brokers[acc.Name]
	if b == nil {
		return
	}
	positions, err := b.Positions(ctx, 0)
	if err != nil {
		m.logger.Warn("positions read failed", "account", acc.Name, "err", err)
		return
	}
	open := make(map[int64]types.Position, len(positions))
	for _, p := range positions {
		if p.Magic == m.magic {
			open[p.Ticket] = p
		}
	}

	for _, t := range m.registry.TradesFor(acc.Name) {
		pos, alive := open[t.Ticket]
		if !alive {
			m.registry.Remove(acc.Name, t.Ticket)
			m.emit(types.TradeEvent{
				Type:        types.EventClosed,
				Account:     acc.Name,
				Ticket:      t.Ticket,
				Symbol:      t.Symbol,
				Direction:   t.Direction,
				ProviderTag: t.ProviderTag,
				Reason:      "position_gone",
				Timestamp:   m.now().UTC(),
			})
			m.notify(acc.Name, fmt.Sprintf("Closed %s #%d (%s)", t.Symbol, t.Ticket, t.ProviderTag))
			continue
		}
		m.superviseTrade(ctx, acc, b, t, pos)
	}
}

func (m *Manager) superviseTrade(ctx context.Context, acc types.Account, b Broker, t *ManagedTrade, pos types.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, err := b.SymbolInfo(ctx, t.Symbol)
	if err != nil {
		m.logger.Warn("symbol_info failed", "account", acc.Name, "symbol", t.Symbol, "err", err)
		return
	}
	tick, err := b.SymbolTick(ctx, t.Symbol)
	if err != nil {
		m.logger.Warn("symbol_tick failed", "account", acc.Name, "symbol", t.Symbol, "err", err)
		return
	}
	// Closing a BUY fills at bid, a SELL at ask.
	current := tick.Bid
	if t.Direction == types.SELL {
		current = tick.Ask
	}
	if current <= 0 {
		return
	}
	if t.EntryPrice == 0 {
		t.EntryPrice = pos.PriceOpen
	}
	if t.InitialVolume == 0 {
		t.InitialVolume = pos.Volume
	}
	m.trackMFE(t, current)

	st := tickState{acc: acc, broker: b, trade: t, pos: pos, info: info, tick: tick, current: current}

	switch acc.Mode() {
	case types.ModeReentry:
		if m.applyReentry(ctx, st) {
			return
		}
	case types.ModeBEPips:
		m.maybeEarlyRiskOff(ctx, st, false)
	case types.ModeBEPnL:
		m.maybeEarlyRiskOff(ctx, st, true)
	}
	m.superviseGeneral(ctx, st)
}

// tickState bundles everything one supervision pass needs about one trade.
type tickState struct {
	acc     types.Account
	broker  Broker
	trade   *ManagedTrade
	pos     types.Position
	info    *types.SymbolInfo
	tick    *types.Tick
	current float64
}

// favourablePips is the signed progress from entry in pips; positive means
// the trade is winning.
func (st tickState) favourablePips() float64 {
	diff := st.current - st.trade.EntryPrice
	if st.trade.Direction == types.SELL {
		diff = -diff
	}
	return types.PriceDiffInPips(st.trade.Symbol, diff, st.info.Point)
}

func (m *Manager) trackMFE(t *ManagedTrade, current float64) {
	if t.MFEPeak == 0 {
		t.MFEPeak = current
		return
	}
	if t.Direction == types.BUY && current > t.MFEPeak {
		t.MFEPeak = current
	}
	if t.Direction == types.SELL && current < t.MFEPeak {
		t.MFEPeak = current
	}
}

// DiscoverExisting re-registers positions carrying our magic number that
// survived a restart. TPs are unknown, so recovered trades run in general
// mode on trailing and management messages alone.
func (m *Manager) DiscoverExisting(ctx context.Context) {
	for _, acc := range m.accounts {
		b := m.brokers[acc.Name]
		if b == nil {
			continue
		}
		positions, err := b.Positions(ctx, 0)
		if err != nil {
			m.logger.Warn("discovery failed", "account", acc.Name, "err", err)
			continue
		}
		for _, p := range positions {
			if p.Magic != m.magic {
				continue
			}
			if m.registry.Get(acc.Name, p.Ticket) != nil {
				continue
			}
			provider := strings.TrimSpace(p.Comment)
			if provider == "" {
				provider = "RECOVERED"
			}
			m.registry.Add(&ManagedTrade{
				Account:       acc.Name,
				Ticket:        p.Ticket,
				Symbol:        p.Symbol,
				Direction:     p.Direction(),
				ProviderTag:   provider,
				PlannedSL:     p.SL,
				EntryPrice:    p.PriceOpen,
				InitialVolume: p.Volume,
				OpenedAt:      m.now(),
			})
			m.logger.Info("recovered open position",
				"account", acc.Name, "ticket", p.Ticket, "symbol", p.Symbol,
				"comment", p.Comment)
		}
	}
}

// UpgradeFast retargets open FAST trades with the SL and TPs of the complete
// follow-up signal. Returns how many trades were upgraded; zero tells the
// caller to fall back to a normal open.
func (m *Manager) UpgradeFast(ctx context.Context, symbol string, direction types.Direction, sl float64, tps []float64, providerTag string) int {
	upgraded := 0
	for _, acc := range m.accounts {
		for _, t := range m.registry.TradesFor(acc.Name) {
			if t.Symbol != symbol || t.Direction != direction {
				continue
			}
			t.mu.Lock()
			if !t.Fast {
				t.mu.Unlock()
				continue
			}
			if sl > 0 {
				if ok, err := m.trader.ModifySL(ctx, acc.Name, t.Ticket, sl, "fast_upgrade", providerTag); err != nil || !ok {
					m.logger.Warn("fast upgrade SL move failed",
						"account", acc.Name, "ticket", t.Ticket, "err", err)
				}
			}
			t.TPs = append([]float64(nil), tps...)
			t.PlannedSL = sl
			t.Fast = false
			t.mu.Unlock()
			upgraded++
			m.emit(types.TradeEvent{
				Type:        types.EventUpgrade,
				Account:     acc.Name,
				Ticket:      t.Ticket,
				Symbol:      symbol,
				Direction:   direction,
				ProviderTag: providerTag,
				SL:          sl,
				Timestamp:   m.now().UTC(),
			})
			m.logger.Info("fast trade upgraded",
				"account", acc.Name, "ticket", t.Ticket, "sl", sl, "tps", len(tps))
		}
	}
	return upgraded
}

func (m *Manager) emit(ev types.TradeEvent) {
	if m.events == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = m.now().UTC()
	}
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Manager) notify(account, message string) {
	if m.notifier != nil {
		m.notifier.Notify(account, message)
	}
}

