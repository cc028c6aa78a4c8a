package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/yalvarez/trading-platform/internal/executor"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// superviseGeneral is the default supervision pass: the TP ladder (or
// ToroFX scaling-out when the trade carries no TPs), midpoint addons and
// trailing.
func (m *Manager) superviseGeneral(ctx context.Context, st tickState) {
	t := st.trade
	if len(t.TPs) == 0 {
		if m.isToroFX(t.ProviderTag) {
			m.applyScaling(ctx, st)
			return
		}
	} else {
		if m.applyTakeProfits(ctx, st) {
			return // fully closed
		}
		if m.maybeRunnerRetrace(ctx, st) {
			return
		}
	}
	if m.cfg.EnableAddon {
		m.maybeAddon(ctx, st)
	}
	if m.cfg.EnableTrailing {
		m.maybeTrailing(ctx, st)
	}
}

// tpReached reports whether the level counts as hit: within buffer pips
// before the exact price on the favourable side.
func tpReached(direction types.Direction, current, tp, buffer float64) bool {
	if direction == types.BUY {
		return current >= tp-buffer
	}
	return current <= tp+buffer
}

// closePercentFor is the ladder percentage for a 1-based TP level. Trades
// with three or more TPs are long-mode trades and keep more running.
func (m *Manager) closePercentFor(level, totalTPs int) float64 {
	long := totalTPs >= 3
	switch {
	case level == 1 && long:
		return m.cfg.LongTP1Percent
	case level == 1:
		return m.cfg.ScalpTP1Percent
	case level == 2 && long:
		return m.cfg.LongTP2Percent
	case level == 2:
		return m.cfg.ScalpTP2Percent
	default:
		return 100
	}
}

// applyTakeProfits walks the TP ladder. Returns true when the position was
// closed in full. tp_hit is recorded before the close goes out, so a
// redelivered tick never closes the same level twice.
func (m *Manager) applyTakeProfits(ctx context.Context, st tickState) bool {
	t := st.trade
	buffer := types.PipsToPrice(t.Symbol, m.cfg.BufferPips, st.info.Point)
	long := len(t.TPs) >= 3

	for i, tp := range t.TPs {
		level := i + 1
		if t.TPHit[level] {
			continue
		}
		if !tpReached(t.Direction, st.current, tp, buffer) {
			continue
		}
		t.TPHit[level] = true
		percent := m.closePercentFor(level, len(t.TPs))

		closed, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, percent)
		if err != nil {
			m.logger.Warn("tp close failed",
				"account", t.Account, "ticket", t.Ticket, "level", level, "err", err)
			continue
		}
		realised := percent
		if st.pos.Volume > 0 {
			realised = closed / st.pos.Volume * 100
		}
		m.emit(types.TradeEvent{
			Type:        types.EventTPHit,
			Account:     t.Account,
			Ticket:      t.Ticket,
			Symbol:      t.Symbol,
			Direction:   t.Direction,
			ProviderTag: t.ProviderTag,
			Reason:      fmt.Sprintf("tp%d", level),
			Price:       st.current,
			Volume:      closed,
			Percent:     realised,
		})
		m.notify(t.Account, fmt.Sprintf("TP%d hit on %s #%d, closed %.0f%%", level, t.Symbol, t.Ticket, realised))

		if realised >= 100 {
			return true
		}
		if level == 1 && m.cfg.EnableBreakEven {
			m.applyBreakEven(ctx, st, "tp1_be")
		}
		if level == 2 && long {
			t.RunnerEnabled = true
			m.emit(types.TradeEvent{
				Type:        types.EventRunner,
				Account:     t.Account,
				Ticket:      t.Ticket,
				Symbol:      t.Symbol,
				Direction:   t.Direction,
				ProviderTag: t.ProviderTag,
				Reason:      "retrace_watch_armed",
			})
		}
	}
	return false
}

// applyBreakEven waits for the broker to reflect the preceding partial
// close, then moves the stop to entry plus spread (plus the configured
// offset). The wait is bounded; a slow bridge just means BE lands against a
// slightly stale volume, which is harmless.
func (m *Manager) applyBreakEven(ctx context.Context, st tickState, reason string) {
	t := st.trade
	if t.done("BE_" + reason) {
		return
	}
	prev := st.pos
	for i := 0; i < 8; i++ {
		ps, err := st.broker.Positions(ctx, t.Ticket)
		if err == nil {
			if len(ps) == 0 {
				return // closed in full meanwhile
			}
			if ps[0].TimeUpdate != prev.TimeUpdate || ps[0].Volume != prev.Volume {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
	}

	be := executor.BEPrice(t.Symbol, t.Direction, t.EntryPrice, st.tick.Spread(), m.cfg.BEOffsetPips, st.info.Point)
	ok, err := m.trader.ModifySL(ctx, t.Account, t.Ticket, be, reason, t.ProviderTag)
	if err != nil || !ok {
		m.logger.Warn("break-even move failed",
			"account", t.Account, "ticket", t.Ticket, "sl", be, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventBreakEven,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      reason,
		SL:          be,
	})
	m.notify(t.Account, fmt.Sprintf("Break-even set on %s #%d", t.Symbol, t.Ticket))
}

// maybeRunnerRetrace closes the long-mode remainder when price gives back
// the configured pips from its best level after TP2.
func (m *Manager) maybeRunnerRetrace(ctx context.Context, st tickState) bool {
	t := st.trade
	if !t.RunnerEnabled || t.MFEPeak == 0 {
		return false
	}
	retrace := types.PipsToPrice(t.Symbol, m.cfg.RunnerRetracePips, st.info.Point)
	giveback := t.MFEPeak - st.current
	if t.Direction == types.SELL {
		giveback = st.current - t.MFEPeak
	}
	if giveback < retrace {
		return false
	}
	if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
		m.logger.Warn("runner retrace close failed",
			"account", t.Account, "ticket", t.Ticket, "err", err)
		return false
	}
	m.emit(types.TradeEvent{
		Type:        types.EventClosed,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "runner_retrace",
		Price:       st.current,
	})
	m.notify(t.Account, fmt.Sprintf("Runner retraced, closed %s #%d", t.Symbol, t.Ticket))
	return true
}

// maybeTrailing ratchets the stop behind a winning position. Trailing
// arms once profit covers the activation distance; an enabled runner or a
// second take-profit forces it on regardless of distance. A move must
// improve the stop by the minimum change in the strictly favourable
// direction and honours a cooldown between moves.
func (m *Manager) maybeTrailing(ctx context.Context, st tickState) {
	t := st.trade
	armed := st.favourablePips() >= m.cfg.TrailingActivationPips || t.RunnerEnabled
	if m.cfg.TrailingAfterTP2 && t.TPHit[2] {
		armed = true
	}
	if !armed {
		return
	}
	if !t.LastTrailingAt.IsZero() && m.now().Sub(t.LastTrailingAt) < m.cfg.TrailingCooldown {
		return
	}

	distance := types.PipsToPrice(t.Symbol, m.cfg.TrailingStopPips, st.info.Point)
	want := st.current - distance
	if t.Direction == types.SELL {
		want = st.current + distance
	}
	want = executor.RoundPrice(t.Symbol, want)

	ref := t.LastTrailingSL
	if ref == 0 {
		ref = st.pos.SL
	}
	minChange := types.PipsToPrice(t.Symbol, m.cfg.TrailingMinChangePips, st.info.Point)
	improvement := want - ref
	if t.Direction == types.SELL {
		improvement = ref - want
	}
	// ref == 0 means no stop at all yet; any trailing stop is an improvement.
	if ref != 0 && improvement < minChange {
		return
	}

	ok, err := m.trader.ModifySL(ctx, t.Account, t.Ticket, want, "trailing", t.ProviderTag)
	if err != nil || !ok {
		m.logger.Warn("trailing move failed",
			"account", t.Account, "ticket", t.Ticket, "sl", want, "err", err)
		return
	}
	t.LastTrailingSL = want
	t.LastTrailingAt = m.now()
	m.emit(types.TradeEvent{
		Type:        types.EventTrailing,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		SL:          want,
		Price:       st.current,
	})
}

// maybeEarlyRiskOff implements the be_pips / be_pnl account modes: once the
// trade is BEPips pips in profit, close a slice and protect the rest. In
// be_pips the stop goes to break-even; in be_pnl it goes to the price where
// a full stop-out of the residual exactly gives back the realised profit.
func (m *Manager) maybeEarlyRiskOff(ctx context.Context, st tickState, pnlMode bool) {
	t := st.trade
	if len(t.TPs) == 0 {
		return // nothing to ladder against; behave as general
	}
	if t.ActionsDone["EARLY_RISK_OFF"] {
		return
	}
	threshold := st.acc.BEPips
	if threshold <= 0 {
		return
	}
	if st.favourablePips() < threshold {
		return
	}

	if !pnlMode {
		ok, err := m.trader.EarlyPartialClose(ctx, t.Account, t.Ticket, m.cfg.BEClosePercent/100, t.ProviderTag, "be_pips")
		if err != nil || !ok {
			// Leave the action pending; the next tick retries.
			m.logger.Warn("be_pips risk-off failed",
				"account", t.Account, "ticket", t.Ticket, "err", err)
			return
		}
		t.done("EARLY_RISK_OFF")
		return
	}

	closed, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, m.cfg.BEClosePercent)
	if err != nil {
		m.logger.Warn("be_pnl partial failed", "account", t.Account, "ticket", t.Ticket, "err", err)
		return
	}
	t.done("EARLY_RISK_OFF")
	valuePerUnit := 0.0
	if st.info.TickSize > 0 {
		valuePerUnit = st.info.TickValue / st.info.TickSize
	}
	move := st.current - t.EntryPrice
	if t.Direction == types.SELL {
		move = t.EntryPrice - st.current
	}
	realized := move * valuePerUnit * closed
	residual := st.pos.Volume - closed
	sl := executor.SLForPnL(t.Symbol, t.Direction, t.EntryPrice, realized, residual, valuePerUnit)
	if sl <= 0 {
		return
	}
	if ok, err := m.trader.ModifySL(ctx, t.Account, t.Ticket, sl, "be_pnl", t.ProviderTag); err != nil || !ok {
		m.logger.Warn("be_pnl stop move failed",
			"account", t.Account, "ticket", t.Ticket, "sl", sl, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventSLModified,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "be_pnl",
		SL:          sl,
	})
}

// applyReentry implements the reentry account mode: at TP1 close everything
// and re-open a reduced runner toward TP2 with the stop at the original
// entry. Returns true when this pass consumed the trade.
func (m *Manager) applyReentry(ctx context.Context, st tickState) bool {
	t := st.trade
	if t.IsReentryRunner() || len(t.TPs) == 0 {
		return false // runners and TP-less trades fall through to general
	}
	buffer := types.PipsToPrice(t.Symbol, m.cfg.BufferPips, st.info.Point)
	if t.TPHit[1] || !tpReached(t.Direction, st.current, t.TPs[0], buffer) {
		return false
	}
	t.TPHit[1] = true
	t.ReentryTP1At = m.now()

	if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
		m.logger.Warn("reentry full close failed",
			"account", t.Account, "ticket", t.Ticket, "err", err)
		return false
	}
	m.emit(types.TradeEvent{
		Type:        types.EventTPHit,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "tp1_reentry",
		Price:       st.current,
		Percent:     100,
	})

	m.openReentryRunner(ctx, st)
	m.registry.Remove(t.Account, t.Ticket)
	return true
}

func (m *Manager) openReentryRunner(ctx context.Context, st tickState) {
	t := st.trade
	elapsed := m.now().Sub(t.ReentryTP1At)
	if elapsed > m.cfg.ReentryGrace && m.momentum != nil && !m.momentum(t.Symbol, t.Direction) {
		m.emit(types.TradeEvent{
			Type:        types.EventSkipped,
			Account:     t.Account,
			Symbol:      t.Symbol,
			Direction:   t.Direction,
			ProviderTag: t.ProviderTag,
			Reason:      "reentry_momentum_veto",
		})
		return
	}
	volume := t.InitialVolume * m.cfg.ReentryPercent / 100
	if volume <= 0 {
		return
	}
	tp := 0.0
	if len(t.TPs) >= 2 {
		tp = t.TPs[1]
	}
	provider := t.ProviderTag + reentrySuffix
	open, err := m.trader.OpenRunnerTrade(ctx, t.Account, t.Symbol, t.Direction, volume, t.EntryPrice, tp, provider)
	if err != nil {
		m.logger.Warn("reentry runner open failed",
			"account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	reg := Registration{
		Account:       t.Account,
		Ticket:        open.Ticket,
		Symbol:        t.Symbol,
		Direction:     t.Direction,
		ProviderTag:   provider,
		GroupID:       t.GroupID,
		PlannedSL:     open.SL,
		EntryPrice:    open.Price,
		InitialVolume: open.Volume,
	}
	if tp > 0 {
		reg.TPs = []float64{tp}
	}
	m.Register(reg)
	m.emit(types.TradeEvent{
		Type:        types.EventRunner,
		Account:     t.Account,
		Ticket:      open.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: provider,
		Reason:      "reentry",
		Price:       open.Price,
		Volume:      open.Volume,
		SL:          open.SL,
	})
	m.notify(t.Account, fmt.Sprintf("Reentry runner opened on %s #%d", t.Symbol, open.Ticket))
}
