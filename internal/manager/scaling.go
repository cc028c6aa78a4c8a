package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/yalvarez/trading-platform/internal/executor"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// isToroFX reports whether the provider tag belongs to ToroFX. ToroFX
// signals never carry TPs, so their trades scale out by tramos instead of a
// ladder.
func (m *Manager) isToroFX(provider string) bool {
	match := m.cfg.ToroFXProviderMatch
	if match == "" {
		match = "TOROFX"
	}
	return strings.Contains(strings.ToUpper(provider), strings.ToUpper(match))
}

// applyScaling scales a TP-less ToroFX trade out in tramos: every
// scaling_tramo_pips of favourable progress closes scaling_percent_per_tramo
// of the position. Tramo 1 also moves the stop to break-even; tramo 3 parks
// the stop at tramo 1's close price and arms a dedicated retrace watch that
// flattens the remainder after trailing_last_tramo_pips of giveback.
func (m *Manager) applyScaling(ctx context.Context, st tickState) {
	t := st.trade
	tramoPips := m.cfg.ScalingTramoPips
	if tramoPips <= 0 {
		return
	}
	progress := st.favourablePips()

	for n := 1; progress >= float64(n)*tramoPips; n++ {
		key := fmt.Sprintf("HIT_TP_SCALING_TRAMO_%d", n)
		if t.ActionsDone[key] {
			continue
		}
		t.done(key)

		closed, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, m.cfg.ScalingPercentPerTramo)
		if err != nil {
			m.logger.Warn("scaling tramo close failed",
				"account", t.Account, "ticket", t.Ticket, "tramo", n, "err", err)
			continue
		}
		m.emit(types.TradeEvent{
			Type:        types.EventTPHit,
			Account:     t.Account,
			Ticket:      t.Ticket,
			Symbol:      t.Symbol,
			Direction:   t.Direction,
			ProviderTag: t.ProviderTag,
			Reason:      fmt.Sprintf("scaling_tramo_%d", n),
			Price:       st.current,
			Volume:      closed,
		})
		m.notify(t.Account, fmt.Sprintf("Tramo %d closed on %s #%d", n, t.Symbol, t.Ticket))

		switch n {
		case 1:
			t.Tramo1ClosePrice = st.current
			m.applyBreakEven(ctx, st, "scaling_tramo_1")
		case 3:
			if t.Tramo1ClosePrice > 0 {
				if ok, err := m.trader.ModifySL(ctx, t.Account, t.Ticket, executor.RoundPrice(t.Symbol, t.Tramo1ClosePrice), "scaling_tramo_3", t.ProviderTag); err != nil || !ok {
					m.logger.Warn("tramo 3 stop move failed",
						"account", t.Account, "ticket", t.Ticket, "err", err)
				}
			}
			t.RunnerEnabled = true
			t.ScalingPeak = st.current
		}
	}

	if t.RunnerEnabled {
		m.maybeScalingRetrace(ctx, st)
	}
}

// maybeScalingRetrace flattens the post-tramo-3 remainder once price gives
// back trailing_last_tramo_pips from its best level.
func (m *Manager) maybeScalingRetrace(ctx context.Context, st tickState) {
	t := st.trade
	if t.ScalingPeak == 0 {
		t.ScalingPeak = st.current
	}
	if t.Direction == types.BUY && st.current > t.ScalingPeak {
		t.ScalingPeak = st.current
	}
	if t.Direction == types.SELL && st.current < t.ScalingPeak {
		t.ScalingPeak = st.current
	}
	retrace := types.PipsToPrice(t.Symbol, m.cfg.TrailingLastTramoPips, st.info.Point)
	giveback := t.ScalingPeak - st.current
	if t.Direction == types.SELL {
		giveback = st.current - t.ScalingPeak
	}
	if giveback < retrace {
		return
	}
	if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
		m.logger.Warn("scaling retrace close failed",
			"account", t.Account, "ticket", t.Ticket, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventClosed,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "scaling_retrace",
		Price:       st.current,
	})
	m.notify(t.Account, fmt.Sprintf("Scaling retrace, closed %s #%d", t.Symbol, t.Ticket))
}
