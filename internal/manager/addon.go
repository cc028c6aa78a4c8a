package manager

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

const addonSuffix = "-ADDON"

// maybeAddon opens one averaging addon when price retraces to the entry/SL
// addon level. The level sits at (1-r)·entry + r·SL; the addon triggers once
// price is within the buffer band of it, the trade is old enough, and the
// group is under its addon cap. Price within two buffers of the stop never
// triggers: that close to the SL the addon would just double the loss.
// One addon per origin trade.
func (m *Manager) maybeAddon(ctx context.Context, st tickState) {
	t := st.trade
	if t.AddonDone || t.PlannedSL <= 0 || t.Fast {
		return
	}
	if isFollowup(t.ProviderTag) {
		return // addons never chain off runners or other addons
	}
	if m.now().Sub(t.OpenedAt) < m.cfg.AddonMinFromOpen {
		return
	}
	if m.registry.AddonCount(t.Account, t.GroupID) >= m.cfg.AddonMax {
		return
	}

	r := m.cfg.AddonEntrySLRate
	level := (1-r)*t.EntryPrice + r*t.PlannedSL
	buffer := types.PipsToPrice(t.Symbol, m.cfg.BufferPips, st.info.Point)
	if math.Abs(st.current-level) > buffer {
		return
	}
	slDist := st.current - t.PlannedSL
	if t.Direction == types.SELL {
		slDist = t.PlannedSL - st.current
	}
	if slDist < 2*buffer {
		return
	}
	t.AddonDone = true

	volume := t.InitialVolume * m.cfg.AddonLotFactor
	if volume <= 0 {
		return
	}
	tp := 0.0
	if len(t.TPs) > 0 {
		tp = t.TPs[0]
	}
	provider := t.ProviderTag + addonSuffix
	open, err := m.trader.OpenRunnerTrade(ctx, t.Account, t.Symbol, t.Direction, volume, t.PlannedSL, tp, provider)
	if err != nil {
		m.logger.Warn("addon open failed",
			"account", t.Account, "symbol", t.Symbol, "group", t.GroupID, "err", err)
		return
	}
	m.registry.RecordAddon(t.Account, t.GroupID)
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
		Type:        types.EventAddon,
		Account:     t.Account,
		Ticket:      open.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: provider,
		Price:       open.Price,
		Volume:      open.Volume,
		SL:          open.SL,
	})
	m.notify(t.Account, fmt.Sprintf("Addon opened on %s #%d (group %d)", t.Symbol, open.Ticket, t.GroupID))
}

// isFollowup reports whether the provider tag marks a manager-opened trade.
func isFollowup(provider string) bool {
	return strings.HasSuffix(provider, reentrySuffix) || strings.HasSuffix(provider, addonSuffix)
}
