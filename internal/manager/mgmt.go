package manager

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/yalvarez/trading-platform/internal/bus"
	"github.com/yalvarez/trading-platform/internal/executor"
	"github.com/yalvarez/trading-platform/internal/router"
	"github.com/yalvarez/trading-platform/pkg/types"
)

var (
	mgmtPercentRe = regexp.MustCompile(`(\d{1,3})\s*%`)
	mgmtPipsRe    = regexp.MustCompile(`\+\s*(\d{1,4})(?:\s*/\s*(\d{1,4}))?`)
	mgmtPriceRe   = regexp.MustCompile(`\b(\d{4}(?:\.\d+)?)\b`)
)

// HandleManagement processes one mgmt_messages entry. Providers manage
// positions in free text; each handler extracts what it can and applies it
// idempotently via per-trade action keys, so stream redelivery is safe.
func (m *Manager) HandleManagement(ctx context.Context, msg bus.Message) error {
	text := msg.Str("text")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	hint := msg.Str("provider_hint")
	log := m.logger.With("trace", msg.Str("trace"), "provider_hint", hint)

	switch hint {
	case router.HintToroFX:
		m.handleToroFX(ctx, log, text)
	case router.HintHannah:
		m.handleHannah(ctx, log, text)
	case router.HintGoldBrothers:
		// Gold Brothers follow-ups are commentary about moves the ladder
		// already makes on its own; logged for the audit trail only.
		log.Info("gold brothers follow-up noted", "text", text)
	default:
		log.Warn("unknown management hint dropped")
	}
	return nil
}

// toroFXIntent is what a ToroFX management message asks for.
type toroFXIntent struct {
	closeEntry bool    // close the position opened at a named price
	breakEven  bool    // move the stop to entry
	partial    bool    // take a partial close
	percent    float64 // requested partial percent, 0 = default
	minPips    float64 // required profit before the partial applies, 0 = default
	prices     []float64
}

func parseToroFXIntent(text string) toroFXIntent {
	up := strings.ToUpper(text)
	var it toroFXIntent

	closeWord := strings.Contains(up, "CIERRO") || strings.Contains(up, "CERRANDO") ||
		strings.Contains(up, "CERRAR") || strings.Contains(up, "CLOSE")
	beWord := strings.Contains(up, "QUITANDO EL RIESGO") || strings.Contains(up, "ASEGURANDO") ||
		strings.Contains(up, "BREAK EVEN") || strings.Contains(up, "BREAKEVEN") ||
		strings.Contains(up, "SIN RIESGO")
	partialWord := strings.Contains(up, "PARCIAL") || strings.Contains(up, "PARTIAL")

	if pm := mgmtPercentRe.FindStringSubmatch(text); pm != nil {
		it.percent, _ = strconv.ParseFloat(pm[1], 64)
	}
	if pm := mgmtPipsRe.FindStringSubmatch(text); pm != nil {
		it.minPips, _ = strconv.ParseFloat(pm[1], 64)
		// "+50/60" offers a range; the partial applies at the lower bound.
		if pm[2] != "" {
			if second, err := strconv.ParseFloat(pm[2], 64); err == nil && second < it.minPips {
				it.minPips = second
			}
		}
	}
	for _, pm := range mgmtPriceRe.FindAllStringSubmatch(text, -1) {
		p, err := strconv.ParseFloat(pm[1], 64)
		if err == nil {
			it.prices = append(it.prices, p)
		}
	}

	it.closeEntry = strings.Contains(up, "ENTRADA") && closeWord && len(it.prices) > 0
	it.partial = (partialWord || (closeWord && it.percent > 0)) && !it.closeEntry
	it.breakEven = beWord && !it.partial && !it.closeEntry
	return it
}

// handleToroFX applies a ToroFX management message to every ToroFX trade
// across all accounts.
func (m *Manager) handleToroFX(ctx context.Context, log *slog.Logger, text string) {
	it := parseToroFXIntent(text)
	if !it.closeEntry && !it.breakEven && !it.partial {
		log.Info("torofx management without actionable intent", "text", text)
		return
	}

	for _, acc := range m.accounts {
		b := m.brokers[acc.Name]
		if b == nil {
			continue
		}
		for _, t := range m.registry.TradesFor(acc.Name) {
			if !m.isToroFX(t.ProviderTag) {
				continue
			}
			t.mu.Lock()
			switch {
			case it.closeEntry:
				m.toroFXCloseEntry(ctx, log, b, t, it.prices)
			case it.breakEven:
				m.toroFXBreakEven(ctx, log, b, t)
			case it.partial:
				m.toroFXPartial(ctx, log, b, t, it)
			}
			t.mu.Unlock()
		}
	}
}

// toroFXCloseEntry fully closes trades whose entry sits within the
// configured tolerance of the first price named in the message. Any later
// prices name positions the provider is explicitly keeping open ("cerrando
// mi entrada de 4330 y dejando la de 4325"), so they never close anything.
func (m *Manager) toroFXCloseEntry(ctx context.Context, log *slog.Logger, b Broker, t *ManagedTrade, prices []float64) {
	if len(prices) == 0 {
		return
	}
	info, err := b.SymbolInfo(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_info failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	tol := types.PipsToPrice(t.Symbol, m.cfg.ToroFXCloseTolerancePip, info.Point)
	price := prices[0]
	if math.Abs(t.EntryPrice-price) > tol {
		return
	}
	for _, keep := range prices[1:] {
		if math.Abs(t.EntryPrice-keep) <= tol {
			return
		}
	}
	key := fmt.Sprintf("TOROFX_CLOSE_ENTRY_%d", int(price))
	if t.done(key) {
		return
	}
	if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
		log.Warn("torofx close entry failed", "account", t.Account, "ticket", t.Ticket, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventClosed,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "torofx_close_entry",
		Price:       price,
	})
	m.notify(t.Account, fmt.Sprintf("ToroFX closed entry %.2f on %s #%d", price, t.Symbol, t.Ticket))
}

func (m *Manager) toroFXBreakEven(ctx context.Context, log *slog.Logger, b Broker, t *ManagedTrade) {
	if t.done("TOROFX_BE") {
		return
	}
	info, err := b.SymbolInfo(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_info failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	tick, err := b.SymbolTick(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_tick failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	be := executor.BEPrice(t.Symbol, t.Direction, t.EntryPrice, tick.Spread(), 0, info.Point)
	ok, err := m.trader.ModifySL(ctx, t.Account, t.Ticket, be, "torofx_be", t.ProviderTag)
	if err != nil || !ok {
		log.Warn("torofx break-even failed", "account", t.Account, "ticket", t.Ticket, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventBreakEven,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "torofx_be",
		SL:          be,
	})
}

// toroFXPartial takes the requested partial close once the trade shows the
// required profit in pips.
func (m *Manager) toroFXPartial(ctx context.Context, log *slog.Logger, b Broker, t *ManagedTrade, it toroFXIntent) {
	percent := it.percent
	if percent <= 0 {
		percent = m.cfg.ToroFXPartialPercent
	}
	needPips := it.minPips
	if needPips <= 0 {
		needPips = m.cfg.ToroFXPartialMinPips
	}
	key := fmt.Sprintf("TOROFX_PARTIAL_%.0f_AT_%.0f", percent, needPips)
	if t.ActionsDone[key] {
		return
	}

	info, err := b.SymbolInfo(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_info failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	tick, err := b.SymbolTick(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_tick failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	current := tick.Bid
	if t.Direction == types.SELL {
		current = tick.Ask
	}
	move := current - t.EntryPrice
	if t.Direction == types.SELL {
		move = -move
	}
	if types.PriceDiffInPips(t.Symbol, move, info.Point) < needPips {
		return // not enough profit yet; a redelivery may still apply it later
	}
	t.done(key)

	closed, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, percent)
	if err != nil {
		log.Warn("torofx partial failed", "account", t.Account, "ticket", t.Ticket, "err", err)
		return
	}
	m.emit(types.TradeEvent{
		Type:        types.EventPartialClose,
		Account:     t.Account,
		Ticket:      t.Ticket,
		Symbol:      t.Symbol,
		Direction:   t.Direction,
		ProviderTag: t.ProviderTag,
		Reason:      "torofx_partial",
		Price:       current,
		Volume:      closed,
		Percent:     percent,
	})
	m.notify(t.Account, fmt.Sprintf("ToroFX partial %.0f%% on %s #%d", percent, t.Symbol, t.Ticket))
}

// handleHannah applies Hannah's follow-up vocabulary: close all, close
// half, and secure half (half close plus break-even, only before TP1; when
// break-even is impossible because price is adverse, close in full).
func (m *Manager) handleHannah(ctx context.Context, log *slog.Logger, text string) {
	up := strings.ToUpper(text)
	closeAll := strings.Contains(up, "CLOSE ALL") || strings.Contains(up, "CERRAR TODO")
	closeHalf := strings.Contains(up, "CLOSE HALF") || strings.Contains(up, "CERRAR LA MITAD")
	secureHalf := strings.Contains(up, "SECURE")

	for _, acc := range m.accounts {
		b := m.brokers[acc.Name]
		if b == nil {
			continue
		}
		for _, t := range m.registry.TradesFor(acc.Name) {
			if !strings.Contains(strings.ToUpper(t.ProviderTag), "HANNAH") {
				continue
			}
			t.mu.Lock()
			switch {
			case closeAll:
				if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
					log.Warn("hannah close all failed", "account", t.Account, "ticket", t.Ticket, "err", err)
				} else {
					m.emit(types.TradeEvent{
						Type: types.EventClosed, Account: t.Account, Ticket: t.Ticket,
						Symbol: t.Symbol, Direction: t.Direction, ProviderTag: t.ProviderTag,
						Reason: "hannah_close_all",
					})
				}
			case closeHalf:
				if !t.done("HANNAH_CLOSE_HALF") {
					if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 50); err != nil {
						log.Warn("hannah close half failed", "account", t.Account, "ticket", t.Ticket, "err", err)
					}
				}
			case secureHalf:
				m.hannahSecureHalf(ctx, log, b, t)
			}
			t.mu.Unlock()
		}
	}
}

// hannahSecureHalf closes half and moves the stop to break-even, but only
// before TP1. When price sits adverse to the entry a break-even stop is
// unplaceable, so the whole position goes instead.
func (m *Manager) hannahSecureHalf(ctx context.Context, log *slog.Logger, b Broker, t *ManagedTrade) {
	if t.TPHit[1] || t.done("HANNAH_SECURE_HALF") {
		return
	}
	tick, err := b.SymbolTick(ctx, t.Symbol)
	if err != nil {
		log.Warn("symbol_tick failed", "account", t.Account, "symbol", t.Symbol, "err", err)
		return
	}
	current := tick.Bid
	favourable := current > t.EntryPrice
	if t.Direction == types.SELL {
		current = tick.Ask
		favourable = current < t.EntryPrice
	}
	if !favourable {
		if _, err := m.trader.PartialClose(ctx, t.Account, t.Ticket, 100); err != nil {
			log.Warn("hannah adverse secure close failed", "account", t.Account, "ticket", t.Ticket, "err", err)
			return
		}
		m.emit(types.TradeEvent{
			Type: types.EventClosed, Account: t.Account, Ticket: t.Ticket,
			Symbol: t.Symbol, Direction: t.Direction, ProviderTag: t.ProviderTag,
			Reason: "hannah_secure_adverse",
		})
		return
	}
	if ok, err := m.trader.EarlyPartialClose(ctx, t.Account, t.Ticket, 0.5, t.ProviderTag, "hannah_secure_half"); err != nil || !ok {
		log.Warn("hannah secure half failed", "account", t.Account, "ticket", t.Ticket, "err", err)
	}
}
