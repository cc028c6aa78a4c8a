package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// DailySignal parses the daily gold format, e.g.
//
//	GOLD MARKET BUY Entry: 2500-2505, SL: 2490, TP1: 2515, TP2: 2530
//
// The MARKET keyword is what separates it from the looser gold formats.
type DailySignal struct{}

var (
	dailySymbolRe = regexp.MustCompile(`(?i)\b(oro|gold|xau)\b`)
	dailyMarketRe = regexp.MustCompile(`(?i)\bMARKET\b`)
	dailyBuyRe    = regexp.MustCompile(`(?i)\bBUY\b`)
	dailySellRe   = regexp.MustCompile(`(?i)\bSELL\b`)
	dailyEntryRe  = regexp.MustCompile(`(?i)entry[\s:]*(\d{3,5}(?:\.\d{1,2})?)\s*[-–]\s*(\d{3,5}(?:\.\d{1,2})?)`)
	dailySLRe     = regexp.MustCompile(`(?i)sl[\s:]*(\d{3,5}(?:\.\d{1,2})?)`)
	dailyTPRe     = regexp.MustCompile(`(?i)tp[1-3]?[\s:]*(\d{3,5}(?:\.\d{1,2})?)`)
)

func (DailySignal) FormatTag() string { return "DAILY_SIGNAL" }

func (DailySignal) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	if !dailySymbolRe.MatchString(norm) {
		return nil
	}
	if !dailyMarketRe.MatchString(norm) {
		return nil
	}

	isBuy := dailyBuyRe.MatchString(norm)
	isSell := dailySellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}

	em := dailyEntryRe.FindStringSubmatch(norm)
	if em == nil {
		return nil
	}
	a, ok1 := num(em[1])
	b, ok2 := num(em[2])
	if !ok1 || !ok2 {
		return nil
	}

	var sl float64
	if sm := dailySLRe.FindStringSubmatch(norm); sm != nil {
		if v, ok := num(sm[1]); ok {
			sl = v
		}
	}

	var tps []float64
	for _, tm := range dailyTPRe.FindAllStringSubmatch(norm, -1) {
		if v, ok := num(tm[1]); ok {
			tps = appendTP(tps, v)
		}
	}

	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	return &types.ParseResult{
		FormatTag:   "DAILY_SIGNAL",
		ProviderTag: "DAILY_SIGNAL",
		Symbol:      "XAUUSD",
		Direction:   direction,
		EntryRange:  rangeOf(a, b),
		SL:          sl,
		TPs:         tps,
	}
}
