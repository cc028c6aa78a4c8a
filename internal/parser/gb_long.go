package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// GoldBroLong parses structured Gold Brothers swing signals, e.g.
//
//	ORO BUY Entry: 2500-2505, SL: 2490, TP1: 2515, TP2: 2530
//
// Labels come in English or Spanish ("Punto de StopLoss", "Toma de
// Ganancias") and the entry accepts ranges, "@" shorthand, or a single
// price.
type GoldBroLong struct{}

var (
	gbLongSymbolRe = regexp.MustCompile(`(?i)\b(oro|gold|xau(?:usd)?|xauusd)\b`)
	gbLongBuyRe    = regexp.MustCompile(`(?i)\b(BUY|COMPRA(?:R)?(?:\s+AHORA)?|COMPRA YA)\b`)
	gbLongSellRe   = regexp.MustCompile(`(?i)\b(SELL|VENTA|VENDER(?:\s+AHORA)?|VENDE(?:\s+AHORA)?)\b`)
	gbLongEntryRe  = regexp.MustCompile(`(?i)(?:entry[\s:]*|@)(\d{3,5}(?:\.\d{1,2})?)\s*[-–]\s*(\d{3,5}(?:\.\d{1,2})?)`)
	gbLongBareRe   = regexp.MustCompile(`@?(\d{3,5}(?:\.\d{1,2})?)\s*[-–]\s*(\d{3,5}(?:\.\d{1,2})?)`)
	gbLongSingleRe = regexp.MustCompile(`(?i)entry(?:\s*price)?[\s:\-]*@?(\d{3,5}(?:\.\d{1,2})?)`)
	gbLongSLRe     = regexp.MustCompile(`(?i)(?:sl|punto de stop ?loss)[\s:]*(\d{3,5}(?:\.\d{1,2})?)`)
	gbLongTPRe     = regexp.MustCompile(`(?i)(?:tp[1-3]?|toma de ganancias ?[1-3]?|take profit ?[1-3]?)\s*[:\-]?\s*(\d{3,5}(?:\.\d{1,2})?)`)
)

func (GoldBroLong) FormatTag() string { return "GB_LONG" }

func (GoldBroLong) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	if strings.Contains(strings.ToLower(norm), "risk price") {
		return nil
	}

	sm := gbLongSymbolRe.FindStringSubmatch(norm)
	if sm == nil {
		return nil
	}
	symbol := strings.ToUpper(sm[1])
	switch symbol {
	case "GOLD", "ORO", "XAU", "XAUUSD":
		symbol = "XAUUSD"
	}

	isBuy := gbLongBuyRe.MatchString(norm)
	isSell := gbLongSellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}

	var lo, hi float64
	if m := gbLongEntryRe.FindStringSubmatch(norm); m != nil {
		a, ok1 := num(m[1])
		b, ok2 := num(m[2])
		if !ok1 || !ok2 {
			return nil
		}
		lo, hi = a, b
	} else if m := gbLongBareRe.FindStringSubmatch(norm); m != nil {
		a, ok1 := num(m[1])
		b, ok2 := num(m[2])
		if !ok1 || !ok2 {
			return nil
		}
		lo, hi = a, b
	} else if m := gbLongSingleRe.FindStringSubmatch(norm); m != nil {
		v, ok := num(m[1])
		if !ok {
			return nil
		}
		lo, hi = v, v
	} else {
		return nil
	}

	var sl float64
	if m := gbLongSLRe.FindStringSubmatch(norm); m != nil {
		if v, ok := num(m[1]); ok {
			sl = v
		}
	}

	var tps []float64
	for _, m := range gbLongTPRe.FindAllStringSubmatch(norm, -1) {
		if v, ok := num(m[1]); ok {
			tps = appendTP(tps, v)
		}
	}

	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	return &types.ParseResult{
		FormatTag:   "GB_LONG",
		ProviderTag: "GB_LONG",
		Symbol:      symbol,
		Direction:   direction,
		EntryRange:  rangeOf(lo, hi),
		SL:          sl,
		TPs:         tps,
	}
}
