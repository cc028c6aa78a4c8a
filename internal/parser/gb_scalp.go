package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// GoldBroScalp parses Gold Brothers scalp signals with a single entry or a
// tight range, e.g. "ORO SCALP BUY Entry: 2500, SL: 2495, TP1: 2505". A
// gold mention is not required; the format is assumed to be gold.
type GoldBroScalp struct{}

var (
	gbScalpBuyRe   = regexp.MustCompile(`(?i)\b(BUY|COMPRAR|COMPRA)\b`)
	gbScalpSellRe  = regexp.MustCompile(`(?i)\b(SELL|VENDER|VENDE)\b`)
	gbScalpEntryRe = regexp.MustCompile(`(?i)(?:entry[\s:]*|@)(\d{3,5}(?:\.\d{1,2})?)(?:[-–](\d{3,5}(?:\.\d{1,2})?))?`)
	gbScalpSLRe    = regexp.MustCompile(`(?i)sl[\s:]*(\d{3,5}(?:\.\d{1,2})?)`)
	gbScalpTPRe    = regexp.MustCompile(`(?i)tp[1-3]?[\s:]*(\d{3,5}(?:\.\d{1,2})?)`)
)

func (GoldBroScalp) FormatTag() string { return "GB_SCALP" }

func (GoldBroScalp) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	isBuy := gbScalpBuyRe.MatchString(norm)
	isSell := gbScalpSellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}

	em := gbScalpEntryRe.FindStringSubmatch(norm)
	if em == nil {
		return nil
	}
	a, ok := num(em[1])
	if !ok {
		return nil
	}
	b := a
	if em[2] != "" {
		if v, ok := num(em[2]); ok {
			b = v
		}
	}

	var sl float64
	if m := gbScalpSLRe.FindStringSubmatch(norm); m != nil {
		if v, ok := num(m[1]); ok {
			sl = v
		}
	}

	var tps []float64
	for _, m := range gbScalpTPRe.FindAllStringSubmatch(norm, -1) {
		if v, ok := num(m[1]); ok {
			tps = appendTP(tps, v)
		}
	}

	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	return &types.ParseResult{
		FormatTag:   "GB_SCALP",
		ProviderTag: "GB_SCALP",
		Symbol:      "XAUUSD",
		Direction:   direction,
		EntryRange:  rangeOf(a, b),
		SL:          sl,
		TPs:         tps,
	}
}
