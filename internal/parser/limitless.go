package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Limitless parses the Limitless provider format. Its marker is the
// "Risk Price" stop-loss label and a "Zone" entry band; the registry routes
// any text containing "risk price" here exclusively.
type Limitless struct{}

var (
	limitlessSymbolRe = regexp.MustCompile(`(?i)\b([A-Z]{3,6}USD|GOLD|XAUUSD|XAU|ORO)\b`)
	limitlessBuyRe    = regexp.MustCompile(`(?i)\bBUY\b`)
	limitlessSellRe   = regexp.MustCompile(`(?i)\bSELL\b`)
	limitlessZoneRe   = regexp.MustCompile(`(?i)Zone[:\s]*([\d.]+)\s*[-–]\s*([\d.]+)`)
	limitlessTPRe     = regexp.MustCompile(`(?i)TP\s*\d*[:]?\s*([\d.]+)`)
	limitlessSLRe     = regexp.MustCompile(`(?i)Risk Price[:\s]*([\d.]+)`)
)

func (Limitless) FormatTag() string { return "LIMITLESS" }

func (Limitless) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	m := limitlessSymbolRe.FindStringSubmatch(norm)
	if m == nil {
		return nil
	}
	symbol := strings.ToUpper(m[1])
	switch symbol {
	case "GOLD", "ORO", "XAU", "XAUUSD":
		symbol = "XAUUSD"
	}

	isBuy := limitlessBuyRe.MatchString(norm)
	isSell := limitlessSellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}
	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	zm := limitlessZoneRe.FindStringSubmatch(norm)
	if zm == nil {
		return nil
	}
	a, ok1 := num(zm[1])
	b, ok2 := num(zm[2])
	if !ok1 || !ok2 {
		return nil
	}

	var sl float64
	if sm := limitlessSLRe.FindStringSubmatch(norm); sm != nil {
		if v, ok := num(sm[1]); ok {
			sl = v
		}
	}

	var tps []float64
	for _, tm := range limitlessTPRe.FindAllStringSubmatch(norm, -1) {
		if v, ok := num(tm[1]); ok {
			tps = appendTP(tps, v)
		}
	}

	return &types.ParseResult{
		FormatTag:   "LIMITLESS",
		ProviderTag: "LIMITLESS",
		Symbol:      symbol,
		Direction:   direction,
		EntryRange:  rangeOf(a, b),
		SL:          sl,
		TPs:         tps,
	}
}
