package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// ToroFX parses the ToroFX provider format. ToroFX mixes entry signals with
// management chatter ("tomar parcial", "cierro mi entrada") in the same
// channel, so management text is rejected here and handled downstream.
// Signals never carry take-profit levels even when the text mentions them;
// the provider manages exits through follow-up messages.
type ToroFX struct{}

var (
	torofxSymbolRe = regexp.MustCompile(`(?i)([A-Z]{3,5}/[A-Z]{3,5}|[A-Z]{6,7}|eur|gbp|usd|nzd|cad|jpy|aud|chf|btc|eth)`)
	torofxBuyRe    = regexp.MustCompile(`(?i)\bBUY\b`)
	torofxSellRe   = regexp.MustCompile(`(?i)\bSELL\b`)
	torofxEntryRe  = regexp.MustCompile(`(?i)entry[\s:]*(\d+(?:\.\d{1,5})?)\s*[-–]\s*(\d+(?:\.\d{1,5})?)`)
	torofxBareRe   = regexp.MustCompile(`@?(\d+(?:\.\d{1,5})?)\s*[-–]\s*(\d+(?:\.\d{1,5})?)`)
	torofxSingleRe = regexp.MustCompile(`(?i)entry(?:\s*price)?[\s:\-]*@?(\d+(?:\.\d{1,5})?)`)
	torofxSLRe     = regexp.MustCompile(`(?i)(?:sl|stop\s*loss)[\s:]*(\d+(?:\.\d{1,5})?)`)

	torofxPartialRe = regexp.MustCompile(`(?i)\b(tomar\s*parcial|take\s*partial|partial\s*profit)\b`)
	torofxCloseRe   = regexp.MustCompile(`(?i)\b(cierro|cerrar|close)\b`)

	torofxMarketSymRe = regexp.MustCompile(`(?:BUY|SELL)\s+MARKET\s+([A-Z]{3,10})`)
	torofxPairRe      = regexp.MustCompile(`([A-Z]{3,5}/[A-Z]{3,5}|[A-Z]{6,7})`)
)

func (ToroFX) FormatTag() string { return "TOROFX" }

func (ToroFX) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	// Management chatter is not an entry signal. A close word only counts as
	// management when no direction accompanies it ("cerrar" inside a signal
	// body stays a signal).
	if torofxPartialRe.MatchString(norm) ||
		(torofxCloseRe.MatchString(norm) && !torofxBuyRe.MatchString(norm) && !torofxSellRe.MatchString(norm)) {
		return nil
	}

	if !torofxSymbolRe.MatchString(norm) {
		return nil
	}

	isBuy := torofxBuyRe.MatchString(norm)
	isSell := torofxSellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}

	var lo, hi float64
	if m := torofxEntryRe.FindStringSubmatch(norm); m != nil {
		a, ok1 := num(m[1])
		b, ok2 := num(m[2])
		if !ok1 || !ok2 {
			return nil
		}
		lo, hi = a, b
	} else if m := torofxBareRe.FindStringSubmatch(norm); m != nil {
		a, ok1 := num(m[1])
		b, ok2 := num(m[2])
		if !ok1 || !ok2 {
			return nil
		}
		lo, hi = a, b
	} else if m := torofxSingleRe.FindStringSubmatch(norm); m != nil {
		v, ok := num(m[1])
		if !ok {
			return nil
		}
		lo, hi = v, v
	} else {
		return nil
	}

	var sl float64
	if m := torofxSLRe.FindStringSubmatch(norm); m != nil {
		if v, ok := num(m[1]); ok {
			sl = v
		}
	}

	upper := strings.ToUpper(norm)
	symbol := "NO-SYMBOL"
	if m := torofxMarketSymRe.FindStringSubmatch(upper); m != nil {
		symbol = m[1]
	} else if m := torofxPairRe.FindStringSubmatch(upper); m != nil {
		symbol = strings.ReplaceAll(m[1], "/", "")
	}

	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	return &types.ParseResult{
		FormatTag:   "TOROFX",
		ProviderTag: "TOROFX",
		Symbol:      symbol,
		Direction:   direction,
		EntryRange:  rangeOf(lo, hi),
		SL:          sl,
		TPs:         nil,
	}
}
