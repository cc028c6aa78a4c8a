package parser

import (
	"regexp"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// GoldBroFast parses urgent Gold Brothers entries, e.g. "Compra ORO ahora
// @2500". A FAST signal carries direction, urgency, and at most a hint
// price; SL and TP arrive later in a complete signal or are defaulted at
// execution time. Anything that already looks like a complete signal is
// rejected so the structured parsers can claim it.
type GoldBroFast struct{}

var (
	gbFastBuyRe     = regexp.MustCompile(`(?i)\b(compra|comprar|compren|buy|long|entrada)\b`)
	gbFastSellRe    = regexp.MustCompile(`(?i)\b(vende|vender|vendan|venta|sell|short|salida)\b`)
	gbFastUrgencyRe = regexp.MustCompile(`(?i)\b(ahora|now|ya|inmediato|asap|de\s+nuevo|nuevamente)\b`)
	gbFastPriceRe   = regexp.MustCompile(`\b(\d{3,5}(?:\.\d{1,2})?)\b`)
	gbFastGuardRe   = regexp.MustCompile(`(?i)\b(entry|sl|stop\s*loss|tp1|tp2|tp3|take\s*profit|target|rango)\b`)
)

func (GoldBroFast) FormatTag() string { return "GB_FAST" }

func (GoldBroFast) Parse(text string) *types.ParseResult {
	norm := strings.TrimSpace(text)

	if strings.Contains(strings.ToLower(norm), "risk price") {
		return nil
	}
	if gbFastGuardRe.MatchString(norm) {
		return nil
	}

	isBuy := gbFastBuyRe.MatchString(norm)
	isSell := gbFastSellRe.MatchString(norm)
	if !isBuy && !isSell {
		return nil
	}
	if !gbFastUrgencyRe.MatchString(norm) {
		return nil
	}

	// First plausible gold price in the text, if any.
	var hint float64
	if m := gbFastPriceRe.FindStringSubmatch(norm); m != nil {
		if v, ok := num(m[1]); ok && v >= 1000 && v <= 3000 {
			hint = v
		}
	}

	direction := types.SELL
	if isBuy {
		direction = types.BUY
	}

	return &types.ParseResult{
		FormatTag:   "GB_FAST",
		ProviderTag: "GB_FAST",
		Symbol:      "XAUUSD",
		Direction:   direction,
		IsFast:      true,
		HintPrice:   hint,
	}
}
