package executor

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Price and volume arithmetic
// ————————————————————————————————————————————————————————————————————————
// Pure helpers shared by the open path and the manager loops. Everything
// that touches broker volume steps goes through decimal so 0.07 / 0.01
// style divisions never drift below a whole step.

// RoundPrice rounds a price to the symbol's conventional precision:
// 2 decimals for gold, 5 for FX pairs.
func RoundPrice(symbol string, price float64) float64 {
	places := int32(5)
	if strings.HasPrefix(strings.ToUpper(symbol), "XAU") {
		places = 2
	}
	out, _ := decimal.NewFromFloat(price).Round(places).Float64()
	return out
}

// DefaultSL places a fallback stop for a signal that carried none, at the
// configured pip distance on the losing side of price.
func DefaultSL(symbol string, direction types.Direction, price, point, pips float64) float64 {
	dist := types.PipsToPrice(symbol, pips, point)
	if direction == types.BUY {
		return RoundPrice(symbol, price-dist)
	}
	return RoundPrice(symbol, price+dist)
}

// ClampStops pulls a stop price back to the nearest value the broker
// accepts when it sits inside the minimum stop distance (or on the wrong
// side of price entirely). stopsLevel is in points.
func ClampStops(symbol string, direction types.Direction, price, sl float64, stopsLevel int, point float64) float64 {
	if sl == 0 {
		return 0
	}
	minDist := float64(stopsLevel) * point
	if direction == types.BUY {
		if limit := price - minDist; sl > limit {
			return RoundPrice(symbol, limit)
		}
		return sl
	}
	if limit := price + minDist; sl < limit {
		return RoundPrice(symbol, limit)
	}
	return sl
}

// FloorToStep rounds a volume down to a whole number of broker steps.
func FloorToStep(volume, step float64) float64 {
	if step <= 0 {
		return volume
	}
	v := decimal.NewFromFloat(volume)
	s := decimal.NewFromFloat(step)
	out, _ := v.Div(s).Floor().Mul(s).Float64()
	return out
}

// CeilToStep rounds a volume up to a whole number of broker steps.
func CeilToStep(volume, step float64) float64 {
	if step <= 0 {
		return volume
	}
	v := decimal.NewFromFloat(volume)
	s := decimal.NewFromFloat(step)
	out, _ := v.Div(s).Ceil().Mul(s).Float64()
	return out
}

// LotForRisk sizes a position so that the stop being hit costs riskPercent
// of balance. The raw lot is floored to the volume step and clamped to the
// broker's [min, max]. Degenerate symbol data falls back to the minimum lot.
func LotForRisk(balance, riskPercent, slDistance float64, info *types.SymbolInfo) float64 {
	if slDistance <= 0 || info.TickValue <= 0 || info.TickSize <= 0 {
		return info.VolumeMin
	}
	riskMoney := balance * riskPercent / 100.0
	valuePerUnit := info.TickValue / info.TickSize
	lot := FloorToStep(riskMoney/(slDistance*valuePerUnit), info.VolumeStep)
	if lot < info.VolumeMin {
		lot = info.VolumeMin
	}
	if info.VolumeMax > 0 && lot > info.VolumeMax {
		lot = info.VolumeMax
	}
	return lot
}

// PartialVolume computes the volume to close for a percent (0..100) partial
// close. The close is floored to the volume step and raised to the broker
// minimum; when the residual position would drop below the minimum the
// close is promoted to the full volume, since the broker would reject the
// leftover anyway.
func PartialVolume(current, percent, step, volumeMin float64) float64 {
	if current <= 0 || percent <= 0 {
		return 0
	}
	cur := decimal.NewFromFloat(current)
	min := decimal.NewFromFloat(volumeMin)
	raw, _ := cur.Mul(decimal.NewFromFloat(percent)).Div(decimal.NewFromInt(100)).Float64()
	closeVol := decimal.NewFromFloat(FloorToStep(raw, step))
	if min.IsPositive() && closeVol.LessThan(min) {
		closeVol = min
	}
	if closeVol.GreaterThan(cur) {
		closeVol = cur
	}
	if min.IsPositive() && cur.Sub(closeVol).LessThan(min) {
		closeVol = cur
	}
	out, _ := closeVol.Float64()
	return out
}

// BEPrice proposes a break-even stop: entry shifted by the current spread
// plus a safety offset, on the profitable side, so a stop-out still nets
// at least the offset.
func BEPrice(symbol string, direction types.Direction, entry, spread, offsetPips, point float64) float64 {
	shift := spread + types.PipsToPrice(symbol, offsetPips, point)
	if direction == types.BUY {
		return RoundPrice(symbol, entry+shift)
	}
	return RoundPrice(symbol, entry-shift)
}

// SLForPnL returns the stop price at which the residual position loses
// exactly the profit already banked, so the trade as a whole cannot finish
// negative. valuePerUnit is tick_value / tick_size. Returns 0 when the
// inputs cannot produce a meaningful stop.
func SLForPnL(symbol string, direction types.Direction, entry, realized, residualLot, valuePerUnit float64) float64 {
	if realized <= 0 || residualLot <= 0 || valuePerUnit <= 0 {
		return 0
	}
	dist := realized / (valuePerUnit * residualLot)
	if direction == types.BUY {
		return RoundPrice(symbol, entry-dist)
	}
	return RoundPrice(symbol, entry+dist)
}

var commentStrip = regexp.MustCompile(`[^A-Za-z0-9\-_.]`)

// SafeComment builds an order comment the trade server accepts: parts
// joined by '-', special characters stripped, truncated to the 31-byte
// MT5 comment limit. Empty parts are dropped.
func SafeComment(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	out := commentStrip.ReplaceAllString(strings.Join(kept, "-"), "")
	if len(out) > 31 {
		out = out[:31]
	}
	return out
}
