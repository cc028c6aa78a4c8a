package executor

import (
	"math"
	"strings"
	"testing"

	"github.com/yalvarez/trading-platform/pkg/types"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestRoundPrice(t *testing.T) {
	t.Parallel()
	tests := []struct {
		symbol string
		in     float64
		want   float64
	}{
		{"XAUUSD", 2500.12345, 2500.12},
		{"XAUUSD", 2500.126, 2500.13},
		{"EURUSD", 1.234567, 1.23457},
		{"GBPJPY", 187.4, 187.4},
	}
	for _, tt := range tests {
		if got := RoundPrice(tt.symbol, tt.in); !almostEqual(got, tt.want) {
			t.Errorf("RoundPrice(%s, %v) = %v, want %v", tt.symbol, tt.in, got, tt.want)
		}
	}
}

func TestDefaultSL(t *testing.T) {
	t.Parallel()
	// Gold pips are fixed 0.10 price units regardless of point.
	if got := DefaultSL("XAUUSD", types.BUY, 2500, 0.01, 300); !almostEqual(got, 2470) {
		t.Errorf("XAU BUY default SL = %v, want 2470", got)
	}
	if got := DefaultSL("XAUUSD", types.SELL, 2500, 0.01, 300); !almostEqual(got, 2530) {
		t.Errorf("XAU SELL default SL = %v, want 2530", got)
	}
	if got := DefaultSL("EURUSD", types.SELL, 1.1, 0.0001, 100); !almostEqual(got, 1.11) {
		t.Errorf("EURUSD SELL default SL = %v, want 1.11", got)
	}
}

func TestClampStops(t *testing.T) {
	t.Parallel()
	// stops_level 100 points at 0.01 point = 1.00 minimum distance.
	if got := ClampStops("XAUUSD", types.BUY, 2500, 2499.5, 100, 0.01); !almostEqual(got, 2499) {
		t.Errorf("BUY clamp = %v, want 2499", got)
	}
	if got := ClampStops("XAUUSD", types.BUY, 2500, 2450, 100, 0.01); !almostEqual(got, 2450) {
		t.Errorf("BUY far SL should pass through, got %v", got)
	}
	if got := ClampStops("XAUUSD", types.SELL, 2500, 2500.5, 100, 0.01); !almostEqual(got, 2501) {
		t.Errorf("SELL clamp = %v, want 2501", got)
	}
	// Wrong-side SL gets pulled to the boundary even with stops_level 0.
	if got := ClampStops("XAUUSD", types.BUY, 2500, 2501, 0, 0.01); !almostEqual(got, 2500) {
		t.Errorf("wrong-side BUY SL = %v, want 2500", got)
	}
	if got := ClampStops("XAUUSD", types.BUY, 2500, 0, 100, 0.01); got != 0 {
		t.Errorf("zero SL must stay zero, got %v", got)
	}
}

func TestFloorToStep(t *testing.T) {
	t.Parallel()
	tests := []struct {
		volume, step, want float64
	}{
		{0.015, 0.01, 0.01},
		{0.07, 0.01, 0.07},
		{0.029, 0.01, 0.02},
		{0.1 * 0.3, 0.01, 0.03}, // binary drift must not lose a step
		{0.5, 0, 0.5},
	}
	for _, tt := range tests {
		if got := FloorToStep(tt.volume, tt.step); !almostEqual(got, tt.want) {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", tt.volume, tt.step, got, tt.want)
		}
	}
}

func TestLotForRisk(t *testing.T) {
	t.Parallel()
	info := &types.SymbolInfo{
		VolumeStep: 0.01, VolumeMin: 0.01, VolumeMax: 100,
		TickValue: 1, TickSize: 0.01,
	}
	// 1% of 10000 = 100 risked over a 5.00 stop at 100/unit/lot.
	if got := LotForRisk(10000, 1, 5, info); !almostEqual(got, 0.2) {
		t.Errorf("lot = %v, want 0.2", got)
	}
	// Tiny risk clamps up to the broker minimum.
	if got := LotForRisk(100, 0.1, 50, info); !almostEqual(got, 0.01) {
		t.Errorf("small lot = %v, want volume_min 0.01", got)
	}
	// Oversized risk clamps to the maximum.
	if got := LotForRisk(1e9, 10, 0.5, info); !almostEqual(got, 100) {
		t.Errorf("huge lot = %v, want volume_max 100", got)
	}
	// Degenerate symbol data falls back to the minimum.
	if got := LotForRisk(10000, 1, 0, info); !almostEqual(got, 0.01) {
		t.Errorf("zero distance lot = %v, want 0.01", got)
	}
}

func TestPartialVolume(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name             string
		current, percent float64
		want             float64
	}{
		{"half of 0.03 floors to one step", 0.03, 50, 0.01},
		{"half of 0.02 keeps sellable residual", 0.02, 50, 0.01},
		{"thirty percent of 0.05", 0.05, 30, 0.01},
		{"minimum lot promotes to full close", 0.01, 50, 0.01},
		{"hundred percent closes everything", 0.1, 100, 0.1},
		{"zero volume closes nothing", 0, 50, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := PartialVolume(tt.current, tt.percent, 0.01, 0.01)
			if !almostEqual(got, tt.want) {
				t.Errorf("PartialVolume(%v, %v%%) = %v, want %v", tt.current, tt.percent, got, tt.want)
			}
		})
	}
}

func TestBEPrice(t *testing.T) {
	t.Parallel()
	if got := BEPrice("XAUUSD", types.BUY, 2500, 0.3, 3, 0.01); !almostEqual(got, 2500.6) {
		t.Errorf("BUY BE = %v, want 2500.6", got)
	}
	if got := BEPrice("XAUUSD", types.BUY, 2500, 0.3, 0, 0.01); !almostEqual(got, 2500.3) {
		t.Errorf("BUY BE without offset = %v, want 2500.3", got)
	}
	if got := BEPrice("XAUUSD", types.SELL, 2500, 0.3, 3, 0.01); !almostEqual(got, 2499.4) {
		t.Errorf("SELL BE = %v, want 2499.4", got)
	}
}

func TestSLForPnL(t *testing.T) {
	t.Parallel()
	// Banked 6.00 over a 0.02 residual at 100/unit/lot puts the stop 3.00
	// on the losing side of entry.
	if got := SLForPnL("XAUUSD", types.BUY, 4459, 6, 0.02, 100); !almostEqual(got, 4456) {
		t.Errorf("BUY pnl SL = %v, want 4456", got)
	}
	if got := SLForPnL("XAUUSD", types.SELL, 4459, 6, 0.02, 100); !almostEqual(got, 4462) {
		t.Errorf("SELL pnl SL = %v, want 4462", got)
	}
	if got := SLForPnL("XAUUSD", types.BUY, 4459, 0, 0.02, 100); got != 0 {
		t.Errorf("no realised profit must yield no SL, got %v", got)
	}
}

func TestSafeComment(t *testing.T) {
	t.Parallel()
	if got := SafeComment("YsaCopy", "hannah"); got != "YsaCopy-hannah" {
		t.Errorf("SafeComment = %q", got)
	}
	if got := SafeComment("hannah", "SLUPD", ""); got != "hannah-SLUPD" {
		t.Errorf("empty parts must be dropped, got %q", got)
	}
	if got := SafeComment("YsaCopy", "TORO FX!"); got != "YsaCopy-TOROFX" {
		t.Errorf("specials must be stripped, got %q", got)
	}
	long := SafeComment("YsaCopy", strings.Repeat("x", 40))
	if len(long) != 31 {
		t.Errorf("comment length = %d, want 31", len(long))
	}
}
