package dedup

import (
	"testing"

	"github.com/yalvarez/trading-platform/pkg/types"
)

func sampleResult() *types.ParseResult {
	return &types.ParseResult{
		FormatTag:   "HANNAH",
		ProviderTag: "hannah",
		Symbol:      "XAUUSD",
		Direction:   types.BUY,
		EntryRange:  &types.EntryRange{Lo: 4457, Hi: 4460},
		SL:          4454,
		TPs:         []float64{4463, 4466},
	}
}

func TestSignatureStable(t *testing.T) {
	t.Parallel()

	a := Signature(-5250557024, sampleResult())
	b := Signature(-5250557024, sampleResult())
	if a != b {
		t.Errorf("identical signals hashed differently: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Errorf("signature length = %d, want 32 hex chars", len(a))
	}
}

func TestSignatureTPOrderIndependent(t *testing.T) {
	t.Parallel()

	r1 := sampleResult()
	r2 := sampleResult()
	r2.TPs = []float64{4466, 4463}

	if Signature(-1, r1) != Signature(-1, r2) {
		t.Error("TP ordering should not change the signature")
	}
}

func TestSignatureDiscriminates(t *testing.T) {
	t.Parallel()

	base := Signature(-1, sampleResult())

	tests := []struct {
		name   string
		mutate func(*types.ParseResult)
	}{
		{"direction", func(r *types.ParseResult) { r.Direction = types.SELL }},
		{"symbol", func(r *types.ParseResult) { r.Symbol = "EURUSD" }},
		{"sl", func(r *types.ParseResult) { r.SL = 4450 }},
		{"tps", func(r *types.ParseResult) { r.TPs = []float64{4463} }},
		{"entry", func(r *types.ParseResult) { r.EntryRange = &types.EntryRange{Lo: 4455, Hi: 4460} }},
		{"provider", func(r *types.ParseResult) { r.ProviderTag = "GB_LONG" }},
	}

	for _, tt := range tests {
		r := sampleResult()
		tt.mutate(r)
		if Signature(-1, r) == base {
			t.Errorf("%s change did not alter the signature", tt.name)
		}
	}
}

func TestSignatureChannelScoped(t *testing.T) {
	t.Parallel()

	r := sampleResult()
	if Signature(-100, r) == Signature(-200, r) {
		t.Error("same signal on different channels should hash differently")
	}
}

func TestFastKeyComposition(t *testing.T) {
	t.Parallel()

	got := fastKey(-5250557024, "XAUUSD", types.BUY)
	want := "fast_sig:-5250557024:XAUUSD:BUY"
	if got != want {
		t.Errorf("fastKey = %q, want %q", got, want)
	}
}
