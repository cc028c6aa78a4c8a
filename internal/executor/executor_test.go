package executor

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yalvarez/trading-platform/internal/config"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// fakeBroker is an in-memory MT5 terminal. Ticks are consumed one per
// SymbolTick call with the last one repeating; canned results are consumed
// one per OrderSend with auto-fills after they run out. Accepted SLTP and
// close requests mutate the stored positions like a real terminal would.
type fakeBroker struct {
	mu         sync.Mutex
	info       types.SymbolInfo
	ticks      []types.Tick
	tickIdx    int
	positions  map[int64]*types.Position
	balance    float64
	results    []types.OrderResult
	resIdx     int
	sent       []types.OrderRequest
	nextTicket int64
}

func newFakeBroker(ticks ...types.Tick) *fakeBroker {
	return &fakeBroker{
		info: types.SymbolInfo{
			Name: "XAUUSD", Point: 0.01, Digits: 2,
			VolumeStep: 0.01, VolumeMin: 0.01, VolumeMax: 100,
			TickValue: 1, TickSize: 0.01, TradeFillMode: 1,
		},
		ticks:      ticks,
		positions:  make(map[int64]*types.Position),
		balance:    10000,
		nextTicket: 100,
	}
}

func (f *fakeBroker) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	return true, nil
}

func (f *fakeBroker) SymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.info
	return &info, nil
}

func (f *fakeBroker) SymbolTick(ctx context.Context, symbol string) (*types.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ticks) == 0 {
		return &types.Tick{}, nil
	}
	t := f.ticks[f.tickIdx]
	if f.tickIdx < len(f.ticks)-1 {
		f.tickIdx++
	}
	return &t, nil
}

func (f *fakeBroker) Positions(ctx context.Context, ticket int64) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Position
	for _, p := range f.positions {
		if ticket == 0 || p.Ticket == ticket {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeBroker) OrderSend(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	var res types.OrderResult
	if f.resIdx < len(f.results) {
		res = f.results[f.resIdx]
		f.resIdx++
	} else {
		f.nextTicket++
		res = types.OrderResult{Retcode: types.RetcodeDone, Order: f.nextTicket, Price: req.Price}
	}
	if !types.RetcodeOK(res.Retcode) {
		return &res, nil
	}
	switch req.Action {
	case types.ActionSLTP:
		if p, ok := f.positions[req.Position]; ok {
			p.SL = req.SL
			p.TP = req.TP
			p.TimeUpdate++
		}
	case types.ActionDeal:
		if req.Position != 0 {
			if p, ok := f.positions[req.Position]; ok {
				p.Volume -= req.Volume
				p.TimeUpdate++
				if p.Volume < 1e-9 {
					delete(f.positions, req.Position)
				}
			}
		}
	}
	return &res, nil
}

func (f *fakeBroker) AccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.AccountInfo{Balance: f.balance, Equity: f.balance}, nil
}

func (f *fakeBroker) requests() []types.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.OrderRequest(nil), f.sent...)
}

func (f *fakeBroker) addPosition(p types.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := p
	f.positions[p.Ticket] = &cp
}

func (f *fakeBroker) position(ticket int64) (types.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[ticket]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotifier) Notify(account, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, account+"|"+message)
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testCfg() config.ExecutorConfig {
	return config.ExecutorConfig{
		Magic:            987654,
		Deviation:        50,
		CommentPrefix:    "YsaCopy",
		EntryBandPips:    15,
		EntryWait:        300 * time.Millisecond,
		EntryPoll:        time.Millisecond,
		DefaultSLPips:    100,
		DefaultSLXAUPips: 300,
		AccountTimeout:   2 * time.Second,
	}
}

func xau(bid, ask float64) types.Tick {
	return types.Tick{Bid: bid, Ask: ask, Time: time.Now().Unix()}
}

func account(name string, channels ...int64) types.Account {
	return types.Account{Name: name, Active: true, FixedLot: 0.03, AllowedChannels: channels}
}

func newTestExecutor(cfg config.ExecutorConfig, accounts []types.Account, brokers map[string]Broker, n Notifier) (*Executor, chan types.TradeEvent) {
	events := make(chan types.TradeEvent, 32)
	return New(cfg, accounts, brokers, events, n, testLogger()), events
}

func drainEvents(ch chan types.TradeEvent) []types.TradeEvent {
	var out []types.TradeEvent
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []types.TradeEvent) []types.EventType {
	out := make([]types.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func openCmd() types.TradeCommand {
	return types.TradeCommand{
		SignalID:      "trace-1",
		Type:          types.CmdOpen,
		Symbol:        "XAUUSD",
		Direction:     types.BUY,
		EntryRange:    &types.EntryRange{Lo: 2500, Hi: 2505},
		SL:            2490,
		TPs:           []float64{2515, 2530},
		ProviderTag:   "hannah",
		SourceChannel: -5250557024,
	}
}

func TestOpenCompleteTradeFillsAccount(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2500.0, 2500.3))
	n := &fakeNotifier{}
	ex, events := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, n)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if len(out.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", out.Errors)
	}
	open, ok := out.Opens["a1"]
	if !ok {
		t.Fatal("a1 missing from opens")
	}
	if open.Ticket != 101 {
		t.Errorf("ticket = %d, want 101", open.Ticket)
	}
	if !almostEqual(open.Price, 2500.3) {
		t.Errorf("fill price = %v, want the in-band ask 2500.3", open.Price)
	}

	reqs := fb.requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d orders, want 1", len(reqs))
	}
	req := reqs[0]
	if req.Action != types.ActionDeal || req.Type != 0 {
		t.Errorf("action/type = %v/%v, want DEAL/0", req.Action, req.Type)
	}
	if !almostEqual(req.Volume, 0.03) {
		t.Errorf("volume = %v, want fixed lot 0.03", req.Volume)
	}
	if !almostEqual(req.SL, 2490) {
		t.Errorf("sl = %v, want 2490", req.SL)
	}
	if req.TP != 0 {
		t.Errorf("broker-side TP = %v, want 0 (ladder is managed in software)", req.TP)
	}
	if req.Magic != 987654 || req.Deviation != 50 {
		t.Errorf("magic/deviation = %d/%d", req.Magic, req.Deviation)
	}
	if req.Comment != "YsaCopy-hannah" {
		t.Errorf("comment = %q", req.Comment)
	}

	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != types.EventOpened {
		t.Fatalf("events = %v, want one opened", eventTypes(evs))
	}
	if evs[0].TraceID != "trace-1" {
		t.Errorf("trace = %q", evs[0].TraceID)
	}
	if msgs := n.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "ticket 101") {
		t.Errorf("notifications = %v", msgs)
	}
}

func TestOpenSkipsInactiveAndForeignChannels(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2500.0, 2500.3))
	inactive := account("a2")
	inactive.Active = false
	foreign := account("a3", -999)
	ex, _ := newTestExecutor(testCfg(),
		[]types.Account{account("a1"), inactive, foreign},
		map[string]Broker{"a1": fb, "a2": fb, "a3": fb}, nil)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if len(out.Opens) != 1 || len(out.Errors) != 0 {
		t.Fatalf("opens=%v errors=%v, want a1 only", out.Opens, out.Errors)
	}
	if _, ok := out.Opens["a1"]; !ok {
		t.Error("a1 missing")
	}
}

func TestOpenHonoursExplicitAccountList(t *testing.T) {
	t.Parallel()
	fb1 := newFakeBroker(xau(2500.0, 2500.3))
	fb2 := newFakeBroker(xau(2500.0, 2500.3))
	ex, _ := newTestExecutor(testCfg(),
		[]types.Account{account("a1"), account("a2")},
		map[string]Broker{"a1": fb1, "a2": fb2}, nil)

	cmd := openCmd()
	cmd.Accounts = []string{"a2"}
	out := ex.OpenCompleteTrade(context.Background(), cmd)

	if _, ok := out.Opens["a2"]; !ok || len(out.Opens) != 1 {
		t.Fatalf("opens = %v, want a2 only", out.Opens)
	}
	if len(fb1.requests()) != 0 {
		t.Error("a1 must not receive orders")
	}
}

func TestOpenRejectsBeyondEntryBand(t *testing.T) {
	t.Parallel()
	// hi 2505 + 15 gold pips = 2506.5; ask 2507 is past it.
	fb := newFakeBroker(xau(2506.7, 2507.0))
	ex, events := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if len(out.Opens) != 0 {
		t.Fatalf("opens = %v, want none", out.Opens)
	}
	if reason := out.Errors["a1"]; !strings.Contains(reason, "entry band") {
		t.Errorf("error = %q, want entry band rejection", reason)
	}
	if len(fb.requests()) != 0 {
		t.Error("no order may be sent on a rejected entry")
	}
	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != types.EventSkipped || evs[0].Reason != "outside_entry_band" {
		t.Fatalf("events = %+v, want one skipped/outside_entry_band", evs)
	}
}

func TestOpenWaitsForPriceToReachRange(t *testing.T) {
	t.Parallel()
	// Reference below the range: poll until the ask climbs into it.
	fb := newFakeBroker(xau(2497.7, 2498.0), xau(2497.8, 2498.1), xau(2499.9, 2500.2))
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	open, ok := out.Opens["a1"]
	if !ok {
		t.Fatalf("open missing, errors=%v", out.Errors)
	}
	if !almostEqual(open.Price, 2500.2) {
		t.Errorf("fill price = %v, want first in-band ask 2500.2", open.Price)
	}
}

func TestOpenTimesOutWhenEntryNeverReached(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.EntryWait = 30 * time.Millisecond
	fb := newFakeBroker(xau(2497.7, 2498.0))
	ex, events := newTestExecutor(cfg, []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if len(out.Errors) != 1 {
		t.Fatalf("errors = %v, want entry timeout for a1", out.Errors)
	}
	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Reason != "entry_not_reached" {
		t.Fatalf("events = %+v, want skipped/entry_not_reached", evs)
	}
}

func TestOpenAppliesDefaultSLFallback(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2499.7, 2500.0))
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	cmd := openCmd()
	cmd.EntryRange = nil
	cmd.SL = 0
	cmd.TPs = nil
	cmd.HintPrice = 2500
	out := ex.OpenCompleteTrade(context.Background(), cmd)

	if len(out.Errors) != 0 {
		t.Fatalf("errors = %v", out.Errors)
	}
	reqs := fb.requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d orders", len(reqs))
	}
	// 300 gold pips below the 2500.0 fill.
	if !almostEqual(reqs[0].SL, 2470) {
		t.Errorf("fallback SL = %v, want 2470", reqs[0].SL)
	}
}

func TestOpenSizesLotFromRisk(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2500.2, 2500.5))
	acc := types.Account{Name: "a1", Active: true, RiskPercent: 1}
	ex, _ := newTestExecutor(testCfg(), []types.Account{acc}, map[string]Broker{"a1": fb}, nil)

	cmd := openCmd()
	cmd.SL = 2495.5 // 5.00 below the 2500.5 fill
	out := ex.OpenCompleteTrade(context.Background(), cmd)

	if len(out.Errors) != 0 {
		t.Fatalf("errors = %v", out.Errors)
	}
	// 1% of 10000 = 100 over 5.00 × (1/0.01) value per lot.
	if reqs := fb.requests(); !almostEqual(reqs[0].Volume, 0.2) {
		t.Errorf("volume = %v, want 0.2", reqs[0].Volume)
	}
}

func TestOpenWalksFillingModes(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2500.0, 2500.3))
	fb.results = []types.OrderResult{
		{Retcode: types.RetcodeInvalidFill},
		{Retcode: types.RetcodeDone, Order: 500, Price: 2500.3},
	}
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if out.Opens["a1"].Ticket != 500 {
		t.Fatalf("opens = %v, errors = %v", out.Opens, out.Errors)
	}
	reqs := fb.requests()
	if len(reqs) != 2 {
		t.Fatalf("sent %d orders, want 2", len(reqs))
	}
	if reqs[0].TypeFilling != types.FillingIOC || reqs[1].TypeFilling != types.FillingFOK {
		t.Errorf("filling sequence = %v, %v; want IOC then FOK", reqs[0].TypeFilling, reqs[1].TypeFilling)
	}
}

func TestOpenStopsOnNonFillingRejection(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(2500.0, 2500.3))
	fb.results = []types.OrderResult{{Retcode: 10019, Comment: "No money"}}
	n := &fakeNotifier{}
	ex, events := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, n)

	out := ex.OpenCompleteTrade(context.Background(), openCmd())

	if len(fb.requests()) != 1 {
		t.Fatalf("sent %d orders, want 1 (no filling retry on 10019)", len(fb.requests()))
	}
	if reason := out.Errors["a1"]; !strings.Contains(reason, "10019") {
		t.Errorf("error = %q, want retcode 10019", reason)
	}
	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != types.EventOpenFailed {
		t.Fatalf("events = %v", eventTypes(evs))
	}
	if msgs := n.messages(); len(msgs) != 1 || !strings.Contains(msgs[0], "failed") {
		t.Errorf("notifications = %v", msgs)
	}
}

func TestFillCandidatesOrder(t *testing.T) {
	t.Parallel()
	ex, _ := newTestExecutor(testCfg(), nil, nil, nil)

	info := &types.SymbolInfo{TradeFillMode: int(types.FillingFOK)}
	got := ex.fillCandidates("a1", "XAUUSD", info)
	want := []types.FillingMode{types.FillingFOK, types.FillingIOC, types.FillingReturn}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}

	// Unknown advertised mode falls back to the fixed order.
	got = ex.fillCandidates("a1", "XAUUSD", &types.SymbolInfo{TradeFillMode: 0})
	if len(got) != 3 || got[0] != types.FillingIOC {
		t.Fatalf("fallback candidates = %v", got)
	}
}

func TestFillOverridePinsMode(t *testing.T) {
	t.Parallel()
	cfg := testCfg()
	cfg.FillOverrides = []config.FillOverride{{Account: "star", Symbol: "XAUUSD", Mode: int(types.FillingFOK)}}
	ex, _ := newTestExecutor(cfg, nil, nil, nil)

	info := &types.SymbolInfo{TradeFillMode: int(types.FillingIOC)}
	got := ex.fillCandidates("star", "XAUUSD", info)
	if len(got) != 1 || got[0] != types.FillingFOK {
		t.Fatalf("override candidates = %v, want [FOK]", got)
	}
	if got = ex.fillCandidates("other", "XAUUSD", info); len(got) != 3 {
		t.Fatalf("non-override candidates = %v, want 3", got)
	}
}

func TestModifySLVerifiesAgainstPosition(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4462.7, 4463.0))
	fb.addPosition(types.Position{
		Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.03,
		PriceOpen: 4459, PriceCurrent: 4463, SL: 4454, Magic: 987654,
	})
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	ok, err := ex.ModifySL(context.Background(), "a1", 7, 4459.3, "tp1", "hannah")
	if err != nil || !ok {
		t.Fatalf("ModifySL = %v, %v", ok, err)
	}

	pos, _ := fb.position(7)
	if !almostEqual(pos.SL, 4459.3) {
		t.Errorf("position SL = %v, want 4459.3", pos.SL)
	}
	reqs := fb.requests()
	if len(reqs) != 1 || reqs[0].Action != types.ActionSLTP {
		t.Fatalf("requests = %+v", reqs)
	}
	if reqs[0].Comment != "hannah-SLUPD-tp1" {
		t.Errorf("comment = %q", reqs[0].Comment)
	}
}

func TestModifySLReportsRejection(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4462.7, 4463.0))
	fb.addPosition(types.Position{Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.03, PriceOpen: 4459, PriceCurrent: 4463, SL: 4454})
	fb.results = []types.OrderResult{{Retcode: 10016, Comment: "Invalid stops"}}
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	ok, err := ex.ModifySL(context.Background(), "a1", 7, 4459.3, "tp1", "hannah")
	if ok || err == nil || !strings.Contains(err.Error(), "10016") {
		t.Fatalf("ModifySL = %v, %v; want rejection with retcode", ok, err)
	}
}

func TestModifySLMissingTicket(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4462.7, 4463.0))
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	if ok, err := ex.ModifySL(context.Background(), "a1", 42, 4459.3, "tp1", ""); ok || err == nil {
		t.Fatalf("ModifySL on missing ticket = %v, %v", ok, err)
	}
}

func TestPartialCloseSendsCounterOrder(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4463.0, 4463.3))
	fb.addPosition(types.Position{
		Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.03,
		PriceOpen: 4459, PriceCurrent: 4463, SL: 4454,
	})
	ex, events := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	closed, err := ex.PartialClose(context.Background(), "a1", 7, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(closed, 0.01) {
		t.Errorf("closed = %v, want 0.01 (50%% of 0.03 floored to step)", closed)
	}

	reqs := fb.requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d orders", len(reqs))
	}
	req := reqs[0]
	if req.Type != 1 || req.Position != 7 {
		t.Errorf("counter order type/position = %d/%d, want SELL against ticket 7", req.Type, req.Position)
	}
	if !almostEqual(req.Price, 4463.0) {
		t.Errorf("counter price = %v, want bid 4463.0", req.Price)
	}
	pos, _ := fb.position(7)
	if !almostEqual(pos.Volume, 0.02) {
		t.Errorf("residual volume = %v, want 0.02", pos.Volume)
	}
	evs := drainEvents(events)
	if len(evs) != 1 || evs[0].Type != types.EventPartialClose || !almostEqual(evs[0].Volume, 0.01) {
		t.Fatalf("events = %+v", evs)
	}
}

func TestPartialClosePromotesToFullOnMinimumLot(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4463.0, 4463.3))
	fb.addPosition(types.Position{Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.01, PriceOpen: 4459, PriceCurrent: 4463})
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	closed, err := ex.PartialClose(context.Background(), "a1", 7, 50)
	if err != nil {
		t.Fatal(err)
	}
	if !almostEqual(closed, 0.01) {
		t.Errorf("closed = %v, want full 0.01", closed)
	}
	if _, ok := fb.position(7); ok {
		t.Error("position should be gone after promoted full close")
	}
}

func TestEarlyPartialCloseRefusesMinimumLot(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4463.0, 4463.3))
	fb.addPosition(types.Position{Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.01, PriceOpen: 4459, PriceCurrent: 4463})
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	ok, err := ex.EarlyPartialClose(context.Background(), "a1", 7, 0.3, "gb", "be_pips")
	if ok || err == nil {
		t.Fatalf("EarlyPartialClose = %v, %v; want refusal", ok, err)
	}
	if len(fb.requests()) != 0 {
		t.Error("no order may be sent on a refused early close")
	}
}

func TestEarlyPartialCloseRoundsSmallLotUp(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4463.0, 4463.3))
	fb.addPosition(types.Position{
		Ticket: 7, Symbol: "XAUUSD", Type: 0, Volume: 0.03,
		PriceOpen: 4459, PriceCurrent: 4463, SL: 4454,
	})
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	// 30% of 0.03 floors to zero steps; the close rounds up to one step
	// instead of refusing the risk-off.
	ok, err := ex.EarlyPartialClose(context.Background(), "a1", 7, 0.3, "gb", "be_pips")
	if err != nil || !ok {
		t.Fatalf("EarlyPartialClose = %v, %v", ok, err)
	}
	reqs := fb.requests()
	if len(reqs) < 1 || !almostEqual(reqs[0].Volume, 0.01) {
		t.Fatalf("close volume = %+v, want 0.01", reqs)
	}
	pos, _ := fb.position(7)
	if !almostEqual(pos.Volume, 0.02) {
		t.Errorf("residual volume = %v, want 0.02", pos.Volume)
	}
}

func TestEarlyPartialCloseThenBreakEven(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4462.0, 4462.3))
	fb.addPosition(types.Position{
		Ticket: 9, Symbol: "XAUUSD", Type: 0, Volume: 0.10,
		PriceOpen: 4459, PriceCurrent: 4462, SL: 4454,
	})
	ex, events := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	ok, err := ex.EarlyPartialClose(context.Background(), "a1", 9, 0.3, "gb", "be_pips")
	if err != nil || !ok {
		t.Fatalf("EarlyPartialClose = %v, %v", ok, err)
	}

	reqs := fb.requests()
	if len(reqs) != 2 {
		t.Fatalf("sent %d orders, want close then SLTP", len(reqs))
	}
	if !almostEqual(reqs[0].Volume, 0.03) {
		t.Errorf("close volume = %v, want 30%% of 0.10", reqs[0].Volume)
	}
	if reqs[1].Action != types.ActionSLTP {
		t.Errorf("second request = %v, want SLTP", reqs[1].Action)
	}
	pos, _ := fb.position(9)
	// Entry 4459 plus the 0.30 spread, no extra offset.
	if !almostEqual(pos.SL, 4459.3) {
		t.Errorf("BE SL = %v, want 4459.3", pos.SL)
	}
	evs := eventTypes(drainEvents(events))
	want := map[types.EventType]bool{types.EventPartialClose: true, types.EventBreakEven: true}
	for _, typ := range evs {
		delete(want, typ)
	}
	if len(want) != 0 {
		t.Errorf("events = %v, missing %v", evs, want)
	}
}

func TestOpenRunnerTrade(t *testing.T) {
	t.Parallel()
	fb := newFakeBroker(xau(4459.7, 4460.0))
	ex, _ := newTestExecutor(testCfg(), []types.Account{account("a1")}, map[string]Broker{"a1": fb}, nil)

	open, err := ex.OpenRunnerTrade(context.Background(), "a1", "XAUUSD", types.BUY, 0.009, 4459, 4466, "hannah_REENTRY")
	if err != nil {
		t.Fatal(err)
	}
	if open.Ticket != 101 {
		t.Errorf("ticket = %d", open.Ticket)
	}
	reqs := fb.requests()
	if len(reqs) != 1 {
		t.Fatalf("sent %d orders", len(reqs))
	}
	req := reqs[0]
	if !almostEqual(req.Volume, 0.01) {
		t.Errorf("volume = %v, want raise to broker minimum 0.01", req.Volume)
	}
	if !almostEqual(req.SL, 4459) || !almostEqual(req.TP, 4466) {
		t.Errorf("sl/tp = %v/%v, want 4459/4466", req.SL, req.TP)
	}
	if req.Comment != "YsaCopy-hannah_REENTRY" {
		t.Errorf("comment = %q", req.Comment)
	}
}
