// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the platform — signal and
// command payloads, account snapshots, and the MT5 bridge wire structures.
// It has no dependencies on internal packages, so it can be imported by
// any layer.
package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Direction represents the side of a trade: BUY or SELL.
type Direction string

const (
	BUY  Direction = "BUY"
	SELL Direction = "SELL"
)

// Opposite returns the other side. Used when building counter-orders for
// partial closes.
func (d Direction) Opposite() Direction {
	if d == BUY {
		return SELL
	}
	return BUY
}

// TradingMode selects the per-account position-management behaviour.
type TradingMode string

const (
	ModeGeneral TradingMode = "general" // TP ladder + BE + trailing + runner
	ModeBEPips  TradingMode = "be_pips" // early 30% close + BE at a pip threshold
	ModeBEPnL   TradingMode = "be_pnl"  // early 30% close + SL placed to offset the realised profit
	ModeReentry TradingMode = "reentry" // full close at TP1, re-open a runner toward TP2
)

// Valid reports whether m is one of the supported trading modes.
// Empty means "use the default".
func (m TradingMode) Valid() bool {
	switch m {
	case ModeGeneral, ModeBEPips, ModeBEPnL, ModeReentry, "":
		return true
	}
	return false
}

// OrderAction is the MT5 trade-request action code.
type OrderAction int

const (
	ActionDeal OrderAction = 1 // market deal (open or close at market)
	ActionSLTP OrderAction = 6 // modify SL/TP of an open position
)

// FillingMode is the MT5 order filling policy, bridge-encoded.
type FillingMode int

const (
	FillingIOC    FillingMode = 1 // immediate-or-cancel
	FillingReturn FillingMode = 2 // partial fill allowed, remainder stays on book
	FillingFOK    FillingMode = 3 // fill-or-kill
)

// FillingFallback is the candidate order tried after the symbol-advertised
// mode is rejected. Different broker/symbol combinations reject different
// modes, so the list is explicit rather than derived from trade_fill_mode.
var FillingFallback = []FillingMode{FillingIOC, FillingFOK, FillingReturn}

// MT5 trade server return codes the platform reacts to.
const (
	RetcodeDone          = 10009 // request completed
	RetcodeDonePartial   = 10008 // request partially completed
	RetcodeInvalidFill   = 10030 // unsupported filling mode, retry with next candidate
	RetcodeInvalidParams = 10013 // invalid request, observed on filling mismatches too
)

// RetcodeOK reports whether an order_send retcode means the deal went through.
func RetcodeOK(code int) bool {
	return code == RetcodeDone || code == RetcodeDonePartial
}

// RetryableFill reports whether a retcode should trigger the filling-mode
// fallback instead of a hard failure.
func RetryableFill(code int) bool {
	return code == RetcodeInvalidFill || code == RetcodeInvalidParams
}

// ————————————————————————————————————————————————————————————————————————
// Accounts
// ————————————————————————————————————————————————————————————————————————

// Account is the configuration snapshot for one broker account, parsed from
// ACCOUNTS_JSON. Immutable within a process generation; edits require a
// restart.
type Account struct {
	Name            string      `json:"name"`
	Host            string      `json:"host"`
	Port            int         `json:"port"`
	Active          bool        `json:"active"`
	FixedLot        float64     `json:"fixed_lot"`
	RiskPercent     float64     `json:"risk_percent"`
	ChatID          string      `json:"chat_id"`          // notification chat for this account
	AllowedChannels []int64     `json:"allowed_channels"` // nil = accept every channel
	TradingMode     TradingMode `json:"trading_mode"`
	BEPips          float64     `json:"be_pips"` // threshold for be_pips / be_pnl modes
}

// AcceptsChannel reports whether a signal from the given source channel may
// trade on this account. An empty allow-list accepts everything.
func (a Account) AcceptsChannel(channel int64) bool {
	if len(a.AllowedChannels) == 0 {
		return true
	}
	for _, id := range a.AllowedChannels {
		if id == channel {
			return true
		}
	}
	return false
}

// Mode returns the trading mode, defaulting to general when unset.
func (a Account) Mode() TradingMode {
	if a.TradingMode == "" {
		return ModeGeneral
	}
	return a.TradingMode
}

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// EntryRange is the admissible entry price band of a signal, Lo ≤ Hi.
type EntryRange struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Normalize orders the bounds so Lo ≤ Hi.
func (r EntryRange) Normalize() EntryRange {
	if r.Lo > r.Hi {
		return EntryRange{Lo: r.Hi, Hi: r.Lo}
	}
	return r
}

// ParseResult is the canonical output of a format parser. Symbol and
// Direction are always present on a non-nil result; a parser missing any
// other required field returns nil instead of a partial result.
type ParseResult struct {
	FormatTag   string      // which format matched, e.g. "HANNAH", "GB_FAST"
	ProviderTag string      // provider identity carried into trade comments
	Symbol      string      // normalised, e.g. "XAUUSD"
	Direction   Direction   // BUY or SELL
	IsFast      bool        // urgent entry with no SL/TP, refined later
	HintPrice   float64     // optional price mentioned in a FAST signal, 0 = none
	EntryRange  *EntryRange // nil when the format carries no range
	SL          float64     // 0 = not provided
	TPs         []float64   // ordered as written, deduplicated
}

// Signal is a parsed signal as published on the parsed_signals stream.
type Signal struct {
	TraceID       string      `json:"trace"`
	SourceChannel int64       `json:"chat_id"`
	FormatTag     string      `json:"format_tag"`
	ProviderTag   string      `json:"provider_tag"`
	Symbol        string      `json:"symbol"`
	Direction     Direction   `json:"direction"`
	EntryRange    *EntryRange `json:"entry_range,omitempty"`
	SL            float64     `json:"sl"`
	TPs           []float64   `json:"tps"`
	Fast          bool        `json:"fast"`
	HintPrice     float64     `json:"hint_price"`
	Upgrade       bool        `json:"upgrade"` // retarget an open FAST trade, do not open
	RawText       string      `json:"raw_text"`
}

// StreamValues renders the signal as flat string fields for XADD.
// entry_range and tps are serialised as JSON arrays.
func (s Signal) StreamValues() map[string]any {
	v := map[string]any{
		"trace":        s.TraceID,
		"chat_id":      strconv.FormatInt(s.SourceChannel, 10),
		"format_tag":   s.FormatTag,
		"provider_tag": s.ProviderTag,
		"symbol":       s.Symbol,
		"direction":    string(s.Direction),
		"sl":           formatFloat(s.SL),
		"fast":         strconv.FormatBool(s.Fast),
		"upgrade":      strconv.FormatBool(s.Upgrade),
		"raw_text":     s.RawText,
	}
	if s.EntryRange != nil {
		b, _ := json.Marshal([2]float64{s.EntryRange.Lo, s.EntryRange.Hi})
		v["entry_range"] = string(b)
	}
	if len(s.TPs) > 0 {
		b, _ := json.Marshal(s.TPs)
		v["tps"] = string(b)
	}
	if s.HintPrice > 0 {
		v["hint_price"] = formatFloat(s.HintPrice)
	}
	return v
}

// SignalFromValues decodes a signal from XREADGROUP field values.
func SignalFromValues(values map[string]any) (Signal, error) {
	get := func(key string) string {
		if raw, ok := values[key]; ok {
			if s, ok := raw.(string); ok {
				return s
			}
		}
		return ""
	}

	s := Signal{
		TraceID:     get("trace"),
		FormatTag:   get("format_tag"),
		ProviderTag: get("provider_tag"),
		Symbol:      get("symbol"),
		Direction:   Direction(get("direction")),
		RawText:     get("raw_text"),
	}
	s.SourceChannel, _ = strconv.ParseInt(get("chat_id"), 10, 64)
	s.SL, _ = strconv.ParseFloat(get("sl"), 64)
	s.HintPrice, _ = strconv.ParseFloat(get("hint_price"), 64)
	s.Fast = get("fast") == "true"
	s.Upgrade = get("upgrade") == "true"

	if raw := get("entry_range"); raw != "" {
		var pair [2]float64
		if err := json.Unmarshal([]byte(raw), &pair); err != nil {
			return Signal{}, err
		}
		r := EntryRange{Lo: pair[0], Hi: pair[1]}.Normalize()
		s.EntryRange = &r
	}
	if raw := get("tps"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &s.TPs); err != nil {
			return Signal{}, err
		}
	}
	return s, nil
}

// ————————————————————————————————————————————————————————————————————————
// Commands and events
// ————————————————————————————————————————————————————————————————————————

// CommandType discriminates trade-command envelopes.
type CommandType string

const (
	CmdOpen         CommandType = "open"
	CmdClose        CommandType = "close"
	CmdPartialClose CommandType = "partial_close"
	CmdModifySL     CommandType = "modify_sl"
	CmdBreakEven    CommandType = "be"
	CmdTrailing     CommandType = "trailing"
	CmdAddon        CommandType = "addon"
)

// TradeCommand is the envelope carried on the trade_commands stream as a
// single JSON "data" field.
type TradeCommand struct {
	SignalID      string      `json:"signal_id"`
	Type          CommandType `json:"type"`
	Symbol        string      `json:"symbol"`
	Direction     Direction   `json:"direction"`
	EntryRange    *EntryRange `json:"entry_range,omitempty"`
	SL            float64     `json:"sl,omitempty"`
	TPs           []float64   `json:"tp,omitempty"`
	ProviderTag   string      `json:"provider_tag"`
	Accounts      []string    `json:"accounts,omitempty"` // empty = all eligible accounts
	Volume        float64     `json:"volume,omitempty"`
	Ticket        int64       `json:"ticket,omitempty"`
	SourceChannel int64       `json:"chat_id"`
	Fast          bool        `json:"fast,omitempty"`
	Upgrade       bool        `json:"upgrade,omitempty"`
	HintPrice     float64     `json:"hint_price,omitempty"`
	RawText       string      `json:"raw_text,omitempty"`
	Timestamp     time.Time   `json:"timestamp"`
}

// EventType discriminates trade-event envelopes.
type EventType string

const (
	EventOpened       EventType = "opened"
	EventOpenFailed   EventType = "open_failed"
	EventSkipped      EventType = "skipped"
	EventPartialClose EventType = "partial_close"
	EventClosed       EventType = "closed"
	EventSLModified   EventType = "sl_modified"
	EventBreakEven    EventType = "break_even"
	EventTrailing     EventType = "trailing"
	EventTPHit        EventType = "tp_hit"
	EventRunner       EventType = "runner"
	EventAddon        EventType = "addon"
	EventUpgrade      EventType = "fast_upgrade"
)

// TradeEvent is the envelope carried on the trade_events stream as a single
// JSON "data" field. Best-effort observability; losing one never affects
// trading.
type TradeEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Account     string    `json:"account,omitempty"`
	Ticket      int64     `json:"ticket,omitempty"`
	Symbol      string    `json:"symbol,omitempty"`
	Direction   Direction `json:"direction,omitempty"`
	ProviderTag string    `json:"provider_tag,omitempty"`
	Reason      string    `json:"reason,omitempty"` // e.g. "outside_windows", "entry_not_reached"
	Price       float64   `json:"price,omitempty"`
	Volume      float64   `json:"volume,omitempty"`
	Percent     float64   `json:"percent,omitempty"` // realised close percentage, not requested
	SL          float64   `json:"sl,omitempty"`
	TraceID     string    `json:"trace,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// MT5 bridge wire structures
// ————————————————————————————————————————————————————————————————————————
// These map 1:1 to the JSON the per-terminal bridge speaks. Field names
// follow the MT5 structures so bridge payloads stay greppable against
// terminal logs.

// SymbolInfo is the static market description for one symbol.
type SymbolInfo struct {
	Name          string  `json:"name"`
	Point         float64 `json:"point"`  // price value of one point
	Digits        int     `json:"digits"` // price decimal places
	VolumeStep    float64 `json:"volume_step"`
	VolumeMin     float64 `json:"volume_min"`
	VolumeMax     float64 `json:"volume_max"`
	TickValue     float64 `json:"trade_tick_value"` // account-currency value of one tick per lot
	TickSize      float64 `json:"trade_tick_size"`
	StopsLevel    int     `json:"trade_stops_level"` // min SL/TP distance in points
	TradeFillMode int     `json:"trade_fill_mode"`   // broker-advertised filling mode
}

// Tick is a top-of-book quote snapshot.
type Tick struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Time int64   `json:"time"` // unix seconds
}

// PriceFor returns the tick price relevant for opening in the given
// direction: ask for BUY, bid for SELL.
func (t Tick) PriceFor(d Direction) float64 {
	if d == BUY {
		return t.Ask
	}
	return t.Bid
}

// Spread returns ask − bid.
func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

// Position is one open position as reported by positions_get.
type Position struct {
	Ticket       int64   `json:"ticket"`
	Symbol       string  `json:"symbol"`
	Type         int     `json:"type"` // 0 = BUY, 1 = SELL
	Volume       float64 `json:"volume"`
	PriceOpen    float64 `json:"price_open"`
	PriceCurrent float64 `json:"price_current"`
	SL           float64 `json:"sl"`
	TP           float64 `json:"tp"`
	Magic        int64   `json:"magic"`
	TimeUpdate   int64   `json:"time_update"` // unix seconds of last broker-side change
	Profit       float64 `json:"profit"`
	Comment      string  `json:"comment"`
}

// IsBuy reports whether the position is long.
func (p Position) IsBuy() bool { return p.Type == 0 }

// Direction returns the position side as a Direction.
func (p Position) Direction() Direction {
	if p.IsBuy() {
		return BUY
	}
	return SELL
}

// OrderRequest is the trade request sent to order_send.
type OrderRequest struct {
	Action      OrderAction `json:"action"`
	Symbol      string      `json:"symbol"`
	Volume      float64     `json:"volume,omitempty"`
	Type        int         `json:"type"` // 0 = BUY, 1 = SELL
	Price       float64     `json:"price,omitempty"`
	SL          float64     `json:"sl,omitempty"`
	TP          float64     `json:"tp,omitempty"`
	Deviation   int         `json:"deviation,omitempty"`
	Magic       int64       `json:"magic,omitempty"`
	Comment     string      `json:"comment,omitempty"`
	TypeTime    int         `json:"type_time"`
	TypeFilling FillingMode `json:"type_filling,omitempty"`
	Position    int64       `json:"position,omitempty"` // ticket for SLTP / close requests
}

// OrderResult is the trade server's answer to order_send.
type OrderResult struct {
	Retcode int     `json:"retcode"`
	Order   int64   `json:"order"` // ticket of the resulting order
	Deal    int64   `json:"deal"`
	Price   float64 `json:"price"` // execution price when reported
	Comment string  `json:"comment"`
}

// AccountInfo is the account state snapshot from account_info.
type AccountInfo struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	FreeMargin float64 `json:"margin_free"`
}

// ————————————————————————————————————————————————————————————————————————
// Pip arithmetic
// ————————————————————————————————————————————————————————————————————————

// PipSize returns the price value of one pip for a symbol. Metals quoted
// like XAUUSD use a fixed 0.10 pip regardless of broker digits; everything
// else uses the broker-reported point.
func PipSize(symbol string, point float64) float64 {
	if strings.HasPrefix(strings.ToUpper(symbol), "XAU") {
		return 0.10
	}
	if point > 0 {
		return point
	}
	return 0.0001
}

// PipsToPrice converts a pip count to a price distance for the symbol.
func PipsToPrice(symbol string, pips, point float64) float64 {
	return pips * PipSize(symbol, point)
}

// PriceDiffInPips converts a price distance to pips for the symbol.
func PriceDiffInPips(symbol string, diff, point float64) float64 {
	ps := PipSize(symbol, point)
	if ps == 0 {
		return 0
	}
	return diff / ps
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
