package ops

import (
	"time"

	"github.com/yalvarez/trading-platform/internal/manager"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// StatusProvider provides snapshot access to the trade manager's state
type StatusProvider interface {
	Snapshot() []manager.AccountSnapshot
}

// Snapshot is the aggregate state served on /api/snapshot and pushed to
// freshly connected WebSocket clients.
type Snapshot struct {
	Timestamp  time.Time                 `json:"timestamp"`
	Accounts   []manager.AccountSnapshot `json:"accounts"`
	OpenTrades int                       `json:"open_trades"`
}

// OpsEvent is the wrapper for everything sent over the WebSocket tap.
// Account and Event are lifted out of the payload so the hub can apply
// client subscriptions without re-decoding it.
type OpsEvent struct {
	Type      string      `json:"type"`              // "snapshot" or "trade_event"
	Account   string      `json:"account,omitempty"` // trade events only
	Event     string      `json:"event,omitempty"`   // trade event type, e.g. "tp_hit"
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// BuildSnapshot aggregates the manager's per-account state
func BuildSnapshot(provider StatusProvider) Snapshot {
	accounts := provider.Snapshot()

	open := 0
	for _, acc := range accounts {
		open += len(acc.Trades)
	}

	return Snapshot{
		Timestamp:  time.Now().UTC(),
		Accounts:   accounts,
		OpenTrades: open,
	}
}

// NewTradeEvent wraps a pipeline trade event for the WebSocket tap
func NewTradeEvent(ev types.TradeEvent) OpsEvent {
	return OpsEvent{
		Type:      "trade_event",
		Account:   ev.Account,
		Event:     string(ev.Type),
		Timestamp: time.Now().UTC(),
		Data:      ev,
	}
}
