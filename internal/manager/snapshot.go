package manager

import (
	"sort"
	"time"
)

// TradeSnapshot is a read-only copy of one supervised trade for the ops
// surface.
type TradeSnapshot struct {
	Ticket        int64     `json:"ticket"`
	Symbol        string    `json:"symbol"`
	Direction     string    `json:"direction"`
	Provider      string    `json:"provider"`
	Group         int64     `json:"group"`
	EntryPrice    float64   `json:"entry_price"`
	InitialVolume float64   `json:"initial_volume"`
	PlannedSL     float64   `json:"planned_sl"`
	TPs           []float64 `json:"tps,omitempty"`
	TPsHit        []int     `json:"tps_hit,omitempty"`
	Fast          bool      `json:"fast,omitempty"`
	RunnerEnabled bool      `json:"runner_enabled,omitempty"`
	AddonDone     bool      `json:"addon_done,omitempty"`
	OpenedAt      time.Time `json:"opened_at"`
}

// AccountSnapshot is one account's supervision state.
type AccountSnapshot struct {
	Name   string          `json:"name"`
	Mode   string          `json:"mode"`
	Active bool            `json:"active"`
	Trades []TradeSnapshot `json:"trades"`
}

// Snapshot copies the current supervision state for every account.
func (m *Manager) Snapshot() []AccountSnapshot {
	out := make([]AccountSnapshot, 0, len(m.accounts))
	for _, acc := range m.accounts {
		as := AccountSnapshot{
			Name:   acc.Name,
			Mode:   string(acc.Mode()),
			Active: acc.Active,
		}
		for _, t := range m.registry.TradesFor(acc.Name) {
			as.Trades = append(as.Trades, snapshotTrade(t))
		}
		sort.Slice(as.Trades, func(i, j int) bool { return as.Trades[i].Ticket < as.Trades[j].Ticket })
		out = append(out, as)
	}
	return out
}

func snapshotTrade(t *ManagedTrade) TradeSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts := TradeSnapshot{
		Ticket:        t.Ticket,
		Symbol:        t.Symbol,
		Direction:     string(t.Direction),
		Provider:      t.ProviderTag,
		Group:         t.GroupID,
		EntryPrice:    t.EntryPrice,
		InitialVolume: t.InitialVolume,
		PlannedSL:     t.PlannedSL,
		TPs:           append([]float64(nil), t.TPs...),
		Fast:          t.Fast,
		RunnerEnabled: t.RunnerEnabled,
		AddonDone:     t.AddonDone,
		OpenedAt:      t.OpenedAt,
	}
	for level, hit := range t.TPHit {
		if hit {
			ts.TPsHit = append(ts.TPsHit, level)
		}
	}
	sort.Ints(ts.TPsHit)
	return ts
}
