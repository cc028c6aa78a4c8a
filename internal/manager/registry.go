// Package manager supervises open positions per account: the TP ladder,
// break-even, trailing, midpoint addons, ToroFX scaling-out, provider
// management messages and the per-account trading modes.
//
// State is partitioned by account. Each account has one supervision
// goroutine, but management messages, command-stream upgrades and the ops
// snapshot touch trades from their own goroutines, so every access to a
// ManagedTrade's mutable fields holds the trade's own lock. The registry
// mutex only guards the maps, so cross-account work never contends.
package manager

import (
	"strings"
	"sync"
	"time"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// ManagedTrade is the in-memory supervision record for one open position.
// Broker state (volume, SL, current price) is re-read every tick; this holds
// only what the broker cannot tell us: the plan and what was already done.
//
// The identity fields (account, ticket, symbol, direction, provider,
// group) are set at registration and never change. Everything else is
// mutated concurrently by the tick goroutine, the management consumer,
// the command consumer and the ops snapshot, and must only be touched
// under mu.
type ManagedTrade struct {
	mu sync.Mutex

	Account     string
	Ticket      int64
	Symbol      string
	Direction   types.Direction
	ProviderTag string

	// GroupID ties a trade to its addons and reentry runners. Normally the
	// originating ticket; recovery registrations inherit the group of a
	// surviving sibling on the same symbol and direction.
	GroupID int64

	TPs       []float64
	PlannedSL float64
	Fast      bool // FAST entry still waiting for its complete follow-up

	EntryPrice    float64
	InitialVolume float64
	OpenedAt      time.Time

	// TPHit is monotone: once a level is recorded it never unsets, even if
	// price retraces through it.
	TPHit map[int]bool

	MFEPeak       float64 // best favourable price seen, 0 = none yet
	RunnerEnabled bool    // retrace watch armed (after TP2 in long mode, or tramo 3)

	AddonDone bool

	// Trailing state: last SL we placed and when, for min-change and
	// cooldown gating.
	LastTrailingSL float64
	LastTrailingAt time.Time

	// ActionsDone keys one-shot actions (break-even, ToroFX partials,
	// scaling tramos) so redelivered messages and repeated ticks stay
	// idempotent.
	ActionsDone map[string]bool

	// Reentry mode: when TP1 closed the trade and the runner attempt
	// happens against this timestamp.
	ReentryTP1At time.Time

	// ToroFX scaling-out state.
	ScalingPeak      float64
	Tramo1ClosePrice float64
}

// done reports and records a one-shot action key in a single step.
func (t *ManagedTrade) done(key string) bool {
	if t.ActionsDone[key] {
		return true
	}
	if t.ActionsDone == nil {
		t.ActionsDone = map[string]bool{}
	}
	t.ActionsDone[key] = true
	return false
}

// IsReentryRunner reports whether this trade was opened by the reentry mode
// itself; such runners never trigger another reentry cycle.
func (t *ManagedTrade) IsReentryRunner() bool {
	return strings.HasSuffix(t.ProviderTag, reentrySuffix)
}

const reentrySuffix = "-REENTRY"

// Registry holds every supervised trade, partitioned by account.
type Registry struct {
	mu     sync.RWMutex
	trades map[string]map[int64]*ManagedTrade // account → ticket → trade
	addons map[string]map[int64]int           // account → group → addons opened
}

func NewRegistry() *Registry {
	return &Registry{
		trades: map[string]map[int64]*ManagedTrade{},
		addons: map[string]map[int64]int{},
	}
}

// Add registers a trade. A zero GroupID defaults to the ticket; recovery
// registrations first inherit the group of an open sibling on the same
// symbol and direction, so addon caps keep counting across restarts.
func (r *Registry) Add(t *ManagedTrade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TPHit == nil {
		t.TPHit = map[int]bool{}
	}
	if t.ActionsDone == nil {
		t.ActionsDone = map[string]bool{}
	}
	if t.GroupID == 0 {
		t.GroupID = r.inferGroupLocked(t)
	}
	byTicket := r.trades[t.Account]
	if byTicket == nil {
		byTicket = map[int64]*ManagedTrade{}
		r.trades[t.Account] = byTicket
	}
	byTicket[t.Ticket] = t
}

func (r *Registry) inferGroupLocked(t *ManagedTrade) int64 {
	for _, sibling := range r.trades[t.Account] {
		if sibling.Symbol == t.Symbol && sibling.Direction == t.Direction {
			return sibling.GroupID
		}
	}
	return t.Ticket
}

// Remove drops a trade, returning it when it was present.
func (r *Registry) Remove(account string, ticket int64) *ManagedTrade {
	r.mu.Lock()
	defer r.mu.Unlock()
	byTicket := r.trades[account]
	t := byTicket[ticket]
	delete(byTicket, ticket)
	return t
}

// Get returns the trade for account/ticket, nil when unknown.
func (r *Registry) Get(account string, ticket int64) *ManagedTrade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trades[account][ticket]
}

// TradesFor returns the account's trades. The pointers are live: callers
// take each trade's own lock before touching its mutable fields.
func (r *Registry) TradesFor(account string) []*ManagedTrade {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ManagedTrade, 0, len(r.trades[account]))
	for _, t := range r.trades[account] {
		out = append(out, t)
	}
	return out
}

// Count returns the number of supervised trades across all accounts.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byTicket := range r.trades {
		n += len(byTicket)
	}
	return n
}

// AddonCount returns how many addons have been opened for a group.
func (r *Registry) AddonCount(account string, group int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addons[account][group]
}

// RecordAddon bumps the addon count for a group.
func (r *Registry) RecordAddon(account string, group int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byGroup := r.addons[account]
	if byGroup == nil {
		byGroup = map[int64]int{}
		r.addons[account] = byGroup
	}
	byGroup[group]++
}
