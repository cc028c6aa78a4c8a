package mt5

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Pool holds one bridge client per configured account. Clients are plain
// HTTP and carry no session state, so the pool is built once at startup
// and read concurrently without locking.
type Pool struct {
	clients map[string]*Client
	logger  *slog.Logger
}

// NewPool builds clients for every account in the list.
func NewPool(accounts []types.Account, timeout time.Duration, logger *slog.Logger) *Pool {
	clients := make(map[string]*Client, len(accounts))
	for _, acc := range accounts {
		clients[acc.Name] = NewClient(acc, timeout, logger)
	}
	return &Pool{
		clients: clients,
		logger:  logger.With("component", "mt5pool"),
	}
}

// Client returns the bridge client for an account.
func (p *Pool) Client(account string) (*Client, error) {
	c, ok := p.clients[account]
	if !ok {
		return nil, fmt.Errorf("no mt5 client for account %q", account)
	}
	return c, nil
}

// Accounts lists the pooled account names in stable order.
func (p *Pool) Accounts() []string {
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check pings every bridge and logs the unreachable ones. Trading starts
// regardless; a dead bridge only disables its own account until it
// answers again.
func (p *Pool) Check(ctx context.Context) {
	for name, c := range p.clients {
		if err := c.Ping(ctx); err != nil {
			p.logger.Warn("mt5 bridge unreachable", "account", name, "error", err)
			continue
		}
		p.logger.Info("mt5 bridge up", "account", name)
	}
}
