// Package mt5 talks to the per-terminal MT5 bridge processes.
//
// Every broker account runs its own terminal with a thin bridge exposing
// the MT5 trade API as JSON over HTTP (POST /rpc/<method>):
//   - SymbolSelect: symbol_select    — ensure a symbol is visible to the terminal
//   - SymbolInfo:   symbol_info      — static market description
//   - SymbolTick:   symbol_info_tick — top-of-book quote snapshot
//   - Positions:    positions_get    — open positions, optional ticket filter
//   - OrderSend:    order_send       — market orders and SLTP modifications
//   - AccountInfo:  account_info     — balance/equity snapshot
//
// The bridge answers 200 with the MT5 call's result as the JSON body; any
// other status means the call failed terminal-side and the body carries
// the reason. Transport errors are retried briefly here, trade-level
// retcodes are the caller's business.
package mt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Client is the JSON-RPC client for one account's bridge.
type Client struct {
	http    *resty.Client
	account string
	logger  *slog.Logger
}

// NewClient creates a bridge client for one account.
func NewClient(acc types.Account, timeout time.Duration, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s:%d", acc.Host, acc.Port)).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		account: acc.Name,
		logger:  logger.With("component", "mt5", "account", acc.Name),
	}
}

// Account returns the account name this client serves.
func (c *Client) Account() string { return c.account }

// SymbolSelect makes the terminal track a symbol so info/tick calls work.
func (c *Client) SymbolSelect(ctx context.Context, symbol string, enable bool) (bool, error) {
	var selected bool
	if err := c.call(ctx, "symbol_select", map[string]any{"symbol": symbol, "enable": enable}, &selected); err != nil {
		return false, err
	}
	return selected, nil
}

// SymbolInfo fetches the static market description for a symbol.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (*types.SymbolInfo, error) {
	var info types.SymbolInfo
	if err := c.call(ctx, "symbol_info", map[string]any{"symbol": symbol}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SymbolTick fetches the current top-of-book quote for a symbol.
func (c *Client) SymbolTick(ctx context.Context, symbol string) (*types.Tick, error) {
	var tick types.Tick
	if err := c.call(ctx, "symbol_info_tick", map[string]any{"symbol": symbol}, &tick); err != nil {
		return nil, err
	}
	return &tick, nil
}

// Positions lists open positions. A non-zero ticket narrows the query to
// that position; the result is then empty or a single element.
func (c *Client) Positions(ctx context.Context, ticket int64) ([]types.Position, error) {
	params := map[string]any{}
	if ticket != 0 {
		params["ticket"] = ticket
	}
	var positions []types.Position
	if err := c.call(ctx, "positions_get", params, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// OrderSend submits a trade request. The result is returned for any 200
// answer, including rejected retcodes; callers decide what to retry.
func (c *Client) OrderSend(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error) {
	var result types.OrderResult
	if err := c.call(ctx, "order_send", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// AccountInfo fetches the account's balance snapshot.
func (c *Client) AccountInfo(ctx context.Context) (*types.AccountInfo, error) {
	var info types.AccountInfo
	if err := c.call(ctx, "account_info", map[string]any{}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Ping verifies the bridge is reachable and its terminal answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.AccountInfo(ctx)
	return err
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(params).
		SetResult(result).
		Post("/rpc/" + method)
	if err != nil {
		return fmt.Errorf("%s %s: %w", c.account, method, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s %s: status %d: %s", c.account, method, resp.StatusCode(), resp.String())
	}
	return nil
}
