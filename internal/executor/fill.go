package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Brokers disagree about which filling policies a symbol accepts, and the
// trade_fill_mode a symbol advertises is not always honoured. Orders
// therefore walk a candidate list, advancing only on the retcodes that mean
// "wrong filling mode".

// fillCandidates returns the filling modes to try for one order. A
// configured override pins the account/symbol pair to a single mode;
// otherwise the symbol-advertised mode goes first, followed by the
// remaining fallback modes.
func (e *Executor) fillCandidates(account, symbol string, info *types.SymbolInfo) []types.FillingMode {
	for _, o := range e.cfg.FillOverrides {
		if o.Account == account && strings.EqualFold(o.Symbol, symbol) {
			return []types.FillingMode{types.FillingMode(o.Mode)}
		}
	}
	var out []types.FillingMode
	if info != nil {
		switch m := types.FillingMode(info.TradeFillMode); m {
		case types.FillingIOC, types.FillingReturn, types.FillingFOK:
			out = append(out, m)
		}
	}
	for _, m := range types.FillingFallback {
		if len(out) > 0 && out[0] == m {
			continue
		}
		out = append(out, m)
	}
	return out
}

// sendWithFallback submits req once per filling candidate until the trade
// server accepts it or rejects it for a reason other than the filling mode.
// Transport failures abort immediately; trade rejections come back as a
// result, not an error.
func (e *Executor) sendWithFallback(ctx context.Context, b Broker, account string, info *types.SymbolInfo, req types.OrderRequest) (*types.OrderResult, error) {
	var last *types.OrderResult
	for _, mode := range e.fillCandidates(account, req.Symbol, info) {
		req.TypeFilling = mode
		res, err := b.OrderSend(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("order_send: %w", err)
		}
		last = res
		if types.RetcodeOK(res.Retcode) || !types.RetryableFill(res.Retcode) {
			return res, nil
		}
		e.logger.Warn("filling mode rejected, trying next",
			"account", account,
			"symbol", req.Symbol,
			"filling", int(mode),
			"retcode", res.Retcode)
	}
	return last, nil
}
