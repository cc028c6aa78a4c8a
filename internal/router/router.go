// Package router turns raw channel messages into parsed signals and
// management messages, and translates parsed signals into trade commands.
//
// The router stage consumes raw_messages: it classifies management chatter,
// runs the format parsers, tracks FAST signals and their complete follow-ups,
// deduplicates, and publishes to parsed_signals / mgmt_messages. The
// translator stage consumes parsed_signals, gates on the trading windows and
// emits command envelopes on trade_commands.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yalvarez/trading-platform/internal/bus"
	"github.com/yalvarez/trading-platform/internal/parser"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// Provider hints carried on the mgmt_messages stream.
const (
	HintGoldBrothers = "GOLD_BROTHERS"
	HintToroFX       = "TOROFX"
	HintHannah       = "HANNAH"
)

// publisher is the slice of the bus the router needs.
type publisher interface {
	Publish(ctx context.Context, stream string, values map[string]any) (string, error)
}

// deduper suppresses re-posts of the same signal within a TTL.
type deduper interface {
	IsDuplicate(ctx context.Context, channel int64, result *types.ParseResult) (bool, error)
}

// fastTracker remembers recent FAST entries so a complete follow-up becomes
// an upgrade instead of a second trade.
type fastTracker interface {
	Mark(ctx context.Context, channel int64, symbol string, dir types.Direction) error
	TakeUpgrade(ctx context.Context, channel int64, symbol string, dir types.Direction) (bool, error)
}

// Router classifies and parses raw messages.
type Router struct {
	registry *parser.Registry
	pub      publisher
	dedup    deduper
	fast     fastTracker
	logger   *slog.Logger
}

func New(registry *parser.Registry, pub publisher, dedup deduper, fast fastTracker, logger *slog.Logger) *Router {
	return &Router{
		registry: registry,
		pub:      pub,
		dedup:    dedup,
		fast:     fast,
		logger:   logger.With("component", "router"),
	}
}

// HandleRaw processes one raw_messages entry. Unparseable text is dropped
// silently: most channel traffic is chatter.
func (r *Router) HandleRaw(ctx context.Context, msg bus.Message) error {
	text := msg.Str("text")
	if strings.TrimSpace(text) == "" {
		return nil
	}
	channel, _ := strconv.ParseInt(msg.Str("chat_id"), 10, 64)
	trace := newTraceID()
	log := r.logger.With("trace", trace, "chat_id", channel)

	// Management classification runs before any signal parser. ToroFX
	// management text that still parses as a full signal stays a signal.
	if parser.LooksLikeToroFXManagement(text) {
		if res := (parser.ToroFX{}).Parse(text); res != nil {
			return r.publishSignal(ctx, log, trace, channel, text, res)
		}
		return r.publishMgmt(ctx, log, trace, channel, text, HintToroFX)
	}
	if parser.LooksLikeGBFollowup(text) {
		return r.publishMgmt(ctx, log, trace, channel, text, HintGoldBrothers)
	}
	if parser.LooksLikeHannahManagement(text) {
		return r.publishMgmt(ctx, log, trace, channel, text, HintHannah)
	}

	res := r.registry.Parse(text, channel)
	if res == nil {
		return nil
	}
	return r.publishSignal(ctx, log, trace, channel, text, res)
}

func (r *Router) publishSignal(ctx context.Context, log *slog.Logger, trace string, channel int64, text string, res *types.ParseResult) error {
	sig := types.Signal{
		TraceID:       trace,
		SourceChannel: channel,
		FormatTag:     res.FormatTag,
		ProviderTag:   res.ProviderTag,
		Symbol:        res.Symbol,
		Direction:     res.Direction,
		EntryRange:    res.EntryRange,
		SL:            res.SL,
		TPs:           res.TPs,
		Fast:          res.IsFast,
		HintPrice:     res.HintPrice,
		RawText:       text,
	}

	if res.IsFast {
		if err := r.fast.Mark(ctx, channel, res.Symbol, res.Direction); err != nil {
			log.Warn("fast mark failed", "err", err)
		}
	} else {
		// A complete signal shortly after a FAST one from the same channel,
		// symbol and direction retargets the open trade instead of opening
		// a second one. Upgrades bypass dedup: the FAST entry already
		// claimed the signature's shape.
		upgrade, err := r.fast.TakeUpgrade(ctx, channel, res.Symbol, res.Direction)
		if err != nil {
			log.Warn("fast lookup failed", "err", err)
		}
		sig.Upgrade = upgrade
	}

	if !sig.Upgrade {
		dup, err := r.dedup.IsDuplicate(ctx, channel, res)
		if err != nil {
			log.Warn("dedup check failed, passing signal through", "err", err)
		}
		if dup {
			log.Info("duplicate signal suppressed", "format", res.FormatTag, "symbol", res.Symbol)
			return nil
		}
	}

	if _, err := r.pub.Publish(ctx, bus.StreamSignals, sig.StreamValues()); err != nil {
		return err
	}
	log.Info("signal routed",
		"format", res.FormatTag,
		"symbol", res.Symbol,
		"direction", res.Direction,
		"fast", res.IsFast,
		"upgrade", sig.Upgrade,
	)
	return nil
}

func (r *Router) publishMgmt(ctx context.Context, log *slog.Logger, trace string, channel int64, text, hint string) error {
	values := map[string]any{
		"trace":         trace,
		"chat_id":       strconv.FormatInt(channel, 10),
		"provider_hint": hint,
		"text":          text,
	}
	if _, err := r.pub.Publish(ctx, bus.StreamMgmt, values); err != nil {
		return err
	}
	log.Info("management message routed", "provider_hint", hint)
	return nil
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
