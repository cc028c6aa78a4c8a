// Package parser turns raw channel text into structured trade signals.
//
// Each provider format has its own parser with hand-tuned patterns. The
// registry resolves text deterministically: three hard priorities come
// first ("risk price" belongs to Limitless alone, "target: open" to ToroFX
// alone, and a Hannah header beats everything), then the channel's
// configured parser list, then a fixed global order. The same message
// always resolves to the same format no matter which consumer sees it.
package parser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/yalvarez/trading-platform/pkg/types"
)

// Parser names accepted in per-channel routing config.
const (
	NameHannah       = "hannah"
	NameGoldBroLong  = "goldbro_long"
	NameGoldBroFast  = "goldbro_fast"
	NameGoldBroScalp = "goldbro_scalp"
	NameToroFX       = "torofx"
	NameDailySignal  = "daily_signal"
	NameLimitless    = "limitless"
)

// Parser extracts a structured signal from one provider's message format.
type Parser interface {
	// FormatTag identifies the format, e.g. "HANNAH" or "GB_FAST".
	FormatTag() string
	// Parse returns nil when the text does not match the format.
	Parse(text string) *types.ParseResult
}

// Registry dispatches raw text to the parser that owns its format.
type Registry struct {
	byName   map[string]Parser
	fallback []Parser
	channels map[string][]string
	logger   *slog.Logger
}

// NewRegistry builds the full parser set. channels maps a chat id (decimal
// string) to the parser names enabled for that channel; channels without an
// entry try every parser in the global order.
func NewRegistry(channels map[string][]string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	byName := map[string]Parser{
		NameHannah:       Hannah{},
		NameGoldBroLong:  GoldBroLong{},
		NameGoldBroFast:  GoldBroFast{},
		NameGoldBroScalp: GoldBroScalp{},
		NameToroFX:       ToroFX{},
		NameDailySignal:  DailySignal{},
		NameLimitless:    Limitless{},
	}
	// Specific formats go before permissive ones so a structured message is
	// never swallowed by a looser pattern.
	fallback := []Parser{
		byName[NameDailySignal],
		byName[NameToroFX],
		byName[NameGoldBroScalp],
		byName[NameGoldBroLong],
		byName[NameGoldBroFast],
		byName[NameHannah],
		byName[NameLimitless],
	}
	return &Registry{
		byName:   byName,
		fallback: fallback,
		channels: channels,
		logger:   logger.With("component", "parser"),
	}
}

// Parse resolves text for one channel. Returns nil when no format matches.
func (r *Registry) Parse(text string, channel int64) *types.ParseResult {
	norm := strings.TrimSpace(text)
	if norm == "" {
		return nil
	}
	lower := strings.ToLower(norm)
	// "Risk Price" is a Limitless-only marker; other parsers must not see it.
	if strings.Contains(lower, "risk price") {
		return r.byName[NameLimitless].Parse(norm)
	}
	// "Target: open" is ToroFX-only.
	if strings.Contains(lower, "target: open") {
		return r.byName[NameToroFX].Parse(norm)
	}
	if res := r.byName[NameHannah].Parse(norm); res != nil {
		return res
	}
	for _, p := range r.parsersFor(channel) {
		if res := p.Parse(norm); res != nil {
			return res
		}
	}
	return nil
}

func (r *Registry) parsersFor(channel int64) []Parser {
	names := r.channels[strconv.FormatInt(channel, 10)]
	if len(names) == 0 {
		return r.fallback
	}
	parsers := make([]Parser, 0, len(names))
	for _, name := range names {
		p, ok := r.byName[name]
		if !ok {
			r.logger.Warn("unknown parser in channel config", "name", name, "channel", channel)
			continue
		}
		parsers = append(parsers, p)
	}
	if len(parsers) == 0 {
		return r.fallback
	}
	return parsers
}

// num parses a captured decimal. Patterns only capture digit runs, so a
// failure means the match was degenerate (e.g. a lone dot) and the field
// should be treated as absent.
func num(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// rangeOf builds a normalized entry band from two captured bounds in
// whichever order the message wrote them.
func rangeOf(a, b float64) *types.EntryRange {
	r := types.EntryRange{Lo: a, Hi: b}.Normalize()
	return &r
}

// appendTP accumulates a take-profit level, dropping repeats.
func appendTP(tps []float64, v float64) []float64 {
	for _, t := range tps {
		if t == v {
			return tps
		}
	}
	return append(tps, v)
}
