package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yalvarez/trading-platform/internal/bus"
	"github.com/yalvarez/trading-platform/internal/window"
	"github.com/yalvarez/trading-platform/pkg/types"
)

// dataPublisher is the slice of the bus the translator needs.
type dataPublisher interface {
	PublishData(ctx context.Context, stream string, payload []byte) (string, error)
}

// Translator turns parsed signals into open commands, gating on the trading
// windows. Signals outside every window are dropped with a skip event; they
// are not queued for later.
type Translator struct {
	pub    dataPublisher
	sched  *window.Schedule
	events chan<- types.TradeEvent
	logger *slog.Logger
	now    func() time.Time
}

func NewTranslator(pub dataPublisher, sched *window.Schedule, events chan<- types.TradeEvent, logger *slog.Logger) *Translator {
	return &Translator{
		pub:    pub,
		sched:  sched,
		events: events,
		logger: logger.With("component", "translator"),
		now:    time.Now,
	}
}

// HandleSignal processes one parsed_signals entry.
func (t *Translator) HandleSignal(ctx context.Context, msg bus.Message) error {
	sig, err := types.SignalFromValues(msg.Values)
	if err != nil {
		t.logger.Warn("malformed signal dropped", "id", msg.ID, "err", err)
		return nil
	}
	if sig.Symbol == "" || (sig.Direction != types.BUY && sig.Direction != types.SELL) {
		return nil
	}
	log := t.logger.With("trace", sig.TraceID, "symbol", sig.Symbol)

	now := t.now()
	if !t.sched.Open(now) {
		log.Info("signal outside trading windows, skipped")
		t.emit(types.TradeEvent{
			Type:        types.EventSkipped,
			Symbol:      sig.Symbol,
			Direction:   sig.Direction,
			ProviderTag: sig.ProviderTag,
			Reason:      "outside_windows",
			TraceID:     sig.TraceID,
			Timestamp:   now.UTC(),
		})
		return nil
	}

	cmd := types.TradeCommand{
		SignalID:      sig.TraceID,
		Type:          types.CmdOpen,
		Symbol:        sig.Symbol,
		Direction:     sig.Direction,
		EntryRange:    sig.EntryRange,
		SL:            sig.SL,
		TPs:           sig.TPs,
		ProviderTag:   sig.ProviderTag,
		SourceChannel: sig.SourceChannel,
		Fast:          sig.Fast,
		Upgrade:       sig.Upgrade,
		HintPrice:     sig.HintPrice,
		RawText:       sig.RawText,
		Timestamp:     now.UTC(),
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if _, err := t.pub.PublishData(ctx, bus.StreamCommands, payload); err != nil {
		return err
	}
	log.Info("open command issued", "fast", sig.Fast, "upgrade", sig.Upgrade, "tps", len(sig.TPs))
	return nil
}

func (t *Translator) emit(ev types.TradeEvent) {
	if t.events == nil {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}
