// Package bus wraps the Redis-streams event bus the platform runs on.
//
// Producers append with XADD (bounded, approximate trim), consumers read in
// consumer groups with blocking XREADGROUP and explicit XACK. Delivery is
// at-least-once; handlers are expected to be idempotent. A non-grouped
// cursored tail read is provided for observers that only care about new
// entries.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream names shared by every service on the bus.
const (
	StreamRaw      = "raw_messages"
	StreamSignals  = "parsed_signals"
	StreamMgmt     = "mgmt_messages"
	StreamCommands = "trade_commands"
	StreamEvents   = "trade_events"
)

// Consumer group names. One group per consuming stage.
const (
	GroupRouter     = "router_group"
	GroupTranslator = "translator_group"
	GroupExecutor   = "executor_group"
	GroupMgmt       = "mgmt_group"
)

// MaxStreamLen bounds every stream; trimming is approximate (XADD MAXLEN ~).
const MaxStreamLen = 10000

const (
	readBlock = 2 * time.Second
	readCount = 50
)

// Message is one bus entry as delivered to a handler.
type Message struct {
	ID     string
	Values map[string]any
}

// Str returns a string field from the message, "" when absent.
func (m Message) Str(key string) string {
	if raw, ok := m.Values[key]; ok {
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}

// Handler processes one message. A returned error is logged; the message is
// acknowledged regardless, matching the ack-after-handling contract.
type Handler func(ctx context.Context, msg Message) error

// Connect opens a Redis client from a URL and verifies the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Bus is a thin, shared wrapper over one Redis connection pool.
type Bus struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New creates a Bus on an established Redis client.
func New(rdb *redis.Client, logger *slog.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		logger: logger.With("component", "bus"),
	}
}

// Redis exposes the underlying client for key/value collaborators
// (dedup store, fast-signal tracker).
func (b *Bus) Redis() *redis.Client {
	return b.rdb
}

// Publish appends flat string fields to a stream.
func (b *Bus) Publish(ctx context.Context, stream string, values map[string]any) (string, error) {
	id, err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: MaxStreamLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// PublishData appends a single-field entry {"data": payload} to a stream.
// Used for the JSON command and event envelopes.
func (b *Bus) PublishData(ctx context.Context, stream string, payload []byte) (string, error) {
	return b.Publish(ctx, stream, map[string]any{"data": string(payload)})
}

// EnsureGroup creates a consumer group from the start of the stream,
// creating the stream if needed. An already-existing group is not an error.
func (b *Bus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// Consume reads a stream in a consumer group until ctx is cancelled.
// Each message is passed to handler and then acknowledged, whether or not
// the handler succeeded; failed handlers are logged. A NOGROUP reply
// recreates the group and continues.
func (b *Bus) Consume(ctx context.Context, stream, group, consumer string, handler Handler) error {
	if err := b.EnsureGroup(ctx, stream, group); err != nil {
		return err
	}
	logger := b.logger.With("stream", stream, "group", group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // blocking read timed out, nothing new
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			if isNoGroup(err) {
				logger.Warn("consumer group vanished, recreating")
				if gerr := b.EnsureGroup(ctx, stream, group); gerr != nil {
					logger.Error("recreate group failed", "error", gerr)
				}
				sleep(ctx, time.Second)
				continue
			}
			logger.Error("read failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, st := range streams {
			for _, raw := range st.Messages {
				msg := Message{ID: raw.ID, Values: raw.Values}
				if herr := handler(ctx, msg); herr != nil {
					logger.Error("handler failed", "id", msg.ID, "error", herr)
				}
				if aerr := b.rdb.XAck(ctx, stream, group, raw.ID).Err(); aerr != nil {
					logger.Error("ack failed", "id", msg.ID, "error", aerr)
				}
			}
		}
	}
}

// Tail follows a stream without a consumer group, starting at new entries
// only. Used by observers (the ops event tap); no acknowledgement, no
// redelivery.
func (b *Bus) Tail(ctx context.Context, stream string, handler Handler) error {
	logger := b.logger.With("stream", stream)
	lastID := "$"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   readCount,
			Block:   readBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			logger.Error("tail read failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, st := range streams {
			for _, raw := range st.Messages {
				lastID = raw.ID
				if herr := handler(ctx, Message{ID: raw.ID, Values: raw.Values}); herr != nil {
					logger.Error("tail handler failed", "id", raw.ID, "error", herr)
				}
			}
		}
	}
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
