package dedup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yalvarez/trading-platform/pkg/types"
)

const fastKeyPrefix = "fast_sig:"

// FastTracker remembers recent FAST signals so a complete follow-up inside
// the update window upgrades the open position instead of opening a second
// one. Keys expire after the window; an expired follow-up is a new trade.
type FastTracker struct {
	rdb    *redis.Client
	window time.Duration
}

// NewFastTracker creates a tracker with the given upgrade window.
func NewFastTracker(rdb *redis.Client, window time.Duration) *FastTracker {
	return &FastTracker{rdb: rdb, window: window}
}

// Mark records that a FAST signal fired for the channel/symbol/direction.
func (f *FastTracker) Mark(ctx context.Context, channel int64, symbol string, dir types.Direction) error {
	key := fastKey(channel, symbol, dir)
	if err := f.rdb.Set(ctx, key, "1", f.window).Err(); err != nil {
		return fmt.Errorf("fast mark: %w", err)
	}
	return nil
}

// TakeUpgrade consumes a pending FAST record for the channel/symbol/
// direction. Returns true exactly once per record: the read deletes the
// key, so concurrent complete signals cannot both claim the upgrade.
func (f *FastTracker) TakeUpgrade(ctx context.Context, channel int64, symbol string, dir types.Direction) (bool, error) {
	key := fastKey(channel, symbol, dir)
	_, err := f.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fast getdel: %w", err)
	}
	return true, nil
}

func fastKey(channel int64, symbol string, dir types.Direction) string {
	return fastKeyPrefix + strconv.FormatInt(channel, 10) + ":" + symbol + ":" + string(dir)
}
