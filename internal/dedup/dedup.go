// Package dedup suppresses duplicate signals and tracks FAST-signal
// upgrade windows, both backed by short-TTL Redis keys.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yalvarez/trading-platform/pkg/types"
)

const keyPrefix = "signal_dedup:"

// Deduper answers "was this exact signal seen on this channel recently".
// Entries expire by TTL; there is no background sweep.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a Deduper with the given suppression window.
func New(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// IsDuplicate reports whether an identical signal was seen on the channel
// within the TTL. The first caller marks the signature atomically
// (set-if-absent), so exactly one of two concurrent identical signals
// passes.
func (d *Deduper) IsDuplicate(ctx context.Context, channel int64, result *types.ParseResult) (bool, error) {
	key := keyPrefix + Signature(channel, result)
	created, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !created, nil
}

// Signature returns the stable hash identifying a signal for dedup:
// md5 over channel, provider, symbol, direction, SL, sorted TPs, entry
// range, and hint price.
func Signature(channel int64, result *types.ParseResult) string {
	tps := append([]float64(nil), result.TPs...)
	sort.Float64s(tps)
	tpParts := make([]string, len(tps))
	for i, tp := range tps {
		tpParts[i] = formatFloat(tp)
	}

	entry := ""
	if result.EntryRange != nil {
		entry = formatFloat(result.EntryRange.Lo) + "," + formatFloat(result.EntryRange.Hi)
	}

	raw := strings.Join([]string{
		strconv.FormatInt(channel, 10),
		result.ProviderTag,
		result.Symbol,
		string(result.Direction),
		formatFloat(result.SL),
		strings.Join(tpParts, ","),
		entry,
		formatFloat(result.HintPrice),
	}, "|")

	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
