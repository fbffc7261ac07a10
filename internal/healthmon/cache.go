package healthmon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotCacheKey = "aegis:health:snapshot"

// CachedFetcher shares snapshots between router replicas through Redis so
// only one of them hits the monitor per window span. Redis errors fall
// through to the inner fetcher.
type CachedFetcher struct {
	inner  Fetcher
	redis  *redis.Client
	now    func() time.Time
	logger *slog.Logger
}

// NewCachedFetcher wraps inner. A nil rdb disables caching.
func NewCachedFetcher(inner Fetcher, rdb *redis.Client, logger *slog.Logger) *CachedFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFetcher{inner: inner, redis: rdb, now: time.Now, logger: logger}
}

func (c *CachedFetcher) FetchSnapshot(ctx context.Context) (*Snapshot, error) {
	if c.redis != nil {
		cached, err := c.redis.Get(ctx, snapshotCacheKey).Bytes()
		switch {
		case err == nil:
			var snap Snapshot
			if err := json.Unmarshal(cached, &snap); err == nil && !snap.Stale(c.now()) {
				return &snap, nil
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("snapshot cache read failed", "error", err)
		}
	}

	snap, err := c.inner.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		ttl := snap.WindowSpan - c.now().Sub(snap.Timestamp)
		if ttl > 0 {
			if data, err := json.Marshal(snap); err == nil {
				if err := c.redis.Set(ctx, snapshotCacheKey, data, ttl).Err(); err != nil {
					c.logger.Warn("snapshot cache write failed", "error", err)
				}
			}
		}
	}
	return snap, nil
}
