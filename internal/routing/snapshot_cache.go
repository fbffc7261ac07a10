package routing

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

// SnapshotCache holds the engine's current health snapshot and refetches it
// once it goes stale. Concurrent callers that notice staleness share one
// fetch.
type SnapshotCache struct {
	fetcher healthmon.Fetcher
	retry   time.Duration
	current atomic.Pointer[healthmon.Snapshot]
	group   singleflight.Group
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewSnapshotCache builds a cache over fetcher. A failed fetch is replaced
// by an empty snapshot that stays fresh for retry.
func NewSnapshotCache(fetcher healthmon.Fetcher, retry time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *SnapshotCache {
	if logger == nil {
		logger = slog.Default()
	}
	if retry <= 0 {
		retry = 30 * time.Second
	}
	return &SnapshotCache{fetcher: fetcher, retry: retry, metrics: metrics, logger: logger, now: time.Now}
}

// Get returns a snapshot that is not stale. It never fails; when the
// monitor cannot be reached the snapshot is empty.
func (c *SnapshotCache) Get(ctx context.Context) *healthmon.Snapshot {
	if snap := c.current.Load(); !snap.Stale(c.now()) {
		return snap
	}

	v, _, _ := c.group.Do("snapshot", func() (any, error) {
		if snap := c.current.Load(); !snap.Stale(c.now()) {
			return snap, nil
		}
		// The fetch is shared by every waiter; one caller giving up must
		// not fail it for the others.
		snap, err := c.fetcher.FetchSnapshot(context.WithoutCancel(ctx))
		if err != nil || snap == nil {
			c.metrics.RecordSnapshotFetch("error")
			c.logger.Warn("health snapshot unavailable, routing on static ranks",
				"retry_in", c.retry,
				"error", err,
			)
			snap = healthmon.EmptySnapshot(c.now(), c.retry)
		} else {
			c.metrics.RecordSnapshotFetch("ok")
			c.logger.Debug("health snapshot refreshed", "timestamp", snap.Timestamp, "windows", len(snap.Windows))
		}
		c.current.Store(snap)
		return snap, nil
	})
	return v.(*healthmon.Snapshot)
}

// Invalidate drops the cached snapshot so the next Get refetches.
func (c *SnapshotCache) Invalidate() {
	c.current.Store(nil)
}
