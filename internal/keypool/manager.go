// Package keypool issues upstream credentials per source, rotating away
// from keys that recently failed.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/go-playground/validator/v10"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrEmptyPool     = errors.New("credential pool is empty")
	ErrInvalidRecord = errors.New("invalid usage record")
	ErrPersist       = errors.New("persist usage record")
)

// MaskKey returns a log-safe prefix of a credential.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return key[:len(key)/2] + "..."
	}
	return key[:8] + "..."
}

type cursor struct {
	mu  sync.Mutex
	idx int
}

// failureCache is built in full by a refresh and swapped in atomically;
// readers never see a partial one.
type failureCache struct {
	updatedAt time.Time
	counts    map[string]map[string]int
	stats     map[string]SourceFailureStats
}

// SourceFailureStats summarizes recent failures of one source.
type SourceFailureStats struct {
	FailedKeys     int        `json:"failed_keys"`
	TotalFailures  int        `json:"total_failures"`
	ModelsAffected []string   `json:"models_affected"`
	LastFailure    *time.Time `json:"last_failure"`
}

// Stats is the public view of the failure cache.
type Stats struct {
	LastUpdate         *time.Time                    `json:"last_update"`
	FailedKeysBySource map[string]int                `json:"failed_keys_by_source"`
	TotalFailedKeys    int                           `json:"total_failed_keys"`
	DetailedStats      map[string]SourceFailureStats `json:"detailed_stats"`
}

// Manager owns the credential pools, the per-source rotation cursors and
// the failure cache.
type Manager struct {
	pools     atomic.Pointer[map[string][]string]
	cache     atomic.Pointer[failureCache]
	cursorsMu sync.Mutex
	cursors   map[string]*cursor

	store     UsageStore
	tolerance time.Duration
	validate  *validator.Validate
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

func NewManager(creds *config.CredentialsConfig, store UsageStore, tolerance time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		cursors:   make(map[string]*cursor),
		store:     store,
		tolerance: tolerance,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
	m.UpdatePools(creds)
	m.cache.Store(&failureCache{
		counts: map[string]map[string]int{},
		stats:  map[string]SourceFailureStats{},
	})
	return m
}

// UpdatePools swaps in a new pool configuration. Cursors survive the swap
// and wrap onto the new pool size.
func (m *Manager) UpdatePools(creds *config.CredentialsConfig) {
	pools := make(map[string][]string)
	if creds != nil {
		for source := range creds.Pools {
			pools[source] = creds.Keys(source)
		}
	}
	m.pools.Store(&pools)
}

// Sources lists the configured sources.
func (m *Manager) Sources() []string {
	pools := *m.pools.Load()
	out := make([]string, 0, len(pools))
	for s := range pools {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) cursor(source string) *cursor {
	m.cursorsMu.Lock()
	defer m.cursorsMu.Unlock()
	c, ok := m.cursors[source]
	if !ok {
		c = &cursor{idx: -1}
		m.cursors[source] = c
	}
	return c
}

// Issue returns a credential for source. Keys without recent failures are
// handed out round robin; when every key has failed, the one with the
// fewest failures wins, earliest in pool order on ties.
func (m *Manager) Issue(ctx context.Context, source string) (string, error) {
	keys, ok := (*m.pools.Load())[source]
	if !ok {
		return "", fmt.Errorf("issue credential for %q: %w", source, ErrUnknownSource)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("issue credential for %q: %w", source, ErrEmptyPool)
	}

	failing := m.cache.Load().counts[source]
	working := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, bad := failing[k]; !bad {
			working = append(working, k)
		}
	}

	if len(working) > 0 {
		c := m.cursor(source)
		c.mu.Lock()
		c.idx = (c.idx + 1) % len(working)
		key := working[c.idx]
		c.mu.Unlock()
		m.metrics.RecordIssue(source, false)
		return key, nil
	}

	best := keys[0]
	for _, k := range keys[1:] {
		if failing[k] < failing[best] {
			best = k
		}
	}
	m.metrics.RecordIssue(source, true)
	m.logger.Warn("all credentials failing, issuing least failed",
		"source", source,
		"key_prefix", MaskKey(best),
		"failures", failing[best],
		"tolerance_window", m.tolerance,
	)
	return best, nil
}

// Report persists one usage outcome. It does not touch the failure cache;
// the next refresh picks it up.
func (m *Manager) Report(ctx context.Context, rec types.UsageRecord) error {
	if err := m.validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if !rec.Status {
		m.logger.Warn("credential usage failed",
			"source", rec.SourceName,
			"model", rec.ModelName,
			"key_prefix", MaskKey(rec.APIKey),
			"remark", rec.Remark,
		)
	}

	if err := m.store.InsertUsage(ctx, rec); err != nil {
		m.metrics.RecordUsageReport(rec.SourceName, rec.Status, false)
		if errors.Is(err, ErrDuplicateRequest) {
			return err
		}
		m.logger.Error("failed to persist usage record", "request_id", rec.RequestID, "error", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	m.metrics.RecordUsageReport(rec.SourceName, rec.Status, true)
	return nil
}

// RefreshFailureCache rebuilds the failure cache from records inside the
// tolerance window. On error the previous cache stays in place.
func (m *Manager) RefreshFailureCache(ctx context.Context) error {
	start := m.now()
	cutoff := start.Add(-m.tolerance)

	keyRows, err := m.store.FailuresSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("refresh failure cache: %w", err)
	}
	modelRows, err := m.store.FailedModelsSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("refresh failure cache: %w", err)
	}

	next := &failureCache{
		updatedAt: m.now(),
		counts:    make(map[string]map[string]int),
		stats:     make(map[string]SourceFailureStats),
	}
	for _, row := range keyRows {
		if next.counts[row.Source] == nil {
			next.counts[row.Source] = make(map[string]int)
		}
		next.counts[row.Source][row.APIKey] = row.Count

		st := next.stats[row.Source]
		st.FailedKeys++
		st.TotalFailures += row.Count
		if st.LastFailure == nil || row.LastFailure.After(*st.LastFailure) {
			last := row.LastFailure
			st.LastFailure = &last
		}
		next.stats[row.Source] = st
	}
	for _, row := range modelRows {
		st := next.stats[row.Source]
		st.ModelsAffected = append(st.ModelsAffected, row.Model)
		next.stats[row.Source] = st
	}
	for source, st := range next.stats {
		sort.Strings(st.ModelsAffected)
		next.stats[source] = st
	}

	m.cache.Store(next)

	bySource := make(map[string]int, len(next.counts))
	total := 0
	for source, keys := range next.counts {
		bySource[source] = len(keys)
		total += len(keys)
	}
	m.metrics.SetFailingCredentials(bySource)
	m.logger.Info("failure cache refreshed",
		"failed_keys", total,
		"sources_affected", len(bySource),
		"tolerance_window", m.tolerance,
		"duration", m.now().Sub(start),
	)
	return nil
}

// Stats reports the current failure cache.
func (m *Manager) Stats() Stats {
	fc := m.cache.Load()
	st := Stats{
		FailedKeysBySource: make(map[string]int, len(fc.counts)),
		DetailedStats:      make(map[string]SourceFailureStats, len(fc.stats)),
	}
	if !fc.updatedAt.IsZero() {
		t := fc.updatedAt
		st.LastUpdate = &t
	}
	for source, keys := range fc.counts {
		st.FailedKeysBySource[source] = len(keys)
		st.TotalFailedKeys += len(keys)
	}
	for source, s := range fc.stats {
		s.ModelsAffected = append([]string(nil), s.ModelsAffected...)
		st.DetailedStats[source] = s
	}
	return st
}
