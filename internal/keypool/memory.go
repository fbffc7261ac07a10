package keypool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/aegis-router/internal/types"
)

// MemoryUsageStore keeps usage records in process. It backs tests and
// database-less development runs; records are lost on restart.
type MemoryUsageStore struct {
	mu      sync.RWMutex
	records []types.UsageRecord
	ids     map[string]bool
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{ids: make(map[string]bool)}
}

func (s *MemoryUsageStore) InsertUsage(_ context.Context, rec types.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[rec.RequestID] {
		return fmt.Errorf("insert usage: %w", ErrDuplicateRequest)
	}
	s.ids[rec.RequestID] = true
	s.records = append(s.records, rec)
	return nil
}

func (s *MemoryUsageStore) FailuresSince(_ context.Context, cutoff time.Time) ([]KeyFailures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ source, apiKey string }
	agg := make(map[key]*KeyFailures)
	for _, r := range s.records {
		if r.Status || r.FinishTime.Before(cutoff) {
			continue
		}
		k := key{r.SourceName, r.APIKey}
		f, ok := agg[k]
		if !ok {
			f = &KeyFailures{Source: r.SourceName, APIKey: r.APIKey}
			agg[k] = f
		}
		f.Count++
		if r.FinishTime.After(f.LastFailure) {
			f.LastFailure = r.FinishTime
		}
	}

	out := make([]KeyFailures, 0, len(agg))
	for _, f := range agg {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].APIKey < out[j].APIKey
	})
	return out, nil
}

func (s *MemoryUsageStore) FailedModelsSince(_ context.Context, cutoff time.Time) ([]ModelFailures, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ source, model string }
	agg := make(map[key]int)
	for _, r := range s.records {
		if r.Status || r.FinishTime.Before(cutoff) {
			continue
		}
		agg[key{r.SourceName, r.ModelName}]++
	}

	out := make([]ModelFailures, 0, len(agg))
	for k, n := range agg {
		out = append(out, ModelFailures{Source: k.source, Model: k.model, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Model < out[j].Model
	})
	return out, nil
}

// Records returns a copy of everything stored so far.
func (s *MemoryUsageStore) Records() []types.UsageRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.UsageRecord(nil), s.records...)
}
