package keypool

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryUsageStore_Aggregates(t *testing.T) {
	s := NewMemoryUsageStore()
	ctx := context.Background()
	now := time.Now()

	ok := failure("ok", "a", "k1", now)
	ok.Status = true
	recs := []struct {
		id, source, key, model string
		at                     time.Time
	}{
		{"1", "a", "k1", "m1", now.Add(-time.Minute)},
		{"2", "a", "k1", "m2", now},
		{"3", "b", "k9", "m1", now},
		{"4", "a", "k2", "m1", now.Add(-time.Hour)},
	}
	for _, r := range recs {
		rec := failure(r.id, r.source, r.key, r.at)
		rec.ModelName = r.model
		if err := s.InsertUsage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertUsage(ctx, ok); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertUsage(ctx, ok); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected duplicate, got %v", err)
	}

	cutoff := now.Add(-15 * time.Minute)
	keys, err := s.FailuresSince(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 failing keys, got %+v", keys)
	}
	if keys[0].Source != "a" || keys[0].APIKey != "k1" || keys[0].Count != 2 || !keys[0].LastFailure.Equal(now) {
		t.Errorf("unexpected aggregate %+v", keys[0])
	}

	models, err := s.FailedModelsSince(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 3 {
		t.Errorf("expected 3 (source, model) groups, got %+v", models)
	}
}
