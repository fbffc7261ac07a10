package keypool

import (
	"context"
	"errors"
	"time"

	"github.com/af-corp/aegis-router/internal/types"
)

// ErrDuplicateRequest is returned when a usage record reuses a request id.
var ErrDuplicateRequest = errors.New("duplicate request id")

// KeyFailures aggregates the failed usage of one credential.
type KeyFailures struct {
	Source      string
	APIKey      string
	Count       int
	LastFailure time.Time
}

// ModelFailures aggregates failed usage of one provider model on a source.
type ModelFailures struct {
	Source string
	Model  string
	Count  int
}

// UsageStore persists usage records and answers the failure queries that
// drive the failure cache.
type UsageStore interface {
	InsertUsage(ctx context.Context, rec types.UsageRecord) error
	// FailuresSince groups failed records with finish_time >= cutoff by
	// (source, api_key).
	FailuresSince(ctx context.Context, cutoff time.Time) ([]KeyFailures, error)
	// FailedModelsSince groups the same records by (source, model).
	FailedModelsSince(ctx context.Context, cutoff time.Time) ([]ModelFailures, error)
}
