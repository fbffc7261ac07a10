package keypool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/af-corp/aegis-router/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Querier is the subset of *pgxpool.Pool the store needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresUsageStore keeps usage records in the api_key_usage table.
type PostgresUsageStore struct {
	db Querier
}

func NewPostgresUsageStore(db Querier) *PostgresUsageStore {
	return &PostgresUsageStore{db: db}
}

func (s *PostgresUsageStore) InsertUsage(ctx context.Context, rec types.UsageRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_key_usage (
			request_id, api_key, model_name, source_name,
			prompt_tokens, completion_tokens,
			create_time, finish_time, execution_time, status, remark
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.RequestID, rec.APIKey, rec.ModelName, rec.SourceName,
		rec.PromptTokens, rec.CompletionTokens,
		rec.CreateTime, rec.FinishTime, rec.ExecutionTime, rec.Status, rec.Remark,
	)
	if err != nil {
		return mapInsertError(err)
	}
	return nil
}

func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("insert usage: %w", ErrDuplicateRequest)
	}
	return fmt.Errorf("insert usage: %w", err)
}

func (s *PostgresUsageStore) FailuresSince(ctx context.Context, cutoff time.Time) ([]KeyFailures, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source_name, api_key, COUNT(*), MAX(finish_time)
		FROM api_key_usage
		WHERE status = FALSE
		  AND finish_time >= $1
		GROUP BY source_name, api_key
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query key failures: %w", err)
	}
	defer rows.Close()

	var out []KeyFailures
	for rows.Next() {
		var f KeyFailures
		if err := rows.Scan(&f.Source, &f.APIKey, &f.Count, &f.LastFailure); err != nil {
			return nil, fmt.Errorf("scan key failures: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key failures: %w", err)
	}
	return out, nil
}

func (s *PostgresUsageStore) FailedModelsSince(ctx context.Context, cutoff time.Time) ([]ModelFailures, error) {
	rows, err := s.db.Query(ctx, `
		SELECT source_name, model_name, COUNT(*)
		FROM api_key_usage
		WHERE status = FALSE
		  AND finish_time >= $1
		GROUP BY source_name, model_name
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query model failures: %w", err)
	}
	defer rows.Close()

	var out []ModelFailures
	for rows.Next() {
		var f ModelFailures
		if err := rows.Scan(&f.Source, &f.Model, &f.Count); err != nil {
			return nil, fmt.Errorf("scan model failures: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate model failures: %w", err)
	}
	return out, nil
}
