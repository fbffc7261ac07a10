// Package dispatch executes a call against a route, failing over from the
// primary to the backup and retrying whole rounds with a fixed backoff.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/keypool"
	"github.com/af-corp/aegis-router/internal/routing"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/google/uuid"
)

// ErrExhausted is returned when every round failed on both assignments.
var ErrExhausted = errors.New("all dispatch attempts failed")

const (
	RolePrimary = "primary"
	RoleBackup  = "backup"
)

// Call performs one transport call against an assignment.
type Call func(ctx context.Context, a routing.Assignment) (*types.ChatResponse, error)

type Result struct {
	Assignment routing.Assignment
	Role       string
	Attempts   int
	Response   *types.ChatResponse
}

type Dispatcher struct {
	reporter healthmon.UsageReporter
	cfg      config.DispatchConfig
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(cfg config.DispatchConfig, reporter healthmon.UsageReporter, metrics *telemetry.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		reporter: reporter,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs call against route.Primary, then route.Backup, for up to
// MaxRetries rounds. Every attempt is reported as a usage record tagged
// with remark.
func (d *Dispatcher) Do(ctx context.Context, route routing.Route, call Call, remark string) (Result, error) {
	rounds := d.cfg.MaxRetries
	if rounds <= 0 {
		rounds = 1
	}
	if remark == "" {
		remark = types.RemarkDispatch
	}

	attempts := 0
	var primaryErr, backupErr error
	for round := 1; round <= rounds; round++ {
		for _, target := range []struct {
			role string
			a    routing.Assignment
			err  *error
		}{
			{RolePrimary, route.Primary, &primaryErr},
			{RoleBackup, route.Backup, &backupErr},
		} {
			if err := ctx.Err(); err != nil {
				return Result{Attempts: attempts}, err
			}
			attempts++
			resp, err := d.attempt(ctx, route.Model, target.role, target.a, call, remark)
			if err == nil {
				return Result{Assignment: target.a, Role: target.role, Attempts: attempts, Response: resp}, nil
			}
			if ctx.Err() != nil {
				return Result{Attempts: attempts}, ctx.Err()
			}
			*target.err = err
		}

		d.logger.Warn("dispatch round failed",
			"model", route.Model,
			"round", round,
			"max_rounds", rounds,
			"primary", route.Primary.Source,
			"primary_error", primaryErr,
			"backup", route.Backup.Source,
			"backup_error", backupErr,
		)
		if round < rounds {
			if err := d.sleep(ctx, d.cfg.Backoff); err != nil {
				return Result{Attempts: attempts}, err
			}
		}
	}
	return Result{Attempts: attempts}, fmt.Errorf("%w after %d rounds: primary %s: %v; backup %s: %v",
		ErrExhausted, rounds, route.Primary.Source, primaryErr, route.Backup.Source, backupErr)
}

func (d *Dispatcher) attempt(ctx context.Context, model, role string, a routing.Assignment, call Call, remark string) (*types.ChatResponse, error) {
	callCtx := ctx
	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.cfg.RequestTimeout)
		defer cancel()
	}

	created := d.now()
	resp, err := call(callCtx, a)
	finished := d.now()
	d.metrics.RecordDispatchAttempt(a.Source, role, err == nil)

	rec := types.UsageRecord{
		RequestID:     uuid.NewString(),
		APIKey:        a.Credential,
		ModelName:     a.ProviderModel,
		SourceName:    a.Source,
		CreateTime:    created,
		FinishTime:    finished,
		ExecutionTime: finished.Sub(created).Seconds(),
		Status:        err == nil,
		Remark:        remark,
	}
	if err != nil {
		rec.Remark = remark + ": " + string(healthmon.Classify(err))
		d.logger.Info("dispatch attempt failed",
			"model", model,
			"role", role,
			"source", a.Source,
			"key_prefix", keypool.MaskKey(a.Credential),
			"error", err,
		)
	}
	if resp != nil && resp.Usage != nil {
		prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		rec.PromptTokens = &prompt
		rec.CompletionTokens = &completion
	}
	if d.reporter != nil {
		if rerr := d.reporter.Report(ctx, rec); rerr != nil {
			d.logger.Warn("failed to report dispatch usage", "source", a.Source, "request_id", rec.RequestID, "error", rerr)
		}
	}
	return resp, err
}
