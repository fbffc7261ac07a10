// Package schedule runs periodic background jobs with at most one execution
// in flight.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RunFunc is one execution of a job.
type RunFunc func(ctx context.Context) error

// Config controls a Job.
type Config struct {
	Name     string
	Interval time.Duration
	// MisfireGrace bounds how late a tick may be observed and still run.
	// Zero disables the check.
	MisfireGrace time.Duration
	RunOnStart   bool
}

// Job is a periodic task. Scheduled ticks, manual triggers and direct calls
// all share one execution slot; a request arriving while a run is in flight
// is skipped.
type Job struct {
	cfg     Config
	run     RunFunc
	logger  *slog.Logger
	now     func() time.Time
	started atomic.Bool

	mu      sync.Mutex
	wg      sync.WaitGroup
	lastMu  sync.RWMutex
	base    context.Context
	lastRun time.Time
	lastErr error
}

func New(cfg Config, run RunFunc, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		cfg:    cfg,
		run:    run,
		logger: logger.With("job", cfg.Name),
		now:    time.Now,
	}
}

// Start begins the schedule until ctx is canceled. Calling it again is a no-op.
func (j *Job) Start(ctx context.Context) {
	if j == nil || j.cfg.Interval <= 0 {
		return
	}
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	j.lastMu.Lock()
	j.base = ctx
	j.lastMu.Unlock()
	go j.loop(ctx)
}

func (j *Job) loop(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	if j.cfg.RunOnStart {
		j.RunNow(ctx)
	}

	for {
		select {
		case scheduled := <-ticker.C:
			j.onTick(ctx, scheduled)
		case <-ctx.Done():
			j.wg.Wait()
			j.logger.Info("job stopped")
			return
		}
	}
}

// onTick runs the job for a tick scheduled at the given time, unless the
// tick is observed later than the misfire grace allows.
func (j *Job) onTick(ctx context.Context, scheduled time.Time) bool {
	if late := j.now().Sub(scheduled); j.cfg.MisfireGrace > 0 && late > j.cfg.MisfireGrace {
		j.logger.Warn("skipping misfired run", "late_by", late, "grace", j.cfg.MisfireGrace)
		return false
	}
	ran, _ := j.RunNow(ctx)
	return ran
}

// Trigger starts an out-of-schedule run in the background and returns
// immediately. It reports false when a run is already in flight. The run is
// bound to the context given to Start, not to the caller.
func (j *Job) Trigger() bool {
	if !j.mu.TryLock() {
		j.logger.Info("trigger skipped, run already in progress")
		return false
	}
	j.lastMu.RLock()
	ctx := j.base
	j.lastMu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer j.mu.Unlock()
		j.execute(ctx)
	}()
	return true
}

// RunNow executes the job synchronously. ran is false when another run was
// in flight and this one was skipped.
func (j *Job) RunNow(ctx context.Context) (ran bool, err error) {
	if !j.mu.TryLock() {
		j.logger.Info("run skipped, previous run still in progress")
		return false, nil
	}
	defer j.mu.Unlock()
	return true, j.execute(ctx)
}

func (j *Job) execute(ctx context.Context) error {
	start := j.now()
	err := j.run(ctx)
	if err != nil {
		j.logger.Error("job run failed", "error", err, "duration", time.Since(start))
	} else {
		j.logger.Debug("job run completed", "duration", time.Since(start))
	}
	j.lastMu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.lastMu.Unlock()
	return err
}

// Last returns the start time and result of the most recent run.
func (j *Job) Last() (time.Time, error) {
	j.lastMu.RLock()
	defer j.lastMu.RUnlock()
	return j.lastRun, j.lastErr
}

// Wait blocks until in-flight triggered runs finish.
func (j *Job) Wait() {
	j.wg.Wait()
}
