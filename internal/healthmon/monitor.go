package healthmon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/keypool"
	"github.com/af-corp/aegis-router/internal/schedule"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Monitor probes every configured (source, model) pair on a schedule and
// records the outcomes in its Store.
type Monitor struct {
	cfg       config.HealthCheckConfig
	catalog   func() *catalog.Catalog
	store     *Store
	prober    Prober
	issuer    CredentialIssuer
	reporter  UsageReporter
	publisher *StatusPublisher
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	now       func() time.Time
	job       *schedule.Job
}

type Option func(*Monitor)

// WithReporter reports every probe as a usage record.
func WithReporter(r UsageReporter) Option { return func(m *Monitor) { m.reporter = r } }

// WithPublisher mirrors per-source status into a gRPC health server.
func WithPublisher(p *StatusPublisher) Option { return func(m *Monitor) { m.publisher = p } }

func WithMetrics(metrics *telemetry.Metrics) Option { return func(m *Monitor) { m.metrics = metrics } }

func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

func NewMonitor(cfg config.HealthCheckConfig, cat func() *catalog.Catalog, prober Prober, issuer CredentialIssuer, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		catalog: cat,
		store:   NewStore(cfg.WindowSize),
		prober:  prober,
		issuer:  issuer,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.job = schedule.New(schedule.Config{
		Name:         "health-check",
		Interval:     cfg.Interval,
		MisfireGrace: cfg.MisfireGrace,
		RunOnStart:   cfg.RunOnStart,
	}, m.RunCycle, m.logger)
	return m
}

// Start runs the probe schedule until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	m.job.Start(ctx)
}

// Trigger starts an out-of-schedule cycle without waiting for it.
func (m *Monitor) Trigger() bool {
	return m.job.Trigger()
}

// Wait blocks until a triggered cycle finishes.
func (m *Monitor) Wait() {
	m.job.Wait()
}

func (m *Monitor) Store() *Store { return m.store }

// Snapshot returns the current windows stamped with the probe interval as
// their span.
func (m *Monitor) Snapshot() *Snapshot {
	return m.store.Snapshot(m.now(), m.cfg.Interval)
}

// FetchSnapshot lets an in-process routing engine read the monitor directly.
func (m *Monitor) FetchSnapshot(context.Context) (*Snapshot, error) {
	return m.Snapshot(), nil
}

type probeOutcome struct {
	pair    catalog.Pair
	ok      bool
	latency time.Duration
	class   FailureClass
	skipped bool
}

// RunCycle probes every eligible pair once. Blacklisted and unsupported
// pairs still get an empty window.
func (m *Monitor) RunCycle(ctx context.Context) error {
	cat := m.catalog()
	start := m.now()

	for _, p := range cat.AllPairs() {
		m.store.Ensure(p.Source, p.Model)
	}

	pairs := cat.ProbePairs()
	outcomes := make([]probeOutcome, len(pairs))

	var g errgroup.Group
	limit := m.cfg.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, p := range pairs {
		if ctx.Err() != nil {
			outcomes[i] = probeOutcome{pair: p, skipped: true}
			continue
		}
		g.Go(func() error {
			outcomes[i] = m.probe(ctx, cat, p)
			return nil
		})
	}
	g.Wait()

	m.summarize(outcomes, m.now().Sub(start))
	if m.publisher != nil {
		m.publisher.Publish(m.Snapshot())
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("probe cycle interrupted: %w", err)
	}
	return nil
}

func (m *Monitor) probe(ctx context.Context, cat *catalog.Catalog, p catalog.Pair) probeOutcome {
	out := probeOutcome{pair: p}
	src, _ := cat.Source(p.Source)
	model, _ := cat.Model(p.Model)

	cred, err := m.issuer.Issue(ctx, p.Source)
	if err != nil {
		if ctx.Err() != nil {
			out.skipped = true
			return out
		}
		err = fmt.Errorf("issue credential: %w", err)
		out.class = ClassCredential
		m.store.Record(p.Source, p.Model, Failure())
		m.metrics.RecordProbe(p.Source, p.Model, false, string(out.class), 0)
		m.logger.Error("health probe skipped, no credential", "source", p.Source, "model", p.Model, "error", err)
		return out
	}

	timeout := m.cfg.ProbeTimeout
	if model.Multimodal && m.cfg.MultimodalTimeout > 0 {
		timeout = m.cfg.MultimodalTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created := m.now()
	res, err := m.prober.Probe(probeCtx, ProbeRequest{
		Source:        src,
		Model:         p.Model,
		ProviderModel: p.ProviderModel,
		Credential:    cred,
		Multimodal:    model.Multimodal,
	})
	finished := m.now()

	// A shutdown mid-probe says nothing about the source.
	if ctx.Err() != nil {
		out.skipped = true
		return out
	}

	if err == nil && (!res.Completed || res.Latency <= 0) {
		err = ErrNoCompletion
	}
	out.ok = err == nil
	if out.ok {
		out.latency = res.Latency
		m.store.Record(p.Source, p.Model, Success(res.Latency))
		m.logger.Debug("health probe succeeded", "source", p.Source, "model", p.Model, "latency", res.Latency)
	} else {
		out.class = Classify(err)
		m.store.Record(p.Source, p.Model, Failure())
		m.logger.Log(ctx, out.class.Level(), "health probe failed",
			"source", p.Source,
			"model", p.Model,
			"provider_model", p.ProviderModel,
			"class", out.class,
			"key_prefix", keypool.MaskKey(cred),
			"error", err,
		)
	}
	m.metrics.RecordProbe(p.Source, p.Model, out.ok, string(out.class), out.latency)

	if m.reporter != nil {
		remark := types.RemarkHealthCheck
		if !out.ok {
			remark += ": " + string(out.class)
		}
		rec := types.UsageRecord{
			RequestID:        uuid.NewString(),
			APIKey:           cred,
			ModelName:        p.ProviderModel,
			SourceName:       p.Source,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			CreateTime:       created,
			FinishTime:       finished,
			ExecutionTime:    finished.Sub(created).Seconds(),
			Status:           out.ok,
			Remark:           remark,
		}
		if err := m.reporter.Report(ctx, rec); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("failed to report probe usage", "source", p.Source, "error", err)
		}
	}
	return out
}

func (m *Monitor) summarize(outcomes []probeOutcome, elapsed time.Duration) {
	m.metrics.RecordProbeCycle(elapsed)

	var succeeded, failed, skipped int
	var fastest, slowest *probeOutcome
	byClass := make(map[FailureClass]int)
	for i := range outcomes {
		o := &outcomes[i]
		switch {
		case o.skipped:
			skipped++
		case o.ok:
			succeeded++
			if fastest == nil || o.latency < fastest.latency {
				fastest = o
			}
			if slowest == nil || o.latency > slowest.latency {
				slowest = o
			}
		default:
			failed++
			byClass[o.class]++
		}
	}

	attrs := []any{
		"probed", succeeded + failed,
		"succeeded", succeeded,
		"failed", failed,
		"skipped", skipped,
		"duration", elapsed,
	}
	if total := succeeded + failed; total > 0 {
		attrs = append(attrs, "success_rate", float64(succeeded)/float64(total))
	}
	if fastest != nil {
		attrs = append(attrs,
			"fastest", fastest.pair.Source+"|"+fastest.pair.Model, "fastest_latency", fastest.latency,
			"slowest", slowest.pair.Source+"|"+slowest.pair.Model, "slowest_latency", slowest.latency,
		)
	}
	for class, n := range byClass {
		attrs = append(attrs, "failed_"+string(class), n)
	}
	m.logger.Info("health check cycle completed", attrs...)
}
