// Package routing picks a primary and a backup source for a logical model
// from recent health telemetry, static priorities and prices.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/policy"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/types"
)

var (
	ErrUnknownModel       = errors.New("unknown model")
	ErrNoSupportingSource = errors.New("no source supports model")
)

// Strategies reported on a Route.
const (
	StrategyTelemetry   = "telemetry"
	StrategySuccessRate = "success_rate"
	StrategyPreset      = "preset"
)

// Assignment is one resolvable transport target.
type Assignment struct {
	Source        string `json:"source"`
	ProviderModel string `json:"provider_model"`
	Credential    string `json:"-"`
}

// Route is the outcome of SelectRoute. Primary and Backup may be the same
// source when nothing else can serve the model.
type Route struct {
	Model    string     `json:"model"`
	Mode     types.Mode `json:"mode"`
	Primary  Assignment `json:"primary"`
	Backup   Assignment `json:"backup"`
	Strategy string     `json:"strategy"`
}

// BatchChoice is the outcome of SelectBestFromBatch.
type BatchChoice struct {
	Model string `json:"model"`
	Assignment
	Strategy string `json:"strategy"`
}

// Eligibility restricts which sources may serve a model beyond the static
// mapping.
type Eligibility interface {
	Allowed(ctx context.Context, in policy.Input) (bool, error)
}

type Engine struct {
	cfg         config.RoutingConfig
	catalog     func() *catalog.Catalog
	snapshots   *SnapshotCache
	issuer      healthmon.CredentialIssuer
	eligibility Eligibility
	metrics     *telemetry.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Engine)

func WithEligibility(el Eligibility) Option { return func(e *Engine) { e.eligibility = el } }

func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(cfg config.RoutingConfig, cat func() *catalog.Catalog, snapshots healthmon.Fetcher, issuer healthmon.CredentialIssuer, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		catalog: cat,
		issuer:  issuer,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snapshots = NewSnapshotCache(snapshots, cfg.SnapshotRetryInterval, e.metrics, e.logger)
	e.snapshots.now = e.now
	return e
}

// Snapshots exposes the engine's snapshot cache.
func (e *Engine) Snapshots() *SnapshotCache { return e.snapshots }

// IsHealthDataEmpty reports whether routing for model must ignore
// telemetry: the model is blacklisted, or no source has a sample for it.
func IsHealthDataEmpty(cat *catalog.Catalog, snap *healthmon.Snapshot, model string) bool {
	if cat.IsBlacklisted(model) {
		return true
	}
	for _, w := range snap.ModelWindows(model) {
		if len(w) > 0 {
			return false
		}
	}
	return true
}

func (e *Engine) defaultMode() types.Mode {
	mode, _ := types.ParseMode(e.cfg.DefaultMode, types.ModeCheapFirst)
	return mode
}

func (e *Engine) mode(mode types.Mode) types.Mode {
	if mode.Valid() {
		return mode
	}
	fallback := e.defaultMode()
	e.logger.Warn("unknown routing mode, using default", "mode", string(mode), "default", string(fallback))
	return fallback
}

func (e *Engine) weights(in, out float64) (float64, float64) {
	if in < 0 || out < 0 || in+out <= 0 {
		in, out = e.cfg.DefaultInputWeight, e.cfg.DefaultOutputWeight
		if in+out <= 0 {
			in, out = 50, 50
		}
	}
	return in, out
}

func (e *Engine) sentinel() float64 {
	if e.cfg.SentinelPrice > 0 {
		return e.cfg.SentinelPrice
	}
	return 1e8
}

func (e *Engine) fusionWeight() float64 {
	if e.cfg.FusionWeight > 0 && e.cfg.FusionWeight < 1 {
		return e.cfg.FusionWeight
	}
	return 2.0 / 3.0
}

// byStaticRank breaks metric ties on static rank, then name.
func byStaticRank(cat *catalog.Catalog) Less {
	return func(a, b string) bool {
		if ra, rb := cat.Rank(a), cat.Rank(b); ra != rb {
			return ra < rb
		}
		return a < b
	}
}

// supports resolves model on source and applies the eligibility policy.
// Policy errors allow the source.
func (e *Engine) supports(ctx context.Context, cat *catalog.Catalog, source, model string) (string, bool) {
	provider, ok := cat.Resolve(source, model)
	if !ok || e.eligibility == nil {
		return provider, ok
	}
	src, _ := cat.Source(source)
	allowed, err := e.eligibility.Allowed(ctx, policy.Input{
		Model:         model,
		Source:        source,
		ProviderModel: provider,
		Rank:          src.Rank,
		MaxContext:    src.MaxContext,
		Capabilities: policy.Capabilities{
			OpenAI: src.Capabilities.OpenAI,
			Curl:   src.Capabilities.Curl,
		},
	})
	if err != nil {
		e.logger.Warn("eligibility check failed, allowing source", "source", source, "model", model, "error", err)
		return provider, true
	}
	return provider, allowed
}

func (e *Engine) supportingSources(ctx context.Context, cat *catalog.Catalog, model string) []string {
	var out []string
	for _, s := range cat.SupportingSources(model) {
		if _, ok := e.supports(ctx, cat, s.Name, model); ok {
			out = append(out, s.Name)
		}
	}
	return out
}

func (e *Engine) assign(ctx context.Context, cat *catalog.Catalog, source, model string) (Assignment, error) {
	provider, _ := cat.Resolve(source, model)
	cred, err := e.issuer.Issue(ctx, source)
	if err != nil {
		return Assignment{}, fmt.Errorf("issue credential for %q: %w", source, err)
	}
	return Assignment{Source: source, ProviderModel: provider, Credential: cred}, nil
}

func (e *Engine) route(ctx context.Context, cat *catalog.Catalog, model string, mode types.Mode, primary, backup, strategy string) (Route, error) {
	p, err := e.assign(ctx, cat, primary, model)
	if err != nil {
		return Route{}, err
	}
	b, err := e.assign(ctx, cat, backup, model)
	if err != nil {
		return Route{}, err
	}
	e.metrics.RecordRoute(string(mode), strategy, primary)
	e.logger.Info("route selected",
		"model", model,
		"mode", string(mode),
		"strategy", strategy,
		"primary", primary,
		"backup", backup,
	)
	return Route{Model: model, Mode: mode, Primary: p, Backup: b, Strategy: strategy}, nil
}

// RankByPreset routes on static priority alone: the two best ranked
// supporting sources, or the only one twice. It never looks at prices.
func (e *Engine) RankByPreset(ctx context.Context, model string) (Route, error) {
	cat := e.catalog()
	if _, ok := cat.Model(model); !ok {
		return Route{}, fmt.Errorf("route %q: %w", model, ErrUnknownModel)
	}
	return e.preset(ctx, cat, model, e.defaultMode())
}

func (e *Engine) preset(ctx context.Context, cat *catalog.Catalog, model string, mode types.Mode) (Route, error) {
	sources := e.supportingSources(ctx, cat, model)
	if len(sources) == 0 {
		return Route{}, fmt.Errorf("route %q: %w", model, ErrNoSupportingSource)
	}
	backup := sources[0]
	if len(sources) > 1 {
		backup = sources[1]
	}
	return e.route(ctx, cat, model, mode, sources[0], backup, StrategyPreset)
}

// SelectRoute picks a primary and backup source for model. in and out
// weight input and output prices for cheap_first.
func (e *Engine) SelectRoute(ctx context.Context, model string, mode types.Mode, in, out float64) (Route, error) {
	cat := e.catalog()
	if _, ok := cat.Model(model); !ok {
		return Route{}, fmt.Errorf("route %q: %w", model, ErrUnknownModel)
	}
	mode = e.mode(mode)
	in, out = e.weights(in, out)

	snap := e.snapshots.Get(ctx)
	if IsHealthDataEmpty(cat, snap, model) {
		return e.preset(ctx, cat, model, mode)
	}

	windows := snap.ModelWindows(model)
	stats := make(map[string]Stats, len(windows))
	latencies := make(map[string]float64)
	successRates := make(map[string]float64)
	for source, w := range windows {
		st := ComputeStats(w, e.cfg.ToleranceCount)
		stats[source] = st
		if st.HasLatency {
			latencies[source] = st.AvgLatency
		}
		if st.HasSuccess {
			successRates[source] = st.SuccessRate
		}
	}

	tiebreak := byStaticRank(cat)
	var pre Ranking
	strategy := StrategyTelemetry
	switch {
	case len(latencies) > 0:
		pre = RankAscending(latencies, tiebreak)
	case len(successRates) > 0:
		pre = RankDescending(successRates, tiebreak)
		strategy = StrategySuccessRate
	default:
		return e.preset(ctx, cat, model, mode)
	}

	var ordered []string
	switch mode {
	case types.ModeFastFirst:
		for _, source := range pre.Ordered() {
			if _, ok := e.supports(ctx, cat, source, model); ok {
				ordered = append(ordered, source)
			}
		}
	default:
		ordered = e.cheapest(ctx, cat, model, pre, in, out, tiebreak)
	}
	if len(ordered) == 0 {
		e.logger.Warn("no ranked source supports model, using static ranks", "model", model, "mode", string(mode))
		return e.preset(ctx, cat, model, mode)
	}

	var backup string
	if len(ordered) > 1 {
		backup = ordered[1]
	} else {
		backup = e.supplementBackup(ctx, cat, model, ordered[0], stats)
	}
	return e.route(ctx, cat, model, mode, ordered[0], backup, strategy)
}

// cheapest fuses the telemetry ranking with a price ranking over the
// supported sources and returns them best first.
func (e *Engine) cheapest(ctx context.Context, cat *catalog.Catalog, model string, pre Ranking, in, out float64, tiebreak Less) []string {
	prices := make(map[string]float64, len(pre))
	for source := range pre {
		if _, ok := e.supports(ctx, cat, source, model); ok {
			prices[source] = cat.UnitPrice(source, model, in, out, e.sentinel())
		}
	}
	if len(prices) == 0 {
		return nil
	}

	combined := CombineRankings(pre, RankAscending(prices, tiebreak), e.fusionWeight())
	ordered := make([]string, 0, len(prices))
	for source := range combined {
		if _, ok := prices[source]; ok {
			ordered = append(ordered, source)
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		si, sj := combined[ordered[i]], combined[ordered[j]]
		if si != sj {
			return si < sj
		}
		return tiebreak(ordered[i], ordered[j])
	})
	return ordered
}

// supplementBackup finds a backup when the telemetry ranking produced a
// single candidate. Sources with some success come first, then sources
// without samples, then sources that only failed; the primary is reused
// when nothing else supports the model.
func (e *Engine) supplementBackup(ctx context.Context, cat *catalog.Catalog, model, primary string, stats map[string]Stats) string {
	group := func(source string) int {
		st, ok := stats[source]
		switch {
		case !ok || !st.HasSuccess:
			return 1
		case st.Successes > 0:
			return 0
		default:
			return 2
		}
	}

	var others []string
	for _, source := range e.supportingSources(ctx, cat, model) {
		if source != primary {
			others = append(others, source)
		}
	}
	if len(others) == 0 {
		return primary
	}

	tiebreak := byStaticRank(cat)
	sort.SliceStable(others, func(i, j int) bool {
		gi, gj := group(others[i]), group(others[j])
		if gi != gj {
			return gi < gj
		}
		if ri, rj := stats[others[i]].SuccessRate, stats[others[j]].SuccessRate; ri != rj {
			return ri > rj
		}
		return tiebreak(others[i], others[j])
	})
	return others[0]
}

// SelectBestFromBatch picks the best (model, source) pair across models on
// the Pareto front of success rate and the mode's primary metric. Without
// telemetry it returns the first model the static ranking can serve.
func (e *Engine) SelectBestFromBatch(ctx context.Context, models []string, mode types.Mode, in, out float64) (BatchChoice, error) {
	if len(models) == 0 {
		return BatchChoice{}, fmt.Errorf("select from empty batch: %w", ErrNoSupportingSource)
	}
	cat := e.catalog()
	mode = e.mode(mode)
	in, out = e.weights(in, out)
	snap := e.snapshots.Get(ctx)

	var candidates []Candidate
	for i, model := range models {
		if cat.IsBlacklisted(model) {
			continue
		}
		for source, w := range snap.ModelWindows(model) {
			if len(w) == 0 {
				continue
			}
			provider, ok := e.supports(ctx, cat, source, model)
			if !ok {
				continue
			}
			st := ComputeStats(w, 0)
			if st.Successes == 0 {
				continue
			}
			candidates = append(candidates, Candidate{
				Model:         model,
				Source:        source,
				ProviderModel: provider,
				AvgLatency:    st.AvgLatency,
				SuccessRate:   st.SuccessRate,
				Price:         cat.UnitPrice(source, model, in, out, e.sentinel()),
				Rank:          cat.Rank(source),
				Order:         i,
			})
		}
	}

	if len(candidates) == 0 {
		return e.batchPreset(ctx, cat, models, mode)
	}

	front := ParetoFront(candidates, mode)
	best := front[0]
	for _, c := range front[1:] {
		if better(c, best, mode) {
			best = c
		}
	}

	a, err := e.assign(ctx, cat, best.Source, best.Model)
	if err != nil {
		return BatchChoice{}, err
	}
	e.metrics.RecordRoute(string(mode), StrategyTelemetry, best.Source)
	e.logger.Info("batch model selected",
		"model", best.Model,
		"source", best.Source,
		"mode", string(mode),
		"candidates", len(candidates),
		"pareto_front", len(front),
	)
	return BatchChoice{Model: best.Model, Assignment: a, Strategy: StrategyTelemetry}, nil
}

func (e *Engine) batchPreset(ctx context.Context, cat *catalog.Catalog, models []string, mode types.Mode) (BatchChoice, error) {
	e.logger.Warn("no telemetry for batch, using static ranks", "models", models)
	var lastErr error
	for _, model := range models {
		sources := e.supportingSources(ctx, cat, model)
		if len(sources) == 0 {
			continue
		}
		a, err := e.assign(ctx, cat, sources[0], model)
		if err != nil {
			if ctx.Err() != nil {
				return BatchChoice{}, ctx.Err()
			}
			lastErr = err
			continue
		}
		e.metrics.RecordRoute(string(mode), StrategyPreset, sources[0])
		return BatchChoice{Model: model, Assignment: a, Strategy: StrategyPreset}, nil
	}
	if lastErr != nil {
		return BatchChoice{}, fmt.Errorf("select from batch: %w", lastErr)
	}
	return BatchChoice{}, fmt.Errorf("select from batch %v: %w", models, ErrNoSupportingSource)
}
