package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the router services. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ProbeTotal            *prometheus.CounterVec
	ProbeLatencySeconds   *prometheus.HistogramVec
	ProbeCycleSeconds     prometheus.Histogram
	RouteDecisionsTotal   *prometheus.CounterVec
	SnapshotFetchTotal    *prometheus.CounterVec
	CredentialIssuedTotal *prometheus.CounterVec
	FailingCredentials    *prometheus.GaugeVec
	UsageReportsTotal     *prometheus.CounterVec
	DispatchAttemptsTotal *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProbeTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_probe_total",
			Help: "Health probes by source, model, outcome and failure class.",
		}, []string{"source", "model", "outcome", "class"}),

		ProbeLatencySeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_router_probe_latency_seconds",
			Help:    "Latency of successful health probes.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"source"}),

		ProbeCycleSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_router_probe_cycle_seconds",
			Help:    "Wall time of a full probe cycle.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),

		RouteDecisionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_route_decisions_total",
			Help: "Routing decisions by mode, strategy and chosen primary source.",
		}, []string{"mode", "strategy", "source"}),

		SnapshotFetchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_snapshot_fetch_total",
			Help: "Health snapshot fetches by result.",
		}, []string{"result"}),

		CredentialIssuedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_credential_issued_total",
			Help: "Credentials issued by source and pool state.",
		}, []string{"source", "pool_state"}),

		FailingCredentials: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_router_failing_credentials",
			Help: "Credentials with failures inside the tolerance window.",
		}, []string{"source"}),

		UsageReportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_usage_reports_total",
			Help: "Usage reports received by source, call status and persistence result.",
		}, []string{"source", "status", "result"}),

		DispatchAttemptsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_dispatch_attempts_total",
			Help: "Dispatch attempts by source, role and outcome.",
		}, []string{"source", "role", "outcome"}),
	}
}

// RecordProbe records one probe outcome. class is empty for successes.
func (m *Metrics) RecordProbe(source, model string, ok bool, class string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ProbeTotal.WithLabelValues(source, model, outcome(ok), class).Inc()
	if ok {
		m.ProbeLatencySeconds.WithLabelValues(source).Observe(latency.Seconds())
	}
}

func (m *Metrics) RecordProbeCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.ProbeCycleSeconds.Observe(d.Seconds())
}

func (m *Metrics) RecordRoute(mode, strategy, source string) {
	if m == nil {
		return
	}
	m.RouteDecisionsTotal.WithLabelValues(mode, strategy, source).Inc()
}

func (m *Metrics) RecordSnapshotFetch(result string) {
	if m == nil {
		return
	}
	m.SnapshotFetchTotal.WithLabelValues(result).Inc()
}

// RecordIssue records an issued credential. degraded means every key of the
// source was failing and the least-failed one was handed out.
func (m *Metrics) RecordIssue(source string, degraded bool) {
	if m == nil {
		return
	}
	state := "healthy"
	if degraded {
		state = "degraded"
	}
	m.CredentialIssuedTotal.WithLabelValues(source, state).Inc()
}

// SetFailingCredentials replaces the failing credential gauge wholesale.
func (m *Metrics) SetFailingCredentials(bySource map[string]int) {
	if m == nil {
		return
	}
	m.FailingCredentials.Reset()
	for source, n := range bySource {
		m.FailingCredentials.WithLabelValues(source).Set(float64(n))
	}
}

func (m *Metrics) RecordUsageReport(source string, status, persisted bool) {
	if m == nil {
		return
	}
	result := "persisted"
	if !persisted {
		result = "failed"
	}
	m.UsageReportsTotal.WithLabelValues(source, outcome(status), result).Inc()
}

func (m *Metrics) RecordDispatchAttempt(source, role string, ok bool) {
	if m == nil {
		return
	}
	m.DispatchAttemptsTotal.WithLabelValues(source, role, outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
