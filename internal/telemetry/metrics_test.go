package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatal(err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	if m.ProbeTotal == nil {
		t.Error("ProbeTotal should not be nil")
	}
	if m.RouteDecisionsTotal == nil {
		t.Error("RouteDecisionsTotal should not be nil")
	}
	if m.CredentialIssuedTotal == nil {
		t.Error("CredentialIssuedTotal should not be nil")
	}
	if m.DispatchAttemptsTotal == nil {
		t.Error("DispatchAttemptsTotal should not be nil")
	}
}

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestRecordProbe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordProbe("alpha", "gpt-4o", true, "", 1200*time.Millisecond)
	m.RecordProbe("alpha", "gpt-4o", false, "timeout", 0)
	m.RecordProbe("alpha", "gpt-4o", false, "timeout", 0)

	if got := counterValue(t, m.ProbeTotal, "alpha", "gpt-4o", "success", ""); got != 1 {
		t.Errorf("expected 1 success, got %v", got)
	}
	if got := counterValue(t, m.ProbeTotal, "alpha", "gpt-4o", "failure", "timeout"); got != 2 {
		t.Errorf("expected 2 failures, got %v", got)
	}
}

func TestRecordIssue(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.RecordIssue("alpha", false)
	m.RecordIssue("alpha", true)
	m.RecordIssue("alpha", true)

	if got := counterValue(t, m.CredentialIssuedTotal, "alpha", "degraded"); got != 2 {
		t.Errorf("expected 2 degraded issues, got %v", got)
	}
}

func TestSetFailingCredentials_Replaces(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.SetFailingCredentials(map[string]int{"alpha": 2, "beta": 1})
	m.SetFailingCredentials(map[string]int{"alpha": 1})

	var metric dto.Metric
	g, _ := m.FailingCredentials.GetMetricWithLabelValues("alpha")
	g.Write(&metric)
	if metric.GetGauge().GetValue() != 1 {
		t.Errorf("expected alpha gauge 1, got %v", metric.GetGauge().GetValue())
	}

	ch := make(chan prometheus.Metric, 10)
	m.FailingCredentials.Collect(ch)
	close(ch)
	n := 0
	for range ch {
		n++
	}
	if n != 1 {
		t.Errorf("expected beta series removed, got %d series", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordProbe("a", "b", true, "", time.Second)
	m.RecordRoute("fast_first", "telemetry", "a")
	m.RecordUsageReport("a", true, true)
	m.SetFailingCredentials(map[string]int{"a": 1})
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.TelemetryConfig{LogLevel: "warn", LogFormat: "json"})
	logger.Info("dropped")
	logger.Warn("kept", "source", "alpha")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["source"] != "alpha" {
		t.Errorf("expected source attribute, got %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
