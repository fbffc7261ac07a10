package healthmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/telemetry"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func strPtr(s string) *string { return &s }

func testCatalog(blacklist ...string) *catalog.Catalog {
	return catalog.New(&config.SourcesConfig{
		MultimodalSuffix: "_mm",
		Sources: map[string]config.SourceConfig{
			"alpha": {Rank: 1, Models: map[string]*string{"gpt-4o": strPtr("gpt-4o"), "gpt-4o_mm": nil, "qwen": nil}},
			"beta":  {Rank: 2, Models: map[string]*string{"gpt-4o": strPtr("openai/gpt-4o"), "qwen": strPtr("qwen-max")}},
		},
		Models: []config.ModelConfig{
			{Name: "gpt-4o"},
			{Name: "gpt-4o_mm"},
			{Name: "qwen"},
		},
		Blacklist: blacklist,
	})
}

type fakeProber struct {
	mu      sync.Mutex
	results map[string]ProbeResult
	errs    map[string]error
	calls   []ProbeRequest
}

func (f *fakeProber) Probe(ctx context.Context, req ProbeRequest) (ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	key := req.Source.Name + "|" + req.Model
	if err := f.errs[key]; err != nil {
		return ProbeResult{}, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	return ProbeResult{Latency: time.Second, Completed: true}, nil
}

type fakeIssuer struct {
	err error
}

func (f *fakeIssuer) Issue(ctx context.Context, source string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "sk-" + source + "-0001", nil
}

type fakeReporter struct {
	mu      sync.Mutex
	records []types.UsageRecord
}

func (f *fakeReporter) Report(ctx context.Context, rec types.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func testHealthConfig() config.HealthCheckConfig {
	cfg := config.DefaultConfig().HealthCheck
	cfg.Concurrency = 2
	return cfg
}

func TestRunCycle_RecordsOutcomes(t *testing.T) {
	prober := &fakeProber{
		results: map[string]ProbeResult{
			"alpha|gpt-4o": {Latency: 1200 * time.Millisecond, Completed: true},
			"beta|qwen":    {Latency: time.Second, Completed: false},
		},
		errs: map[string]error{
			"beta|gpt-4o": errors.New("upstream returned status 402: insufficient balance"),
		},
	}
	reporter := &fakeReporter{}
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, prober, &fakeIssuer{},
		WithReporter(reporter),
		WithMetrics(telemetry.NewMetrics(prometheus.NewRegistry())),
	)

	if err := m.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	snap := m.Snapshot()
	if w, _ := snap.Window("alpha", "gpt-4o"); len(w) != 1 || w[0].Failed || w[0].Seconds != 1.2 {
		t.Errorf("unexpected alpha|gpt-4o window %+v", w)
	}
	if w, _ := snap.Window("beta", "gpt-4o"); len(w) != 1 || !w[0].Failed {
		t.Errorf("expected failure marker for beta|gpt-4o, got %+v", w)
	}
	// A reply without a completion counts as a failure.
	if w, _ := snap.Window("beta", "qwen"); len(w) != 1 || !w[0].Failed {
		t.Errorf("expected failure marker for beta|qwen, got %+v", w)
	}
	// Unsupported pairs are present but never probed.
	if w, ok := snap.Window("alpha", "qwen"); !ok || len(w) != 0 {
		t.Errorf("expected empty entry for alpha|qwen, got %v %v", w, ok)
	}

	// alpha|gpt-4o, alpha|gpt-4o_mm (via base), beta|gpt-4o, beta|gpt-4o_mm, beta|qwen
	if len(prober.calls) != 5 {
		t.Errorf("expected 5 probes, got %d", len(prober.calls))
	}
	if len(reporter.records) != 5 {
		t.Fatalf("expected 5 usage reports, got %d", len(reporter.records))
	}
	// beta serves gpt-4o and gpt-4o_mm with the same provider model, so two
	// records share it: the failed text check and the successful variant.
	var failed, succeeded int
	for _, rec := range reporter.records {
		if rec.RequestID == "" || rec.APIKey == "" || rec.FinishTime.Before(rec.CreateTime) {
			t.Errorf("malformed usage record %+v", rec)
		}
		if rec.SourceName != "beta" || rec.ModelName != "openai/gpt-4o" {
			continue
		}
		if rec.Status {
			succeeded++
			continue
		}
		failed++
		if rec.Remark != "health-check: commercial" {
			t.Errorf("expected commercial remark, got %q", rec.Remark)
		}
	}
	if failed != 1 || succeeded != 1 {
		t.Errorf("expected one failed and one successful beta/openai/gpt-4o record, got %d failed %d succeeded", failed, succeeded)
	}
}

func TestRunCycle_MultimodalFlag(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, prober, &fakeIssuer{})
	m.RunCycle(context.Background())

	for _, c := range prober.calls {
		if c.Model == "gpt-4o_mm" {
			if !c.Multimodal {
				t.Error("expected multimodal probe for gpt-4o_mm")
			}
			if c.Source.Name == "alpha" && c.ProviderModel != "gpt-4o" {
				t.Errorf("expected base mapping, got %q", c.ProviderModel)
			}
		}
	}
}

func TestRunCycle_BlacklistedModelsAreSkippedButPresent(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog("gpt-4o") }, prober, &fakeIssuer{})
	m.RunCycle(context.Background())

	for _, c := range prober.calls {
		if c.Model == "gpt-4o" || c.Model == "gpt-4o_mm" {
			t.Errorf("blacklisted model probed: %+v", c)
		}
	}
	snap := m.Snapshot()
	for _, model := range []string{"gpt-4o", "gpt-4o_mm"} {
		if w, ok := snap.Window("alpha", model); !ok || len(w) != 0 {
			t.Errorf("expected empty entry for blacklisted %s, got %v %v", model, w, ok)
		}
	}
}

func TestRunCycle_IssueFailureIsRecordedAsFailure(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, prober, &fakeIssuer{err: errors.New("pool empty")})
	m.RunCycle(context.Background())

	if len(prober.calls) != 0 {
		t.Errorf("expected no probes without credentials, got %d", len(prober.calls))
	}
	if w, _ := m.Snapshot().Window("beta", "qwen"); len(w) != 1 || !w[0].Failed {
		t.Errorf("expected failure marker, got %+v", w)
	}
}

func TestRunCycle_CanceledContextRecordsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, &fakeProber{}, &fakeIssuer{})

	if err := m.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	for k, w := range m.Snapshot().Windows {
		if len(w) != 0 {
			t.Errorf("window %s recorded %d samples after cancellation", k, len(w))
		}
	}
}

func TestRunCycle_WindowStaysBounded(t *testing.T) {
	cfg := testHealthConfig()
	cfg.WindowSize = 3
	m := NewMonitor(cfg, func() *catalog.Catalog { return testCatalog() }, &fakeProber{}, &fakeIssuer{})
	for i := 0; i < 5; i++ {
		m.RunCycle(context.Background())
	}
	if w, _ := m.Snapshot().Window("alpha", "gpt-4o"); len(w) != 3 {
		t.Errorf("expected window of 3, got %d", len(w))
	}
}

func TestRunCycle_PublishesGRPCStatus(t *testing.T) {
	prober := &fakeProber{errs: map[string]error{
		"beta|gpt-4o":    errors.New("boom"),
		"beta|gpt-4o_mm": errors.New("boom"),
		"beta|qwen":      errors.New("boom"),
	}}
	server := health.NewServer()
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, prober, &fakeIssuer{},
		WithPublisher(NewStatusPublisher(server)))
	m.RunCycle(context.Background())

	check := func(source string, want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		resp, err := server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName(source)})
		if err != nil {
			t.Fatalf("health check %s: %v", source, err)
		}
		if resp.Status != want {
			t.Errorf("%s status = %v, want %v", source, resp.Status, want)
		}
	}
	check("alpha", healthpb.HealthCheckResponse_SERVING)
	check("beta", healthpb.HealthCheckResponse_NOT_SERVING)
}

func TestMonitor_TriggerRunsCycle(t *testing.T) {
	prober := &fakeProber{}
	m := NewMonitor(testHealthConfig(), func() *catalog.Catalog { return testCatalog() }, prober, &fakeIssuer{})
	if !m.Trigger() {
		t.Fatal("expected trigger to start")
	}
	m.Wait()
	if len(prober.calls) == 0 {
		t.Error("expected triggered cycle to probe")
	}
}
