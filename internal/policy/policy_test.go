package policy

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
)

func testCfg(enabled bool) func() config.PolicyConfig {
	return func() config.PolicyConfig {
		return config.PolicyConfig{Enabled: enabled, EvaluationTimeout: 100 * time.Millisecond}
	}
}

const routingPolicy = `
package aegis.routing

import rego.v1

default allow := true

allow := false if {
	endswith(input.model, "_mm")
	not input.capabilities.openai
}

allow := false if {
	input.rank > 10
}
`

func loadTestEvaluator(t *testing.T, policy string) *Evaluator {
	t.Helper()
	e := NewEvaluator(testCfg(true), nil)
	if err := e.LoadFromModules(map[string]string{"routing.rego": policy}); err != nil {
		t.Fatalf("failed to load policy: %v", err)
	}
	return e
}

func TestEvaluator_Allowed(t *testing.T) {
	e := loadTestEvaluator(t, routingPolicy)

	tests := []struct {
		name  string
		input Input
		want  bool
	}{
		{"text model", Input{Model: "gpt-4o", Source: "a", Rank: 1}, true},
		{"multimodal with openai", Input{Model: "gpt-4o_mm", Rank: 1, Capabilities: Capabilities{OpenAI: true}}, true},
		{"multimodal curl only", Input{Model: "gpt-4o_mm", Rank: 1, Capabilities: Capabilities{Curl: true}}, false},
		{"low priority source", Input{Model: "gpt-4o", Rank: 11}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allowed(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluator_NoPolicyAllows(t *testing.T) {
	e := NewEvaluator(testCfg(true), nil)
	allowed, err := e.Allowed(context.Background(), Input{Model: "m"})
	if err != nil || !allowed {
		t.Errorf("expected allow with no policy, got %v, %v", allowed, err)
	}
}

func TestEvaluator_DisabledAllows(t *testing.T) {
	e := NewEvaluator(testCfg(false), nil)
	if err := e.LoadFromModules(map[string]string{"deny.rego": "package aegis.routing\n\nimport rego.v1\n\ndefault allow := false\n"}); err != nil {
		t.Fatal(err)
	}
	allowed, err := e.Allowed(context.Background(), Input{Model: "m"})
	if err != nil || !allowed {
		t.Errorf("disabled evaluator should allow, got %v, %v", allowed, err)
	}
}

func TestEvaluator_UndefinedDenies(t *testing.T) {
	e := loadTestEvaluator(t, "package aegis.routing\n\nimport rego.v1\n\nallow if input.source == \"a\"\n")

	allowed, err := e.Allowed(context.Background(), Input{Source: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("undefined allow should deny")
	}
}

func TestEvaluator_InvalidPolicy(t *testing.T) {
	e := NewEvaluator(testCfg(true), nil)
	if err := e.LoadFromModules(map[string]string{"bad.rego": "package aegis.routing\n\nallow :=="}); err == nil {
		t.Error("expected compile error")
	}
}

func TestLoad_FromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "routing.rego"), []byte(routingPolicy), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	e := NewEvaluator(func() config.PolicyConfig {
		return config.PolicyConfig{Enabled: true, BundlePath: dir}
	}, nil)
	if err := e.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	allowed, err := e.Allowed(context.Background(), Input{Model: "m", Rank: 50})
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("expected rank 50 to be denied")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestReadBundle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "routing.rego"), routingPolicy)
	writeFile(t, filepath.Join(dir, "routing_test.rego"), "package aegis.routing_test")
	writeFile(t, filepath.Join(dir, "lib", "ranks.rego"), "package aegis.lib")
	writeFile(t, filepath.Join(dir, "lib", "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, ".git", "hooks.rego"), "package hidden")

	tests := []struct {
		name  string
		path  string
		names []string
	}{
		{"directory tree", dir, []string{"lib/ranks.rego", "routing.rego"}},
		{"single file", filepath.Join(dir, "lib", "ranks.rego"), []string{"ranks.rego"}},
		{"empty directory", t.TempDir(), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, modules, err := readBundle(tt.path)
			if err != nil {
				t.Fatalf("readBundle failed: %v", err)
			}
			if !reflect.DeepEqual(names, tt.names) {
				t.Errorf("expected names %v, got %v", tt.names, names)
			}
			if len(modules) != len(tt.names) {
				t.Errorf("expected %d modules, got %d", len(tt.names), len(modules))
			}
			for _, n := range tt.names {
				if modules[n] == "" {
					t.Errorf("module %q has no source", n)
				}
			}
		})
	}
}

func TestReadBundle_MissingPath(t *testing.T) {
	if _, _, err := readBundle(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing bundle path")
	}
}

func TestLoad_NestedBundleWithTests(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "routing", "main.rego"), routingPolicy)
	// A rego unit test would not compile against the allow query alone.
	writeFile(t, filepath.Join(dir, "routing", "main_test.rego"), "package broken {")

	e := NewEvaluator(func() config.PolicyConfig {
		return config.PolicyConfig{Enabled: true, BundlePath: dir}
	}, nil)
	if err := e.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	allowed, err := e.Allowed(context.Background(), Input{Model: "m_mm"})
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Error("expected multimodal model without openai capability to be denied")
	}
}
