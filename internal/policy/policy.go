// Package policy decides, through OPA, which sources may serve a model.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/open-policy-agent/opa/v1/rego"
)

const allowQuery = "data.aegis.routing.allow"

// Input is the document a routing policy is evaluated against.
type Input struct {
	Model         string       `json:"model"`
	Source        string       `json:"source"`
	ProviderModel string       `json:"provider_model"`
	Rank          int          `json:"rank"`
	MaxContext    int          `json:"max_context"`
	Capabilities  Capabilities `json:"capabilities"`
}

type Capabilities struct {
	OpenAI bool `json:"openai"`
	Curl   bool `json:"curl"`
}

// Evaluator holds the compiled routing policy. With nothing loaded every
// source is allowed.
type Evaluator struct {
	mu       sync.RWMutex
	prepared *rego.PreparedEvalQuery
	cfg      func() config.PolicyConfig
	logger   *slog.Logger
}

func NewEvaluator(cfg func() config.PolicyConfig, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

func (e *Evaluator) Enabled() bool { return e.cfg().Enabled }

// Load compiles the Rego modules found in the bundle path.
func (e *Evaluator) Load() error {
	cfg := e.cfg()
	names, modules, err := readBundle(cfg.BundlePath)
	if err != nil {
		return fmt.Errorf("read policy bundle: %w", err)
	}
	if len(modules) == 0 {
		e.logger.Warn("no rego files found", "path", cfg.BundlePath)
		return nil
	}
	if err := e.LoadFromModules(modules); err != nil {
		return err
	}
	e.logger.Info("routing policies loaded", "modules", names, "path", cfg.BundlePath)
	return nil
}

// LoadFromModules compiles policies from module sources keyed by bundle path.
func (e *Evaluator) LoadFromModules(modules map[string]string) error {
	opts := []func(*rego.Rego){rego.Query(allowQuery)}
	for name, src := range modules {
		opts = append(opts, rego.Module(name, src))
	}

	prepared, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("prepare rego: %w", err)
	}

	e.mu.Lock()
	e.prepared = &prepared
	e.mu.Unlock()
	return nil
}

// Allowed evaluates the policy for one (model, source) pair. An undefined
// result denies.
func (e *Evaluator) Allowed(ctx context.Context, in Input) (bool, error) {
	if !e.Enabled() {
		return true, nil
	}
	e.mu.RLock()
	prepared := e.prepared
	e.mu.RUnlock()
	if prepared == nil {
		return true, nil
	}

	timeout := e.cfg().EvaluationTimeout
	if timeout == 0 {
		timeout = 100 * time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results, err := prepared.Eval(evalCtx, rego.EvalInput(in))
	if err != nil {
		return false, fmt.Errorf("evaluate routing policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("routing policy returned %T, want bool", results[0].Expressions[0].Value)
	}
	return allowed, nil
}
