package healthmon

import (
	"context"
	"time"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/types"
)

// Prober sends one test completion to a source.
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest) (ProbeResult, error)
}

type ProbeRequest struct {
	Source        catalog.Source
	Model         string
	ProviderModel string
	Credential    string
	Multimodal    bool
}

// ProbeResult describes a probe that reached the source. Completed is false
// when the reply carried no usable completion.
type ProbeResult struct {
	Latency          time.Duration
	Completed        bool
	PromptTokens     *int
	CompletionTokens *int
}

// CredentialIssuer hands out a credential for a source.
type CredentialIssuer interface {
	Issue(ctx context.Context, source string) (string, error)
}

// UsageReporter records the outcome of a call made with a credential.
type UsageReporter interface {
	Report(ctx context.Context, rec types.UsageRecord) error
}
