package transport

import (
	"context"
	"fmt"

	"github.com/af-corp/aegis-router/internal/catalog"
	"github.com/af-corp/aegis-router/internal/dispatch"
	"github.com/af-corp/aegis-router/internal/routing"
	"github.com/af-corp/aegis-router/internal/types"
)

// Call binds req to a dispatcher attempt. Each attempt resolves the
// assignment's source against the current catalog and sends req with the
// provider model id swapped in.
func (c *ChatClient) Call(cat func() *catalog.Catalog, req types.ChatRequest) dispatch.Call {
	return func(ctx context.Context, a routing.Assignment) (*types.ChatResponse, error) {
		src, ok := cat().Source(a.Source)
		if !ok {
			return nil, fmt.Errorf("call %s: unknown source %q", a.ProviderModel, a.Source)
		}
		attempt := req
		attempt.Model = a.ProviderModel
		return c.Complete(ctx, src.BaseURL, a.Credential, &attempt)
	}
}
