// Package transport talks to OpenAI-compatible chat completion endpoints.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/aegis-router/internal/types"
)

// maxErrorBody caps how much of a failed response ends up in an error.
const maxErrorBody = 2048

// StatusError is returned when the upstream answers with a non-200 status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Body)
}

// ChatClient posts chat completions to any OpenAI-compatible base URL.
type ChatClient struct {
	client *http.Client
}

func NewChatClient(client *http.Client) *ChatClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &ChatClient{client: client}
}

// Complete sends req to baseURL + "/chat/completions" authenticated with
// credential. A baseURL that already ends in /chat/completions is used as is.
func (c *ChatClient) Complete(ctx context.Context, baseURL, credential string, req *types.ChatRequest) (*types.ChatResponse, error) {
	return c.post(ctx, baseURL, credential, req)
}

func (c *ChatClient) post(ctx context.Context, baseURL, credential string, body any) (*types.ChatResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(baseURL), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+credential)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var out types.ChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	return &out, nil
}

func endpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}
