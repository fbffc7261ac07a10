package keypool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/types"
)

// Client talks to a remote credential manager. When the manager cannot
// hand out a key, Issue falls back to a random key from the local pool
// configuration.
type Client struct {
	baseURL  string
	http     *http.Client
	fallback func() *config.CredentialsConfig
	logger   *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, fallback func() *config.CredentialsConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		fallback: fallback,
		logger:   logger,
	}
}

func (c *Client) Issue(ctx context.Context, source string) (string, error) {
	key, err := c.issueRemote(ctx, source)
	if err == nil {
		return key, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var keys []string
	if c.fallback != nil {
		keys = c.fallback().Keys(source)
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("issue credential for %q: %w", source, err)
	}
	key = keys[rand.IntN(len(keys))]
	c.logger.Warn("credential manager unavailable, using local pool",
		"source", source,
		"key_prefix", MaskKey(key),
		"error", err,
	)
	return key, nil
}

func (c *Client) issueRemote(ctx context.Context, source string) (string, error) {
	body, _ := json.Marshal(issueRequest{SourceName: source})
	resp, err := c.post(ctx, "/get_apikey", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("credential manager returned status %d: %s", resp.StatusCode, string(msg))
	}
	var out issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode credential response: %w", err)
	}
	if out.APIKey == "" {
		return "", fmt.Errorf("credential manager returned an empty key")
	}
	return out.APIKey, nil
}

// Report sends one usage record. Errors are returned for the caller to log.
func (c *Client) Report(ctx context.Context, rec types.UsageRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage record: %w", err)
	}
	resp, err := c.post(ctx, "/notice_apikey", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("credential manager returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call credential manager: %w", err)
	}
	return resp, nil
}
