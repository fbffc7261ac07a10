package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/af-corp/aegis-router/internal/config"
	"github.com/af-corp/aegis-router/internal/healthmon"
	"github.com/af-corp/aegis-router/internal/types"
)

const imagePrompt = "Describe this image in exactly 5 words"

// Prober sends health probes through a ChatClient.
type Prober struct {
	client    *ChatClient
	prompt    string
	maxTokens int
	imageURL  string
	now       func() time.Time
}

// NewProber builds a prober from the health check settings. When the probe
// image cannot be read, multimodal models are probed with the text prompt.
func NewProber(client *ChatClient, cfg config.HealthCheckConfig, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prober{
		client:    client,
		prompt:    cfg.ProbePrompt,
		maxTokens: cfg.ProbeMaxTokens,
		now:       time.Now,
	}
	if p.prompt == "" {
		p.prompt = "Hello!"
	}
	if cfg.ProbeImagePath != "" {
		img, err := os.ReadFile(cfg.ProbeImagePath)
		if err != nil {
			logger.Warn("probe image unavailable, multimodal models get text probes", "path", cfg.ProbeImagePath, "error", err)
		} else {
			p.imageURL = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img)
			logger.Info("probe image loaded", "path", cfg.ProbeImagePath, "bytes", len(img))
		}
	}
	return p
}

var _ healthmon.Prober = (*Prober)(nil)

func (p *Prober) Probe(ctx context.Context, req healthmon.ProbeRequest) (healthmon.ProbeResult, error) {
	var maxTokens *int
	if p.maxTokens > 0 {
		maxTokens = &p.maxTokens
	}

	multimodal := req.Multimodal && p.imageURL != ""
	var body any
	if multimodal {
		body = &types.ChatRequest{
			Model:     req.ProviderModel,
			MaxTokens: maxTokens,
			Messages: []types.Message{{
				Role: "user",
				Content: []types.ContentPart{
					{Type: "text", Text: imagePrompt},
					{Type: "image_url", ImageURL: &types.ImageURL{URL: p.imageURL}},
				},
			}},
		}
	} else {
		body = &types.ChatRequest{
			Model:     req.ProviderModel,
			MaxTokens: maxTokens,
			Messages:  []types.Message{{Role: "user", Content: p.prompt}},
		}
	}

	start := p.now()
	resp, err := p.client.post(ctx, req.Source.BaseURL, req.Credential, body)
	// Some providers only accept image_url as a bare string.
	if err != nil && multimodal && isInvalidType(err) {
		resp, err = p.client.post(ctx, req.Source.BaseURL, req.Credential, stringImageRequest(req.ProviderModel, maxTokens, p.imageURL))
	}
	latency := p.now().Sub(start)
	if err != nil {
		return healthmon.ProbeResult{}, fmt.Errorf("probe %s on %s: %w", req.ProviderModel, req.Source.Name, err)
	}

	res := healthmon.ProbeResult{
		Latency:   latency,
		Completed: strings.TrimSpace(resp.Text()) != "",
	}
	if resp.Usage != nil {
		prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		res.PromptTokens = &prompt
		res.CompletionTokens = &completion
	}
	return res, nil
}

func isInvalidType(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && strings.Contains(strings.ToLower(se.Body), "invalid type")
}

type stringImagePart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

func stringImageRequest(model string, maxTokens *int, imageURL string) any {
	return struct {
		Model     string `json:"model"`
		MaxTokens *int   `json:"max_tokens,omitempty"`
		Messages  []any  `json:"messages"`
	}{
		Model:     model,
		MaxTokens: maxTokens,
		Messages: []any{map[string]any{
			"role": "user",
			"content": []stringImagePart{
				{Type: "text", Text: imagePrompt},
				{Type: "image_url", ImageURL: imageURL},
			},
		}},
	}
}
