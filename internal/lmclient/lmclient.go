// Package lmclient is a thin wrapper over a text-completion API with fixed
// retry, used by every agent. Provider selection and middleware wrapping are
// grounded on the teacher's internal/agent/generator.go, trimmed of
// tool-calling, OAuth, and TUI-printing middleware since Builder agents are
// plain text/JSON generators that never register tools on the model.
package lmclient

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go/v3"
	openaioption "github.com/openai/openai-go/v3/option"
	"github.com/spachava753/gai"
)

// ProviderType selects the concrete backend, mirroring config's model.type.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
)

// ModelConfig names one LM endpoint.
type ModelConfig struct {
	ID         string
	Type       ProviderType
	BaseURL    string
	APIKeyEnv  string
	MaxRetries int
}

// Client wraps a gai.ToolCapableGenerator with a fixed retry schedule:
// waits of 1s, 2s, then 4s (capped at 4s, no jitter), for up to
// ModelConfig.MaxRetries attempts (three when unset).
type Client struct {
	gen   gai.ToolCapableGenerator
	model ModelConfig
}

// New builds a Client for the given model config.
func New(ctx context.Context, cfg ModelConfig, systemPrompt string) (*Client, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("lmclient: environment variable %q is not set", cfg.APIKeyEnv)
	}

	httpClient := &http.Client{Timeout: 5 * time.Minute}

	gen, err := newGeneratorFromModel(cfg, apiKey, httpClient, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("lmclient: constructing generator for %q: %w", cfg.ID, err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 4 * time.Second
	b.RandomizationFactor = 0
	b.Reset()

	maxTries := cfg.MaxRetries
	if maxTries <= 0 {
		maxTries = 3
	}

	wrapped := gai.Wrap(gen, gai.WithRetry(b, backoff.WithMaxTries(uint(maxTries))))
	wrappedGen, ok := wrapped.(gai.ToolCapableGenerator)
	if !ok {
		return nil, fmt.Errorf("lmclient: retry-wrapped generator for %q does not implement ToolCapableGenerator", cfg.ID)
	}

	return &Client{gen: wrappedGen, model: cfg}, nil
}

func newGeneratorFromModel(cfg ModelConfig, apiKey string, httpClient *http.Client, systemPrompt string) (gai.ToolCapableGenerator, error) {
	var gen gai.ToolCapableGenerator

	switch cfg.Type {
	case ProviderAnthropic:
		opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		svc := gai.NewAnthropicServiceWrapper(&client.Messages, gai.EnableSystemCaching)
		gen = gai.NewAnthropicGenerator(svc, cfg.ID, systemPrompt)
	case ProviderOpenAI:
		opts := []openaioption.RequestOption{openaioption.WithAPIKey(apiKey), openaioption.WithHTTPClient(httpClient)}
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		client := openai.NewClient(opts...)
		oaiGen := gai.NewOpenAiGenerator(&client.Chat.Completions, cfg.ID, systemPrompt)
		gen = &oaiGen
	default:
		return nil, fmt.Errorf("lmclient: unsupported model type %q", cfg.Type)
	}

	if sg, ok := gen.(gai.StreamingGenerator); ok {
		gen = &gai.StreamingAdapter{S: sg}
	}

	return gen, nil
}

// Complete sends dialog and returns the concatenated text of the assistant's
// reply, applying the client's retry schedule. It raises on final failure,
// aborting the current pipeline step per §4.9's error-handling policy.
func (c *Client) Complete(ctx context.Context, dialog gai.Dialog) (string, error) {
	resp, err := c.gen.Generate(ctx, dialog, nil)
	if err != nil {
		return "", fmt.Errorf("lmclient: generating with %q: %w", c.model.ID, err)
	}
	return ExtractText(resp), nil
}

// ExtractText concatenates every text content block of a Response's first
// candidate, in order. Non-text and non-content blocks (tool calls,
// thinking) are skipped.
func ExtractText(resp gai.Response) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, block := range resp.Candidates[0].Blocks {
		if block.ModalityType != gai.Text || block.BlockType != gai.Content {
			continue
		}
		b.WriteString(block.Content.String())
	}
	return b.String()
}
