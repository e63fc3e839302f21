// Package clients builds langchaingo models for the configured AI provider.
package clients

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider names an LLM backend.
type Provider string

const (
	Google    Provider = "google"
	OpenAI    Provider = "openai"
	Anthropic Provider = "anthropic"
)

// ParseProvider accepts the provider names used in AI_PROVIDER.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "google", "googleai", "gemini", "":
		return Google, nil
	case "openai":
		return OpenAI, nil
	case "anthropic", "claude":
		return Anthropic, nil
	default:
		return "", fmt.Errorf("unsupported AI provider %q", s)
	}
}

// Options selects a model on a provider.
type Options struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// New returns a model for opts. BaseURL is honored by the OpenAI and
// Anthropic clients, which covers OpenAI-compatible gateways.
func New(ctx context.Context, opts Options) (llms.Model, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("model name is required for provider %s", opts.Provider)
	}

	switch opts.Provider {
	case Google:
		// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models
		llm, err := googleai.New(ctx, googleai.WithAPIKey(opts.APIKey), googleai.WithDefaultModel(opts.Model))
		if err != nil {
			return nil, fmt.Errorf("failed to init google model %s: %w", opts.Model, err)
		}
		return llm, nil

	case OpenAI:
		clientOpts := []openai.Option{openai.WithModel(opts.Model)}
		if opts.APIKey != "" {
			clientOpts = append(clientOpts, openai.WithToken(opts.APIKey))
		}
		if opts.BaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
		}
		llm, err := openai.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to init openai model %s: %w", opts.Model, err)
		}
		return llm, nil

	case Anthropic:
		clientOpts := []anthropic.Option{anthropic.WithModel(opts.Model)}
		if opts.APIKey != "" {
			clientOpts = append(clientOpts, anthropic.WithToken(opts.APIKey))
		}
		if opts.BaseURL != "" {
			clientOpts = append(clientOpts, anthropic.WithBaseURL(opts.BaseURL))
		}
		llm, err := anthropic.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to init anthropic model %s: %w", opts.Model, err)
		}
		return llm, nil
	}
	return nil, fmt.Errorf("unsupported AI provider %q", opts.Provider)
}

// Models holds the two model tiers used by the research agents.
type Models struct {
	// Thinking plans, generates queries and analyzes gaps.
	Thinking llms.Model
	// Task summarizes sources and writes the report.
	Task llms.Model
}

// NewModels builds both tiers on the same provider.
func NewModels(ctx context.Context, provider, apiKey, baseURL, thinkingModel, taskModel string) (*Models, error) {
	p, err := ParseProvider(provider)
	if err != nil {
		return nil, err
	}
	thinking, err := New(ctx, Options{Provider: p, APIKey: apiKey, BaseURL: baseURL, Model: thinkingModel})
	if err != nil {
		return nil, err
	}
	task, err := New(ctx, Options{Provider: p, APIKey: apiKey, BaseURL: baseURL, Model: taskModel})
	if err != nil {
		return nil, err
	}
	return &Models{Thinking: thinking, Task: task}, nil
}
