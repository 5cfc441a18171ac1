// Package llm talks to the external language model used to classify
// screening answers and to generate clarifying replies.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/gad7-screener/internal/config"
	"github.com/openai/openai-go/option"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client completes a chat conversation.
type Client interface {
	// Complete returns the model's reply to messages under systemPrompt.
	Complete(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// ErrNotConfigured is returned by every call of a client without an API key.
var ErrNotConfigured = errors.New("llm client not configured")

// NewClient creates the client for the configured provider. A missing API
// key is not an error: the returned client fails every call, and callers
// degrade to their safe defaults.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return unavailableClient{provider: cfg.Provider}, nil
	}

	switch cfg.Provider {
	case config.ProviderGroq, config.ProviderOpenAI:
		return NewOpenAIClient(cfg, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout})), nil
	case config.ProviderGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

type unavailableClient struct {
	provider string
}

func (c unavailableClient) Complete(context.Context, string, []Message) (string, error) {
	return "", fmt.Errorf("%s: %w", c.provider, ErrNotConfigured)
}
