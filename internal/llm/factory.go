package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/playmind/guessball/internal/config"
)

// NewClient builds the configured provider. An empty provider (or empty API
// key for providers that need one) yields the Noop client rather than an
// error: the engine degrades to its non-generative fallback stages.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	provider := strings.ToLower(cfg.Provider)

	if provider == "" || provider == "none" {
		return Noop{}, nil
	}
	if cfg.APIKey == "" && provider != "ollama" {
		return Noop{}, nil
	}

	switch provider {
	case "openai", "deepseek":
		baseURL := cfg.BaseURL
		if provider == "deepseek" && baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
		return NewOpenAIClient(cfg.APIKey, cfg.Model, baseURL), nil

	case "claude":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)

	case "ollama":
		// Ollama exposes an OpenAI-compatible endpoint under /v1; the API
		// key is ignored but the client requires one.
		baseURL := strings.TrimRight(cfg.BaseURL, "/")
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama"
		}
		return NewOpenAIClient(apiKey, cfg.Model, baseURL), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}
