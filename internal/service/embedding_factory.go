package service

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/timmy/memeprep/internal/config"
)

// NewEmbeddingProvider creates the provider named by cfg.Provider.
// Parameters:
//   - ctx: context used while constructing clients.
//   - cfg: embedding configuration; must pass ValidateWithAPIKey.
// Returns:
//   - EmbeddingProvider: the configured provider.
//   - error: non-nil for invalid configuration or unknown providers.
func NewEmbeddingProvider(ctx context.Context, cfg *config.EmbeddingConfig) (EmbeddingProvider, error) {
	if err := cfg.ValidateWithAPIKey(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.EmbeddingProviderJina:
		return NewJinaProvider(&JinaConfig{
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
		}), nil
	case config.EmbeddingProviderOpenAI:
		dims := cfg.Dimensions
		return NewOpenAIProvider(ctx, &openai.EmbeddingConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			Dimensions: &dims,
		})
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}
