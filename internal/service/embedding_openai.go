package service

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/timmy/memeprep/internal/domain"
)

// OpenAIProvider embeds through any OpenAI-compatible /embeddings endpoint.
// The task is carried as a "query: " or "passage: " text prefix.
type OpenAIProvider struct {
	embedder   *openai.Embedder
	model      string
	dimensions int
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
// Parameters:
//   - ctx: context used to construct the client.
//   - cfg: eino embedding configuration; Dimensions must be set.
// Returns:
//   - *OpenAIProvider: ready provider.
//   - error: non-nil if the client cannot be created.
func NewOpenAIProvider(ctx context.Context, cfg *openai.EmbeddingConfig) (*OpenAIProvider, error) {
	emb, err := openai.NewEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}

	dims := 1536
	if cfg.Dimensions != nil {
		dims = *cfg.Dimensions
	}

	return &OpenAIProvider{
		embedder:   emb,
		model:      cfg.Model,
		dimensions: dims,
	}, nil
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Dimensions returns the vector size.
func (p *OpenAIProvider) Dimensions() int {
	return p.dimensions
}

// Embed returns float32 vectors in input order.
func (p *OpenAIProvider) Embed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = string(task) + ": " + t
	}

	res, err := p.embedder.EmbedStrings(ctx, prefixed)
	if err != nil {
		return nil, fmt.Errorf("failed to call embeddings API: %w", err)
	}
	if len(res) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrMalformedOutput, len(res), len(texts))
	}

	out := make([][]float32, len(res))
	for i, vec := range res {
		f := make([]float32, len(vec))
		for j, v := range vec {
			f[j] = float32(v)
		}
		out[i] = f
	}
	return out, nil
}
