package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/memeprep/internal/domain"
)

const (
	jinaEndpoint = "https://api.jina.ai/v1/embeddings"
)

// EmbeddingTask selects the asymmetric retrieval mode of an embedding call.
type EmbeddingTask string

const (
	TaskPassage EmbeddingTask = "passage"
	TaskQuery   EmbeddingTask = "query"
)

// EmbeddingProvider turns texts into vectors.
type EmbeddingProvider interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error)
	// Dimensions returns the vector size.
	Dimensions() int
	// Model returns the model name.
	Model() string
}

// JinaProvider calls the Jina embeddings REST API.
type JinaProvider struct {
	client     *resty.Client
	endpoint   string
	model      string
	dimensions int
}

// JinaConfig holds configuration for the Jina provider.
type JinaConfig struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
}

// NewJinaProvider creates a new Jina embedding provider.
func NewJinaProvider(cfg *JinaConfig) *JinaProvider {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}

	endpoint := jinaEndpoint
	if cfg.BaseURL != "" {
		endpoint = strings.TrimSuffix(cfg.BaseURL, "/") + "/embeddings"
	}

	return &JinaProvider{
		client:     client,
		endpoint:   endpoint,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}
}

// Model returns the model name being used
func (p *JinaProvider) Model() string {
	return p.model
}

// Dimensions returns the configured vector size.
func (p *JinaProvider) Dimensions() int {
	return p.dimensions
}

// Jina API request/response structures
type jinaRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type jinaResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Detail string `json:"detail,omitempty"`
}

func jinaTask(task EmbeddingTask) string {
	if task == TaskQuery {
		return "retrieval.query"
	}
	return "retrieval.passage"
}

// Embed generates embeddings for multiple texts in one request.
func (p *JinaProvider) Embed(ctx context.Context, texts []string, task EmbeddingTask) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := jinaRequest{
		Model:         p.model,
		Task:          jinaTask(task),
		Dimensions:    p.dimensions,
		Input:         texts,
		EmbeddingType: "float",
	}

	var resp jinaResponse
	httpResp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(p.endpoint)

	if err != nil {
		return nil, fmt.Errorf("failed to call Jina API: %w", err)
	}

	if httpResp.StatusCode() != 200 {
		if resp.Detail != "" {
			return nil, fmt.Errorf("Jina API error: %s", resp.Detail)
		}
		return nil, fmt.Errorf("Jina API error: status %d", httpResp.StatusCode())
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", domain.ErrMalformedOutput, len(resp.Data), len(texts))
	}

	// Sort by index to ensure correct order
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(embeddings) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", domain.ErrMalformedOutput, item.Index)
		}
		embeddings[item.Index] = item.Embedding
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", domain.ErrMalformedOutput, i)
		}
	}

	return embeddings, nil
}
