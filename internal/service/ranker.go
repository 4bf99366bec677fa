package service

import (
	"context"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/prompts"
)

// Ranker picks and orders the best candidates for a query.
type Ranker interface {
	// Rank returns exactly count image ids taken from candidates, best first.
	Rank(ctx context.Context, query string, candidates []domain.ImageRecord, count int) ([]int64, error)
}

// RankerConfig holds configuration for the LLM ranker.
type RankerConfig struct {
	Model   string
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// LLMRanker reranks kNN candidates with a chat model.
type LLMRanker struct {
	chat  *chatClient
	model string
}

// NewLLMRanker creates a new LLM ranker.
func NewLLMRanker(cfg *RankerConfig) *LLMRanker {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LLMRanker{
		chat:  newChatClient("ranker", cfg.APIKey, cfg.BaseURL, timeout),
		model: cfg.Model,
	}
}

// Rank sends the query and candidate captions and parses the selected ids.
func (r *LLMRanker) Rank(ctx context.Context, query string, candidates []domain.ImageRecord, count int) ([]int64, error) {
	view := make([]prompts.RankCandidate, len(candidates))
	for i, c := range candidates {
		view[i] = prompts.RankCandidate{ImageID: c.ID, Caption: c.CaptionText(), Tags: c.Tags}
	}

	temperature := 0.0
	req := &openAIRequest{
		Model: r.model,
		Messages: []openAIMessage{
			{Role: "system", Content: prompts.RankSystemPrompt},
			{Role: "user", Content: prompts.BuildRankPrompt(query, count, view)},
		},
		Temperature:    &temperature,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	content, err := r.chat.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseRankResponse(content, candidates, count)
}

type rankResponse struct {
	Results []struct {
		ImageID int64 `json:"image_id"`
	} `json:"results"`
}

// parseRankResponse keeps ids that are candidates, drops repeats, and truncates
// to count. Fewer than count valid ids is a malformed reply.
func parseRankResponse(content string, candidates []domain.ImageRecord, count int) ([]int64, error) {
	var resp rankResponse
	if err := decodeLLMJSON(content, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse rank response: %w", err)
	}

	allowed := make(map[int64]struct{}, len(candidates))
	for _, c := range candidates {
		allowed[c.ID] = struct{}{}
	}

	picked := make([]int64, 0, count)
	seen := make(map[int64]struct{}, count)
	for _, r := range resp.Results {
		if _, ok := allowed[r.ImageID]; !ok {
			continue
		}
		if _, dup := seen[r.ImageID]; dup {
			continue
		}
		seen[r.ImageID] = struct{}{}
		picked = append(picked, r.ImageID)
		if len(picked) == count {
			break
		}
	}

	if len(picked) < count {
		return nil, fmt.Errorf("%w: ranker returned %d valid ids, need %d", domain.ErrMalformedOutput, len(picked), count)
	}
	return picked, nil
}
