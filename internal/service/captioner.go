package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/timmy/memeprep/internal/domain"
	"github.com/timmy/memeprep/internal/prompts"
)

// Captioner turns image bytes into a validated annotation.
type Captioner interface {
	// Annotate describes one JPEG image.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - jpeg: image bytes.
	// Returns:
	//   - *domain.Annotation: annotation with tags normalized to the vocabulary.
	//   - error: wraps domain.ErrMalformedOutput when the reply breaks the contract.
	Annotate(ctx context.Context, jpeg []byte) (*domain.Annotation, error)
}

// VLMCaptioner annotates images with an OpenAI-compatible vision model.
type VLMCaptioner struct {
	chat      *chatClient
	model     string
	maxTokens int
}

// VLMConfig holds configuration for the VLM captioner.
type VLMConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// NewVLMCaptioner creates a new VLM captioner.
// Parameters:
//   - cfg: VLM configuration including model, endpoint and API key.
//
// Returns:
//   - *VLMCaptioner: initialized VLM client wrapper.
func NewVLMCaptioner(cfg *VLMConfig) *VLMCaptioner {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}
	return &VLMCaptioner{
		chat:      newChatClient("VLM", cfg.APIKey, cfg.BaseURL, timeout),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

// Annotate sends the system instruction, the tag vocabulary and the image in one request.
func (c *VLMCaptioner) Annotate(ctx context.Context, jpeg []byte) (*domain.Annotation, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)

	req := &openAIRequest{
		Model: c.model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: prompts.CaptionSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{
						Type: "text",
						Text: prompts.CaptionUserPrompt(domain.TagVocabulary),
					},
					openAIImageContent{
						Type: "image_url",
						ImageURL: openAIImageURL{
							URL:    dataURL,
							Detail: "auto", // auto keeps small text legible for OCR
						},
					},
				},
			},
		},
		MaxTokens:      c.maxTokens,
		ResponseFormat: &openAIResponseFormat{Type: "json_object"},
	}

	content, err := c.chat.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return parseAnnotation(content)
}

func parseAnnotation(content string) (*domain.Annotation, error) {
	var ann domain.Annotation
	if err := decodeLLMJSON(content, &ann); err != nil {
		return nil, fmt.Errorf("failed to parse annotation: %w", err)
	}
	if err := ann.NormalizeTags(); err != nil {
		return nil, err
	}
	return &ann, nil
}
