package prompts

import (
	"fmt"
	"strings"
)

// ============================================================================
// Caption Prompts (Vision Language Model)
// ============================================================================

// CaptionSystemPrompt defines the role and output contract for meme annotation.
// The model must answer with a single JSON object and pick tags only from the
// vocabulary sent in the user turn.
const CaptionSystemPrompt = `You annotate meme images for a semantic search index.

For the image, extract:
1. ocr: every piece of text visible in the image, in reading order. Empty string if there is none.
2. caption: one or two sentences describing what is shown (subjects, expressions, actions, setting).
3. humor: why the meme is funny or what situation it is used for.
4. tags: between 2 and 4 tags chosen ONLY from the provided tag list.

Output rules:
- Reply with one JSON object and nothing else. No markdown code fences.
- Use exactly these keys: {"ocr": string, "caption": string, "humor": string, "tags": [string]}
- Never invent tags that are not in the list.`

// CaptionUserPrompt returns the user turn that accompanies the image.
// Parameters:
//   - tags: the controlled vocabulary the model may choose from.
// Returns:
//   - string: user prompt text.
func CaptionUserPrompt(tags []string) string {
	return fmt.Sprintf("Available tags: %s\n\nAnnotate this meme image.", strings.Join(tags, ", "))
}

// ============================================================================
// Rerank Prompt (LLM)
// ============================================================================

// RankSystemPrompt positions the model as the final selector over kNN candidates.
const RankSystemPrompt = `You are a witty advisor who knows exactly which meme fits a user's situation.

From the candidate memes, choose the ones that best fit the user's situation and context, ordered from best to worst fit.
Only use image_id values that appear in the candidate list, and never repeat one.

Reply with one JSON object and nothing else, in this form:
{"results": [{"image_id": <best>}, {"image_id": <second best>}, ...]}`

// RankCandidate is the view of a candidate shown to the ranker.
type RankCandidate struct {
	ImageID int64
	Caption string
	Tags    []string
}

// BuildRankPrompt renders the user turn for the rerank call.
// Parameters:
//   - query: the user's situation text.
//   - count: how many memes to select.
//   - candidates: kNN candidates in index order.
// Returns:
//   - string: user prompt text.
func BuildRankPrompt(query string, count int, candidates []RankCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Select the top %d memes for this situation.\n\n", count)
	fmt.Fprintf(&b, "Situation: %s\n\nCandidates:\n", query)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- image_id: %d\n", c.ImageID)
		if len(c.Tags) > 0 {
			fmt.Fprintf(&b, "  tags: %s\n", strings.Join(c.Tags, ", "))
		}
		caption := strings.ReplaceAll(strings.TrimSpace(c.Caption), "\n", "\n  ")
		fmt.Fprintf(&b, "  caption: %s\n", caption)
	}
	return b.String()
}
