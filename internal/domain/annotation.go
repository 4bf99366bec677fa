package domain

import (
	"fmt"
	"strings"
)

// Annotation is the structured captioning result for one image.
type Annotation struct {
	OCR     string   `json:"ocr"`
	Caption string   `json:"caption"`
	Humor   string   `json:"humor"`
	Tags    []string `json:"tags"`
}

// ComposeCaption joins the non-empty annotation parts into the single caption
// string stored on the record.
// Parameters: none.
// Returns:
//   - string: combined caption; written and read back unchanged.
func (a *Annotation) ComposeCaption() string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(a.OCR); s != "" {
		parts = append(parts, "OCR: "+s)
	}
	if s := strings.TrimSpace(a.Caption); s != "" {
		parts = append(parts, "Caption: "+s)
	}
	if s := strings.TrimSpace(a.Humor); s != "" {
		parts = append(parts, "Humor: "+s)
	}
	return strings.Join(parts, "\n")
}

// NormalizeTags trims, lowercases and dedupes the tags, drops anything outside
// the vocabulary, then checks the 2-4 bound.
// Parameters: none.
// Returns:
//   - error: wraps ErrMalformedOutput when the result is out of bounds or the caption is empty.
func (a *Annotation) NormalizeTags() error {
	seen := make(map[string]struct{}, len(a.Tags))
	kept := make([]string, 0, len(a.Tags))
	for _, t := range a.Tags {
		name := strings.ToLower(strings.TrimSpace(t))
		if !IsKnownTag(name) {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		kept = append(kept, name)
	}
	if len(kept) < MinTags || len(kept) > MaxTags {
		return fmt.Errorf("%w: got %d valid tags from %v, want %d-%d", ErrMalformedOutput, len(kept), a.Tags, MinTags, MaxTags)
	}
	if strings.TrimSpace(a.Caption) == "" {
		return fmt.Errorf("%w: empty caption", ErrMalformedOutput)
	}
	a.Tags = kept
	return nil
}

// CaptionedItem is one successfully annotated record ready to be committed.
type CaptionedItem struct {
	ImageID int64
	Caption string
	Tags    []string
}
