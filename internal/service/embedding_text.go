package service

import "strings"

func normalizeWhitespace(text string) string {
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// buildEmbeddingText is the passage embedded for a record: its caption with
// whitespace collapsed, followed by its tags.
func buildEmbeddingText(caption string, tags []string) string {
	segments := make([]string, 0, 2)
	if c := normalizeWhitespace(caption); c != "" {
		segments = append(segments, c)
	}
	tags = dedupeStrings(tags)
	if len(tags) > 0 {
		segments = append(segments, "tags: "+strings.Join(tags, ", "))
	}
	return strings.Join(segments, "\n")
}

func dedupeStrings(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	result := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
