package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timmy/memeprep/internal/domain"
)

// stripThink removes a leading <think>...</think> block that reasoning models emit.
func stripThink(content string) string {
	start := strings.Index(content, "<think>")
	if start == -1 {
		return content
	}
	end := strings.Index(content, "</think>")
	if end == -1 || end < start {
		return content
	}
	return content[:start] + content[end+len("</think>"):]
}

// extractJSONObject returns the first balanced {...} object in content.
// Braces inside JSON strings are ignored.
func extractJSONObject(content string) (string, error) {
	content = stripThink(content)

	start := strings.Index(content, "{")
	if start == -1 {
		return "", fmt.Errorf("%w: no JSON found in response", domain.ErrMalformedOutput)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("%w: incomplete JSON in response", domain.ErrMalformedOutput)
}

// decodeLLMJSON extracts the JSON object from an LLM reply and unmarshals it into v.
func decodeLLMJSON(content string, v interface{}) error {
	raw, err := extractJSONObject(content)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: failed to parse JSON: %v", domain.ErrMalformedOutput, err)
	}
	return nil
}
