package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONArray decodes a model completion expected to be a JSON
// array. Providers wrap output in ``` fences often enough that the
// fences are stripped before decoding.
func ParseJSONArray(raw string) ([]json.RawMessage, error) {
	cleaned := StripCodeFences(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("empty completion")
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		return nil, fmt.Errorf("decode completion array: %w", err)
	}
	return items, nil
}

// StripCodeFences removes a surrounding markdown code fence, with or
// without a language tag.
func StripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// drop the language tag line ("json", "JSON", or empty)
		first := strings.TrimSpace(s[:idx])
		if first == "" || len(first) <= 10 && !strings.ContainsAny(first, "[{") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
