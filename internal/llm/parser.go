package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoCategory is returned when a reply names no category.
var ErrNoCategory = errors.New("no category found in response")

// parseSuggestion extracts the category name from a model reply. It accepts
// a JSON object with a "category" field (bare, fenced or wrapped in prose),
// a "CATEGORY: name" line, or a reply that is nothing but the name.
func parseSuggestion(content string) (string, error) {
	content = cleanMarkdownWrapper(content)

	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		var reply struct {
			Category string `json:"category"`
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err == nil {
			if name := strings.TrimSpace(reply.Category); name != "" {
				return name, nil
			}
			return "", ErrNoCategory
		}
	}

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) > len("CATEGORY:") && strings.EqualFold(line[:len("CATEGORY:")], "CATEGORY:") {
			if name := strings.TrimSpace(line[len("CATEGORY:"):]); name != "" {
				return name, nil
			}
		}
	}

	if trimmed := strings.TrimSpace(content); trimmed != "" && !strings.Contains(trimmed, "\n") && len(trimmed) <= 64 {
		return trimmed, nil
	}
	return "", ErrNoCategory
}

// cleanMarkdownWrapper strips a surrounding ``` fence, with or without a language tag.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if i := strings.Index(content, "\n"); i >= 0 {
		content = content[i+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}
