package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSuggestion(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "json", content: `{"category": "coffee"}`, want: "coffee"},
		{name: "fenced json", content: "```json\n{\"category\": \"dining\"}\n```", want: "dining"},
		{name: "json in prose", content: "Sure! Here you go: {\"category\":\"groceries\"} Hope that helps.", want: "groceries"},
		{name: "labelled line", content: "CATEGORY: utilities\nCONFIDENCE: 0.9", want: "utilities"},
		{name: "lower-case label", content: "category: online", want: "online"},
		{name: "bare name", content: "  subscriptions \n", want: "subscriptions"},
		{name: "empty json category", content: `{"category": ""}`, wantErr: true},
		{name: "empty", content: "   ", wantErr: true},
		{name: "rambling", content: "I am not sure.\nIt could be many things.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSuggestion(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoCategory)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCleanMarkdownWrapper(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanMarkdownWrapper("```\n{\"a\":1}\n```"))
	assert.Equal(t, "plain", cleanMarkdownWrapper("  plain  "))
}
