package llm

import (
	"context"
	"time"
)

// Client sends one prompt to a provider and returns the raw text reply.
type Client interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Prompt is a single-turn request.
type Prompt struct {
	System    string
	User      string
	MaxTokens int
}

// Config holds configuration for the LLM classifier.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string // Overrides the provider endpoint, mainly for tests and proxies
	CacheTTL    time.Duration
	RateLimit   int // Requests per minute
	Temperature float64
	MaxTokens   int
}
