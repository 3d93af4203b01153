package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"

	"github.com/Veraticus/tally/internal/engine"
)

const systemPrompt = `You are a financial transaction classifier. You MUST respond with ONLY a JSON object of the form {"category": "<name>"}, where <name> is copied exactly from the list of categories you are given. Do not invent categories.`

// Classifier implements engine.AIClassifier on top of an LLM client.
type Classifier struct {
	client      Client
	cache       *suggestionCache
	logger      *slog.Logger
	rateLimiter *rateLimiter
}

// NewClassifier creates a new LLM-based classifier.
func NewClassifier(cfg Config, logger *slog.Logger) (*Classifier, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewClassifierWithClient(client, cfg, logger), nil
}

// NewClassifierWithClient wraps an existing client.
func NewClassifierWithClient(client Client, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		client:      client,
		cache:       newSuggestionCache(cfg.CacheTTL),
		logger:      logger.With("component", "llm"),
		rateLimiter: newRateLimiter(cfg.RateLimit),
	}
}

// SuggestCategory asks the model to pick one name from req.Vocabulary.
// Retries and timeouts are the caller's; one call makes at most one request.
func (c *Classifier) SuggestCategory(ctx context.Context, req engine.AIRequest) (string, error) {
	key := cacheKey(req)
	if name, ok := c.cache.get(key); ok {
		c.logger.Debug("Cache hit for suggestion", "description", req.Description, "category", name)
		return name, nil
	}

	if err := c.rateLimiter.wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	reply, err := c.client.Complete(ctx, Prompt{System: systemPrompt, User: buildPrompt(req)})
	if err != nil {
		return "", err
	}
	name, err := parseSuggestion(reply)
	if err != nil {
		return "", fmt.Errorf("unusable model reply %q: %w", truncate(reply, 80), err)
	}

	c.cache.set(key, name)
	c.logger.Debug("Transaction classified",
		"description", req.Description,
		"merchant", req.MerchantName,
		"category", name)
	return name, nil
}

// buildPrompt creates the prompt for transaction classification.
func buildPrompt(req engine.AIRequest) string {
	var b strings.Builder

	b.WriteString("Classify this financial transaction into exactly one of the categories below, based only on what the transaction IS.\n\n")
	b.WriteString("Transaction Details:\n")
	fmt.Fprintf(&b, "Description: %s\n", req.Description)
	if req.MerchantName != "" {
		fmt.Fprintf(&b, "Merchant: %s\n", req.MerchantName)
	}
	direction := "outflow"
	if req.Amount < 0 {
		direction = "inflow"
	}
	fmt.Fprintf(&b, "Amount: $%s (%s)\n\n", req.Amount.String(), direction)

	b.WriteString("Categories:\n")
	for _, name := range req.Vocabulary {
		fmt.Fprintf(&b, "- %s\n", name)
	}

	if len(req.Exemplars) > 0 {
		b.WriteString("\nRecently categorized transactions, for reference:\n")
		for _, ex := range req.Exemplars {
			fmt.Fprintf(&b, "- %s | $%s | %s\n", ex.Description, ex.Amount.String(), ex.Category)
		}
	}

	b.WriteString("\nRespond with {\"category\": \"<name>\"}.")
	return b.String()
}

func cacheKey(req engine.AIRequest) string {
	h := fnv.New64a()
	for _, name := range req.Vocabulary {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%s|%s|%d|%x",
		strings.ToUpper(strings.TrimSpace(req.Description)),
		strings.ToUpper(strings.TrimSpace(req.MerchantName)),
		int64(req.Amount),
		h.Sum64())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
