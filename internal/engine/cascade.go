// Package engine categorizes transactions through amount rules, merchant
// mappings and an AI fallback, stopping at the first tier that matches.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// AIConfidence is the confidence recorded for every AI prediction.
const AIConfidence = 0.7

// Config holds configuration options for the cascade.
type Config struct {
	Retry                service.RetryOptions
	AITimeout            time.Duration
	AutoConfirmThreshold int // Mapping confirmations needed before tier 2 auto-confirms
	ExemplarLimit        int // Recent categorized transactions shown to the AI tier
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		AutoConfirmThreshold: 3,
		ExemplarLimit:        50,
		AITimeout:            20 * time.Second,
		Retry: service.RetryOptions{
			MaxAttempts:  2,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Multiplier:   2,
		},
	}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.AutoConfirmThreshold < 1 {
		return fmt.Errorf("%w: auto-confirm threshold must be at least 1, got %d", common.ErrInvalidConfig, c.AutoConfirmThreshold)
	}
	if c.ExemplarLimit < 0 {
		return fmt.Errorf("%w: exemplar limit must not be negative", common.ErrInvalidConfig)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("%w: AI timeout must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// Cascade classifies transactions.
type Cascade struct {
	store  service.Storage
	ai     AIClassifier
	guard  *common.TaxonomyGuard
	locks  *common.KeyedMutex
	logger *slog.Logger
	cfg    Config
}

// Option customizes a Cascade.
type Option func(*Cascade)

// WithGuard shares the taxonomy guard with the category service.
func WithGuard(g *common.TaxonomyGuard) Option {
	return func(c *Cascade) { c.guard = g }
}

// WithLocks shares the per-transaction locks with the review machine.
func WithLocks(l *common.KeyedMutex) Option {
	return func(c *Cascade) { c.locks = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cascade) { c.logger = l }
}

// New creates a cascade. ai may be nil, in which case tier 3 never predicts.
func New(store service.Storage, ai AIClassifier, cfg Config, opts ...Option) (*Cascade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Cascade{
		store: store,
		ai:    ai,
		cfg:   cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.guard == nil {
		c.guard = &common.TaxonomyGuard{}
	}
	if c.locks == nil {
		c.locks = common.NewKeyedMutex()
	}
	if c.logger == nil {
		c.logger = common.Component("cascade")
	}
	return c, nil
}

// Guard returns the taxonomy guard the cascade reads under.
func (c *Cascade) Guard() *common.TaxonomyGuard {
	return c.guard
}

// Classify takes a fresh snapshot and classifies a single transaction.
func (c *Cascade) Classify(ctx context.Context, txn *model.Transaction) (model.Classification, error) {
	release := c.guard.Read()
	defer release()

	snap, err := c.Snapshot(ctx, c.store)
	if err != nil {
		return model.Classification{}, err
	}
	return c.ClassifyWith(ctx, snap, txn), nil
}

// ClassifyWith classifies txn against a snapshot. AI failures degrade to an
// unclassified verdict and are never returned.
func (c *Cascade) ClassifyWith(ctx context.Context, snap *Snapshot, txn *model.Transaction) model.Classification {
	if cl, ok := snap.Match(txn); ok {
		return cl
	}
	return c.classifyAI(ctx, snap, txn)
}

func (c *Cascade) classifyAI(ctx context.Context, snap *Snapshot, txn *model.Transaction) model.Classification {
	if c.ai == nil || len(snap.vocabulary) == 0 {
		return model.Unclassified()
	}

	req := AIRequest{
		Description:  txn.Description,
		MerchantName: txn.MerchantName,
		Amount:       txn.Amount,
		Vocabulary:   snap.Vocabulary(),
		Exemplars:    snap.exemplars,
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.AITimeout)
	defer cancel()

	var name string
	err := common.WithRetry(callCtx, func() error {
		var err error
		name, err = c.ai.SuggestCategory(callCtx, req)
		return err
	}, c.cfg.Retry)
	if err != nil {
		c.logger.Warn("AI classification failed",
			"transaction_id", txn.ID,
			"error", &common.ExternalCapabilityError{Op: "classify", ID: txn.ID, Err: err})
		return model.Unclassified()
	}

	id, ok := snap.Resolve(name)
	if !ok {
		c.logger.Warn("AI suggested a category outside the vocabulary",
			"transaction_id", txn.ID,
			"suggestion", name)
		return model.Unclassified()
	}

	return model.Classification{
		PredictedCategoryID: model.Int64Ptr(id),
		Status:              model.StatusPendingReview,
		Tier:                model.TierAI,
		Confidence:          AIConfidence,
	}
}

// PendingResult summarizes a ClassifyPending run.
type PendingResult struct {
	Processed int `json:"processed"`
	Staged    int `json:"staged"`    // Tier 1 or confident tier 2, moved to pending_save
	Predicted int `json:"predicted"` // Prediction attached, still pending_review
	Unmatched int `json:"unmatched"`
}

// ClassifyPending re-runs the cascade over pending_review transactions that
// have no prediction, newest first. Results that would have auto-confirmed are
// staged for the user instead; nothing outside pending_review is touched.
func (c *Cascade) ClassifyPending(ctx context.Context, limit int) (PendingResult, error) {
	var result PendingResult

	release := c.guard.Read()
	defer release()

	snap, err := c.Snapshot(ctx, c.store)
	if err != nil {
		return result, err
	}

	txns, err := c.store.ListTransactions(ctx, service.TransactionFilter{
		Statuses:          []model.Status{model.StatusPendingReview},
		WithoutPrediction: true,
		NewestFirst:       true,
		Limit:             limit,
	})
	if err != nil {
		return result, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	for i := range txns {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		txn := &txns[i]
		result.Processed++

		cl := c.ClassifyWith(ctx, snap, txn)
		switch {
		case cl.CategoryID != nil:
			txn.StagedCategoryID = cl.CategoryID
			txn.Status = model.StatusPendingSave
		case cl.PredictedCategoryID != nil:
			txn.PredictedCategoryID = cl.PredictedCategoryID
		default:
			result.Unmatched++
			continue
		}
		txn.Tier = cl.Tier
		txn.Confidence = cl.Confidence

		updated, err := c.applyPending(ctx, txn)
		if err != nil {
			return result, err
		}
		if !updated {
			c.logger.Debug("Transaction left pending_review during batch", "transaction_id", txn.ID)
			continue
		}
		if txn.Status == model.StatusPendingSave {
			result.Staged++
		} else {
			result.Predicted++
		}
	}

	c.logger.Info("Classified pending transactions",
		"processed", result.Processed,
		"staged", result.Staged,
		"predicted", result.Predicted,
		"unmatched", result.Unmatched)
	return result, nil
}

func (c *Cascade) applyPending(ctx context.Context, txn *model.Transaction) (bool, error) {
	unlock := c.locks.Lock(txn.ID)
	defer unlock()

	ok, err := c.store.UpdateTransactionState(ctx, txn, model.StatusPendingReview)
	if err != nil {
		return false, fmt.Errorf("failed to save classification for %s: %w", txn.ID, err)
	}
	return ok, nil
}

// ClearPredictions drops prediction, tier and confidence from every pending_review transaction.
func (c *Cascade) ClearPredictions(ctx context.Context) (int64, error) {
	n, err := c.store.ClearPredictions(ctx)
	if err != nil {
		return 0, err
	}
	c.logger.Info("Cleared predictions", "count", n)
	return n, nil
}
