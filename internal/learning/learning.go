// Package learning turns user confirmations into merchant mappings.
// It is the only writer of mapping confidence.
package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// DefaultMaxConfidence caps how far repeated confirmations raise a mapping.
const DefaultMaxConfidence = 100

// Outcome describes what a confirmation did to the merchant's mapping.
type Outcome int

// Confirmation outcomes.
const (
	Created Outcome = iota + 1
	Incremented
	Saturated
	Corrected
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Incremented:
		return "incremented"
	case Saturated:
		return "saturated"
	case Corrected:
		return "corrected"
	}
	return "unknown"
}

// Store records confirmations.
type Store struct {
	logger        *slog.Logger
	maxConfidence int
}

// New creates a Store. A non-positive maxConfidence uses DefaultMaxConfidence.
func New(maxConfidence int) *Store {
	if maxConfidence <= 0 {
		maxConfidence = DefaultMaxConfidence
	}
	return &Store{
		maxConfidence: maxConfidence,
		logger:        common.Component("learning"),
	}
}

// PatternFor derives the mapping pattern for a transaction: its normalized
// merchant key, quoted so it matches literally.
func PatternFor(txn *model.Transaction) string {
	key := txn.MerchantKey()
	if key == "" {
		return ""
	}
	return regexp.QuoteMeta(key)
}

// RecordConfirmation applies one user confirmation of txn as categoryID.
// q should be the caller's storage transaction so the mapping update commits
// or rolls back with the confirmation itself.
func (s *Store) RecordConfirmation(ctx context.Context, q service.Queries, txn *model.Transaction, categoryID int64) (Outcome, error) {
	pattern := PatternFor(txn)
	if pattern == "" {
		return 0, common.Validationf("learn", txn.ID, "transaction has no merchant text to learn from")
	}

	mapping, err := q.GetMappingByPattern(ctx, pattern)
	if errors.Is(err, common.ErrNotFound) {
		mapping = &model.MerchantMapping{Pattern: pattern, CategoryID: categoryID, Confidence: 1}
		if err := q.CreateMapping(ctx, mapping); err != nil {
			return 0, fmt.Errorf("failed to create mapping %q: %w", pattern, err)
		}
		s.logger.Debug("Created merchant mapping", "pattern", pattern, "category_id", categoryID)
		return Created, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load mapping %q: %w", pattern, err)
	}

	var outcome Outcome
	switch {
	case mapping.CategoryID != categoryID:
		s.logger.Info("Merchant mapping corrected",
			"pattern", pattern,
			"from_category_id", mapping.CategoryID,
			"category_id", categoryID,
			"previous_confidence", mapping.Confidence)
		mapping.CategoryID = categoryID
		mapping.Confidence = 1
		outcome = Corrected
	case mapping.Confidence >= s.maxConfidence:
		return Saturated, nil
	default:
		mapping.Confidence++
		outcome = Incremented
	}

	if err := q.UpdateMapping(ctx, mapping); err != nil {
		return 0, fmt.Errorf("failed to update mapping %q: %w", pattern, err)
	}
	return outcome, nil
}
