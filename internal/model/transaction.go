// Package model defines the core domain models used throughout the application.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the review state of a transaction's categorization.
type Status string

// Review states.
const (
	StatusPendingReview Status = "pending_review"
	StatusPendingSave   Status = "pending_save"
	StatusConfirmed     Status = "confirmed"
	StatusAutoConfirmed Status = "auto_confirmed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingReview, StatusPendingSave, StatusConfirmed, StatusAutoConfirmed:
		return true
	}
	return false
}

// IsFinal reports whether the category is durable and counted in analytics.
func (s Status) IsFinal() bool {
	return s == StatusConfirmed || s == StatusAutoConfirmed
}

// Source tags where a transaction was ingested from.
type Source string

// Ingestion sources.
const (
	SourceSync    Source = "sync"
	SourceCSV     Source = "csv"
	SourceArchive Source = "archive"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceSync || s == SourceCSV || s == SourceArchive
}

// Tier records which cascade tier produced a classification.
type Tier string

// Cascade tiers.
const (
	TierNone            Tier = ""
	TierAmountRule      Tier = "amount_rule"
	TierMerchantMapping Tier = "merchant_mapping"
	TierAI              Tier = "ai"
	TierUser            Tier = "user" // Prediction carried back from a user's staged choice
)

// Errors returned by Transaction.Validate.
var (
	ErrMissingDate        = errors.New("missing date")
	ErrMissingAccount     = errors.New("missing account")
	ErrMissingDescription = errors.New("missing description")
	ErrInvalidState       = errors.New("invalid categorization state")
)

// Transaction represents one financial event.
type Transaction struct {
	Date                time.Time `json:"date"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
	CategoryID          *int64    `json:"category_id,omitempty"`           // Assigned category; only set once confirmed or auto-confirmed
	PredictedCategoryID *int64    `json:"predicted_category_id,omitempty"` // Suggestion awaiting review
	StagedCategoryID    *int64    `json:"staged_category_id,omitempty"`    // Chosen but not yet committed
	ID                  string    `json:"id"`
	DedupKey            string    `json:"dedup_key"`
	ExternalID          string    `json:"external_id,omitempty"` // Bank-sync transaction id, empty for file imports
	Description         string    `json:"description"`           // Raw description from the source
	MerchantName        string    `json:"merchant_name,omitempty"`
	AccountID           string    `json:"account_id"`
	Status              Status    `json:"status"`
	Source              Source    `json:"source"`
	Tier                Tier      `json:"tier,omitempty"`
	Amount              Cents     `json:"amount_cents"` // Positive is an outflow, negative an inflow
	Confidence          float64   `json:"confidence"`
	IsPending           bool      `json:"is_pending"` // Bank reports the transaction as not yet posted
}

// Validate checks field presence and the categorization invariants.
func (t *Transaction) Validate() error {
	if t.Date.IsZero() {
		return ErrMissingDate
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrMissingAccount
	}
	if strings.TrimSpace(t.Description) == "" {
		return ErrMissingDescription
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, t.Status)
	}
	if !t.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidState, t.Source)
	}

	switch t.Status {
	case StatusPendingReview:
		if t.CategoryID != nil || t.StagedCategoryID != nil {
			return fmt.Errorf("%w: pending_review transaction carries a category", ErrInvalidState)
		}
	case StatusPendingSave:
		if t.CategoryID != nil || t.StagedCategoryID == nil {
			return fmt.Errorf("%w: pending_save requires only a staged category", ErrInvalidState)
		}
	case StatusConfirmed, StatusAutoConfirmed:
		if t.CategoryID == nil || t.StagedCategoryID != nil {
			return fmt.Errorf("%w: %s requires an assigned category", ErrInvalidState, t.Status)
		}
	}
	return nil
}

// MatchText returns the upper-cased texts the cascade matches patterns against:
// description and merchant name as received, then their normalized forms so
// learned patterns keep matching the raw text they were derived from.
func (t *Transaction) MatchText() []string {
	var texts []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, existing := range texts {
			if existing == s {
				return
			}
		}
		texts = append(texts, s)
	}
	add(strings.ToUpper(strings.TrimSpace(t.Description)))
	add(strings.ToUpper(strings.TrimSpace(t.MerchantName)))
	add(NormalizeDescription(t.Description))
	add(NormalizeDescription(t.MerchantName))
	return texts
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

// SameID reports whether two optional ids are equal.
func SameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
