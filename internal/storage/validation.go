package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/Veraticus/tally/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidMapping     = errors.New("invalid merchant mapping")
	ErrInvalidRule        = errors.New("invalid amount rule")
	ErrInvalidBudget      = errors.New("invalid budget")
)

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.DedupKey == "" {
		return fmt.Errorf("%w: missing dedup key", ErrInvalidTransaction)
	}
	if err := txn.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}
	return nil
}

func validateCategory(category *model.Category) error {
	if category == nil {
		return fmt.Errorf("%w: category", ErrNilParameter)
	}
	if strings.TrimSpace(category.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCategory)
	}
	if category.ParentID != nil && *category.ParentID == category.ID && category.ID != 0 {
		return fmt.Errorf("%w: category cannot be its own parent", ErrInvalidCategory)
	}
	return nil
}

func validateMapping(mapping *model.MerchantMapping) error {
	if mapping == nil {
		return fmt.Errorf("%w: mapping", ErrNilParameter)
	}
	if strings.TrimSpace(mapping.Pattern) == "" {
		return fmt.Errorf("%w: missing pattern", ErrInvalidMapping)
	}
	if mapping.CategoryID == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidMapping)
	}
	if mapping.Confidence < 1 {
		return fmt.Errorf("%w: confidence must be at least 1", ErrInvalidMapping)
	}
	return nil
}

func validateRule(rule *model.AmountRule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule", ErrNilParameter)
	}
	if strings.TrimSpace(rule.Pattern) == "" {
		return fmt.Errorf("%w: missing pattern", ErrInvalidRule)
	}
	if rule.CategoryID == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidRule)
	}
	return nil
}

func validateBudget(budget *model.Budget) error {
	if budget == nil {
		return fmt.Errorf("%w: budget", ErrNilParameter)
	}
	if !monthRe.MatchString(budget.Month) {
		return fmt.Errorf("%w: month %q must look like 2006-01", ErrInvalidBudget, budget.Month)
	}
	if budget.CategoryID == 0 {
		return fmt.Errorf("%w: missing category", ErrInvalidBudget)
	}
	return nil
}
