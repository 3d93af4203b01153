package taxonomy

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
)

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// AddRule creates an exact-amount override. Rules are consulted before
// merchant mappings, so they change classification of future transactions only.
func (s *Service) AddRule(ctx context.Context, rule model.AmountRule) (*model.AmountRule, error) {
	rule.Pattern = strings.TrimSpace(rule.Pattern)
	if rule.Pattern == "" {
		return nil, common.Validationf("add rule", "", "pattern is required")
	}

	release := s.guard.Write()
	defer release()

	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		if _, err := getCategory(ctx, tx, "add rule", rule.CategoryID); err != nil {
			return err
		}
		return tx.CreateAmountRule(ctx, &rule)
	})
	if err != nil {
		return nil, translate("add rule", rule.Pattern, err)
	}
	s.logger.Info("Added amount rule", "pattern", rule.Pattern, "amount", rule.Amount, "category_id", rule.CategoryID)
	return &rule, nil
}

// Rules lists amount rules.
func (s *Service) Rules(ctx context.Context) ([]model.AmountRule, error) {
	return s.store.ListAmountRules(ctx)
}

// DeleteRule removes an amount rule.
func (s *Service) DeleteRule(ctx context.Context, id int64) error {
	release := s.guard.Write()
	defer release()
	return s.store.DeleteAmountRule(ctx, id)
}

// Mappings lists learned merchant mappings.
func (s *Service) Mappings(ctx context.Context) ([]model.MerchantMapping, error) {
	return s.store.ListMappings(ctx)
}

// DeleteMapping forgets a learned mapping. The next confirmation of a
// matching merchant starts over at confidence 1.
func (s *Service) DeleteMapping(ctx context.Context, id int64) error {
	release := s.guard.Write()
	defer release()
	return s.store.DeleteMapping(ctx, id)
}

// SetBudget creates or replaces a monthly budget.
func (s *Service) SetBudget(ctx context.Context, b model.Budget) (*model.Budget, error) {
	if !monthRe.MatchString(b.Month) {
		return nil, common.Validationf("set budget", b.Month, "month must look like 2006-01")
	}
	if b.Amount < 0 {
		return nil, common.Validationf("set budget", b.Month, "amount cannot be negative")
	}

	release := s.guard.Write()
	defer release()

	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		if _, err := getCategory(ctx, tx, "set budget", b.CategoryID); err != nil {
			return err
		}
		return tx.SetBudget(ctx, &b)
	})
	if err != nil {
		return nil, translate("set budget", b.Month, err)
	}
	return &b, nil
}

// Budgets lists budgets for a month, or all months when month is empty.
func (s *Service) Budgets(ctx context.Context, month string) ([]model.Budget, error) {
	return s.store.ListBudgets(ctx, month)
}

// Spending totals final transactions per category in [start, end).
func (s *Service) Spending(ctx context.Context, start, end time.Time) ([]model.CategorySpending, error) {
	if !end.After(start) {
		return nil, common.Validationf("spending", "", "end must be after start")
	}
	return s.store.SpendingByCategory(ctx, start, end)
}

// translate maps storage sentinels onto the shared error taxonomy.
func translate(op, id string, err error) error {
	switch {
	case errors.Is(err, common.ErrDuplicateEntry):
		return common.Conflictf(op, id, "already exists")
	case errors.Is(err, storage.ErrInvalidRule),
		errors.Is(err, storage.ErrInvalidBudget),
		errors.Is(err, storage.ErrInvalidCategory):
		return &common.ValidationError{Op: op, ID: id, Err: err}
	}
	return err
}
