package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// CreateAmountRule inserts an amount rule and sets its ID.
func (s queries) CreateAmountRule(ctx context.Context, rule *model.AmountRule) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRule(rule); err != nil {
		return err
	}

	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO amount_rules (pattern, amount_cents, category_id, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rule.Pattern, int64(rule.Amount), rule.CategoryID, rule.Notes, rule.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: rule %q at %s", common.ErrDuplicateEntry, rule.Pattern, rule.Amount)
		}
		return fmt.Errorf("failed to create amount rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get rule id: %w", err)
	}
	rule.ID = id
	return nil
}

// ListAmountRules returns all amount rules ordered by id.
func (s queries) ListAmountRules(ctx context.Context) ([]model.AmountRule, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, pattern, amount_cents, category_id, notes, created_at
		FROM amount_rules ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query amount rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rules []model.AmountRule
	for rows.Next() {
		var (
			rule   model.AmountRule
			amount int64
		)
		if err := rows.Scan(&rule.ID, &rule.Pattern, &amount, &rule.CategoryID, &rule.Notes, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan amount rule: %w", err)
		}
		rule.Amount = model.Cents(amount)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// DeleteAmountRule removes an amount rule.
func (s queries) DeleteAmountRule(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM amount_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete amount rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("delete amount rule", "amount rule", strconv.FormatInt(id, 10))
	}
	return nil
}

const mappingColumns = `id, pattern, category_id, confidence, created_at, updated_at`

// GetMappingByPattern retrieves the mapping for an exact pattern.
func (s queries) GetMappingByPattern(ctx context.Context, pattern string) (*model.MerchantMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(pattern, "pattern"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM merchant_mappings WHERE pattern = ?`, pattern)
	mapping, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get mapping", "merchant mapping", pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant mapping: %w", err)
	}
	return mapping, nil
}

// ListMappings returns all merchant mappings ordered by id.
func (s queries) ListMappings(ctx context.Context) ([]model.MerchantMapping, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `SELECT `+mappingColumns+` FROM merchant_mappings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []model.MerchantMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan merchant mapping: %w", err)
		}
		mappings = append(mappings, *mapping)
	}
	return mappings, rows.Err()
}

// CreateMapping inserts a mapping and sets its ID and timestamps.
func (s queries) CreateMapping(ctx context.Context, mapping *model.MerchantMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}

	now := time.Now().UTC()
	mapping.CreatedAt = now
	mapping.UpdatedAt = now
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO merchant_mappings (pattern, category_id, confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, mapping.Pattern, mapping.CategoryID, mapping.Confidence, mapping.CreatedAt, mapping.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: mapping %q", common.ErrDuplicateEntry, mapping.Pattern)
		}
		return fmt.Errorf("failed to create merchant mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get mapping id: %w", err)
	}
	mapping.ID = id
	return nil
}

// UpdateMapping rewrites a mapping's category and confidence.
func (s queries) UpdateMapping(ctx context.Context, mapping *model.MerchantMapping) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMapping(mapping); err != nil {
		return err
	}

	mapping.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE merchant_mappings SET category_id = ?, confidence = ?, updated_at = ?
		WHERE id = ?
	`, mapping.CategoryID, mapping.Confidence, mapping.UpdatedAt, mapping.ID)
	if err != nil {
		return fmt.Errorf("failed to update merchant mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("update mapping", "merchant mapping", strconv.FormatInt(mapping.ID, 10))
	}
	return nil
}

// DeleteMapping removes a merchant mapping.
func (s queries) DeleteMapping(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM merchant_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete merchant mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("delete mapping", "merchant mapping", strconv.FormatInt(id, 10))
	}
	return nil
}

func scanMapping(row rowScanner) (*model.MerchantMapping, error) {
	var mapping model.MerchantMapping
	if err := row.Scan(&mapping.ID, &mapping.Pattern, &mapping.CategoryID, &mapping.Confidence,
		&mapping.CreatedAt, &mapping.UpdatedAt); err != nil {
		return nil, err
	}
	return &mapping, nil
}
