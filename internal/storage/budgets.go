package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// SetBudget creates or replaces the budget for a category and month.
func (s queries) SetBudget(ctx context.Context, budget *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(budget); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO budgets (category_id, month, amount_cents) VALUES (?, ?, ?)
		ON CONFLICT(category_id, month) DO UPDATE SET amount_cents = excluded.amount_cents
	`, budget.CategoryID, budget.Month, int64(budget.Amount))
	if err != nil {
		return fmt.Errorf("failed to set budget: %w", err)
	}

	return s.q.QueryRowContext(ctx, `SELECT id FROM budgets WHERE category_id = ? AND month = ?`,
		budget.CategoryID, budget.Month).Scan(&budget.ID)
}

// ListBudgets returns budgets for a month, or all budgets when month is empty.
func (s queries) ListBudgets(ctx context.Context, month string) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, category_id, month, amount_cents FROM budgets`
	var args []any
	if month != "" {
		query += ` WHERE month = ?`
		args = append(args, month)
	}
	query += ` ORDER BY month, category_id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query budgets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var budgets []model.Budget
	for rows.Next() {
		var (
			b      model.Budget
			amount int64
		)
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.Month, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		b.Amount = model.Cents(amount)
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// GetSyncCursor returns the stored cursor for an account, or "" if none.
func (s queries) GetSyncCursor(ctx context.Context, accountID string) (string, error) {
	if err := validateContext(ctx); err != nil {
		return "", err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return "", err
	}

	var cursor string
	err := s.q.QueryRowContext(ctx, `SELECT cursor FROM sync_cursors WHERE account_id = ?`, accountID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get sync cursor: %w", err)
	}
	return cursor, nil
}

// SaveSyncCursor stores the cursor for an account.
func (s queries) SaveSyncCursor(ctx context.Context, accountID, cursor string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO sync_cursors (account_id, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at
	`, accountID, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save sync cursor: %w", err)
	}
	return nil
}

// DeleteSyncCursor forgets the cursor for an account so the next sync starts
// from full history. Deleting a missing cursor is not an error.
func (s queries) DeleteSyncCursor(ctx context.Context, accountID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(accountID, "accountID"); err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx, `DELETE FROM sync_cursors WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete sync cursor: %w", err)
	}
	return nil
}

// SpendingByCategory totals confirmed and auto-confirmed transactions in
// [start, end) per category, largest first.
func (s queries) SpendingByCategory(ctx context.Context, start, end time.Time) ([]model.CategorySpending, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.name, SUM(t.amount_cents), COUNT(*)
		FROM transactions t
		JOIN categories c ON c.id = t.category_id
		WHERE t.status IN (?, ?) AND t.date >= ? AND t.date < ?
		GROUP BY c.id, c.name
		ORDER BY SUM(t.amount_cents) DESC, c.name
	`, string(model.StatusConfirmed), string(model.StatusAutoConfirmed), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query spending: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CategorySpending
	for rows.Next() {
		var (
			row   model.CategorySpending
			total int64
		)
		if err := rows.Scan(&row.CategoryID, &row.CategoryName, &total, &row.Count); err != nil {
			return nil, fmt.Errorf("failed to scan spending row: %w", err)
		}
		row.Total = model.Cents(total)
		out = append(out, row)
	}
	return out, rows.Err()
}
