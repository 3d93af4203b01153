package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

const categoryColumns = `id, name, display_name, parent_id, color, is_income, is_recurring, created_at`

// categoryReferenceColumns lists every column that may hold a category id.
var categoryReferenceColumns = []struct{ table, column string }{
	{"transactions", "category_id"},
	{"transactions", "predicted_category_id"},
	{"transactions", "staged_category_id"},
	{"deleted_transactions", "category_id"},
	{"deleted_transactions", "predicted_category_id"},
	{"deleted_transactions", "staged_category_id"},
	{"amount_rules", "category_id"},
	{"merchant_mappings", "category_id"},
	{"budgets", "category_id"},
}

// CreateCategory inserts a category and sets its ID.
func (s queries) CreateCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCategory(category); err != nil {
		return err
	}

	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO categories (name, display_name, parent_id, color, is_income, is_recurring, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, category.Name, category.DisplayName, nullID(category.ParentID), category.Color,
		category.IsIncome, category.IsRecurring, category.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, category.Name)
		}
		return fmt.Errorf("failed to create category: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get category id: %w", err)
	}
	category.ID = id

	slog.Debug("created category", "name", category.Name, "category_id", id)
	return nil
}

// GetCategory returns a category by id.
func (s queries) GetCategory(ctx context.Context, id int64) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get category", "category", strconv.FormatInt(id, 10))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return category, nil
}

// GetCategoryByName returns a category by its short name.
func (s queries) GetCategoryByName(ctx context.Context, name string) (*model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(name, "name"); err != nil {
		return nil, err
	}
	row := s.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE name = ?`, name)
	category, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get category", "category", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return category, nil
}

// ListCategories returns all categories, parents before children, by name.
func (s queries) ListCategories(ctx context.Context) ([]model.Category, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+categoryColumns+` FROM categories
		ORDER BY parent_id IS NOT NULL, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []model.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, *category)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}
	return categories, nil
}

// UpdateCategory rewrites a category's name, display fields and parent.
func (s queries) UpdateCategory(ctx context.Context, category *model.Category) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCategory(category); err != nil {
		return err
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE categories
		SET name = ?, display_name = ?, parent_id = ?, color = ?, is_income = ?, is_recurring = ?
		WHERE id = ?
	`, category.Name, category.DisplayName, nullID(category.ParentID), category.Color,
		category.IsIncome, category.IsRecurring, category.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: category %q", common.ErrDuplicateEntry, category.Name)
		}
		return fmt.Errorf("failed to update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("update category", "category", strconv.FormatInt(category.ID, 10))
	}
	return nil
}

// DeleteCategory removes a category row. Callers check references first.
func (s queries) DeleteCategory(ctx context.Context, id int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("delete category", "category", strconv.FormatInt(id, 10))
	}
	return nil
}

// CountCategoryReferences counts rows in every table that point at id.
func (s queries) CountCategoryReferences(ctx context.Context, id int64) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	total := 0
	for _, ref := range categoryReferenceColumns {
		var n int
		// #nosec G201 - table and column names come from a fixed list
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", ref.table, ref.column)
		if err := s.q.QueryRowContext(ctx, query, id).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count %s.%s references: %w", ref.table, ref.column, err)
		}
		total += n
	}
	return total, nil
}

// ReassignCategory points every reference to fromID at toID. Budgets that
// already exist for toID in the same month absorb the moved amount.
func (s queries) ReassignCategory(ctx context.Context, fromID, toID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	statements := []struct {
		query string
		args  []any
	}{
		{
			query: `UPDATE budgets
				SET amount_cents = amount_cents + (
					SELECT b.amount_cents FROM budgets b WHERE b.category_id = ? AND b.month = budgets.month)
				WHERE category_id = ? AND month IN (SELECT month FROM budgets WHERE category_id = ?)`,
			args: []any{fromID, toID, fromID},
		},
		{
			query: `DELETE FROM budgets
				WHERE category_id = ? AND month IN (SELECT month FROM budgets WHERE category_id = ?)`,
			args: []any{fromID, toID},
		},
	}
	for _, ref := range categoryReferenceColumns {
		statements = append(statements, struct {
			query string
			args  []any
		}{
			// #nosec G201 - table and column names come from a fixed list
			query: fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", ref.table, ref.column, ref.column),
			args:  []any{toID, fromID},
		})
	}

	for _, st := range statements {
		if _, err := s.q.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("failed to reassign category %d to %d: %w", fromID, toID, err)
		}
	}
	return nil
}

// ReparentChildren moves every child of fromID under toID.
func (s queries) ReparentChildren(ctx context.Context, fromID, toID int64) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx, `UPDATE categories SET parent_id = ? WHERE parent_id = ?`, toID, fromID); err != nil {
		return fmt.Errorf("failed to reparent children of %d: %w", fromID, err)
	}
	return nil
}

func scanCategory(row rowScanner) (*model.Category, error) {
	var (
		category model.Category
		parent   sql.NullInt64
	)
	if err := row.Scan(&category.ID, &category.Name, &category.DisplayName, &parent, &category.Color,
		&category.IsIncome, &category.IsRecurring, &category.CreatedAt); err != nil {
		return nil, err
	}
	category.ParentID = idPtr(parent)
	return &category, nil
}
