package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

const transactionColumns = `id, dedup_key, external_id, date, amount_cents, description,
	merchant_name, account_id, category_id, predicted_category_id, staged_category_id,
	confidence, tier, status, source, is_pending, created_at, updated_at`

// InsertTransaction stores a new transaction. A dedup key or id collision
// returns common.ErrDuplicateEntry.
func (s queries) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	return s.insertTransactionInto(ctx, "transactions", txn, nil)
}

func (s queries) insertTransactionInto(ctx context.Context, table string, txn *model.Transaction, extra *model.DeletedTransaction) error {
	now := time.Now().UTC()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	if txn.UpdatedAt.IsZero() {
		txn.UpdatedAt = now
	}

	args := []any{
		txn.ID, txn.DedupKey, txn.ExternalID, txn.Date.UTC(), int64(txn.Amount), txn.Description,
		txn.MerchantName, txn.AccountID, nullID(txn.CategoryID), nullID(txn.PredictedCategoryID),
		nullID(txn.StagedCategoryID), txn.Confidence, string(txn.Tier), string(txn.Status),
		string(txn.Source), txn.IsPending, txn.CreatedAt.UTC(), txn.UpdatedAt.UTC(),
	}
	columns := transactionColumns
	marks := placeholders(len(args))
	if extra != nil {
		columns += ", deleted_at, reason"
		marks += ", ?, ?"
		args = append(args, extra.DeletedAt.UTC(), extra.Reason)
	}

	// #nosec G201 - table and column names are constants
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, columns, marks)
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dedup key %s", common.ErrDuplicateEntry, txn.DedupKey)
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves an active transaction by id.
func (s queries) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get transaction", "transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetTransactionByDedupKey retrieves an active transaction by its dedup key.
func (s queries) GetTransactionByDedupKey(ctx context.Context, key string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE dedup_key = ?`, key)
	txn, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get transaction", "transaction", key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// ListTransactions returns active transactions matching filter.
func (s queries) ListTransactions(ctx context.Context, filter service.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, ErrInvalidDateRange
	}

	statuses := filter.Statuses
	if statuses == nil {
		statuses = service.FinalStatuses
	}

	var (
		where []string
		args  []any
	)
	if len(statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(statuses))+")")
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.StartDate != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		where = append(where, "date < ?")
		args = append(args, filter.EndDate.UTC())
	}
	if filter.Amount != nil {
		where = append(where, "amount_cents = ?")
		args = append(args, int64(*filter.Amount))
	}
	if filter.WithoutPrediction {
		where = append(where, "predicted_category_id IS NULL")
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if filter.NewestFirst {
		query += " ORDER BY date DESC, created_at DESC, id DESC"
	} else {
		query += " ORDER BY date ASC, id ASC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// UpdateTransactionState writes the categorization fields of txn if the
// stored status is still one of from.
func (s queries) UpdateTransactionState(ctx context.Context, txn *model.Transaction, from ...model.Status) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateTransaction(txn); err != nil {
		return false, err
	}
	if len(from) == 0 {
		return false, fmt.Errorf("%w: expected statuses", ErrNilParameter)
	}

	txn.UpdatedAt = time.Now().UTC()
	args := []any{
		nullID(txn.CategoryID), nullID(txn.PredictedCategoryID), nullID(txn.StagedCategoryID),
		string(txn.Status), string(txn.Tier), txn.Confidence, txn.UpdatedAt, txn.ID,
	}
	for _, st := range from {
		args = append(args, string(st))
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET category_id = ?, predicted_category_id = ?, staged_category_id = ?,
		    status = ?, tier = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// UpdateTransactionDetails rewrites the upstream-owned fields of a transaction.
// Category and status are left alone.
func (s queries) UpdateTransactionDetails(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}

	txn.UpdatedAt = time.Now().UTC()
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET dedup_key = ?, external_id = ?, date = ?, amount_cents = ?, description = ?,
		    merchant_name = ?, is_pending = ?, updated_at = ?
		WHERE id = ?
	`, txn.DedupKey, txn.ExternalID, txn.Date.UTC(), int64(txn.Amount), txn.Description,
		txn.MerchantName, txn.IsPending, txn.UpdatedAt, txn.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: dedup key %s", common.ErrDuplicateEntry, txn.DedupKey)
		}
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NotFound("update transaction", "transaction", txn.ID)
	}
	return nil
}

// DeleteTransaction removes an active row. It reports whether a row existed.
func (s queries) DeleteTransaction(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// ClearPredictions drops predictions from every pending_review transaction.
func (s queries) ClearPredictions(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE transactions
		SET predicted_category_id = NULL, tier = '', confidence = 0, updated_at = ?
		WHERE status = ? AND predicted_category_id IS NOT NULL
	`, time.Now().UTC(), string(model.StatusPendingReview))
	if err != nil {
		return 0, fmt.Errorf("failed to clear predictions: %w", err)
	}
	return res.RowsAffected()
}

// DedupKeyExists reports whether an active or soft-deleted row holds key.
func (s queries) DedupKeyExists(ctx context.Context, key string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE dedup_key = ?)
		    OR EXISTS (SELECT 1 FROM deleted_transactions WHERE dedup_key = ?)
	`, key, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check dedup key: %w", err)
	}
	return exists, nil
}

// NearbyDescriptions returns descriptions of active and soft-deleted rows on
// an account with the same amount inside [start, end].
func (s queries) NearbyDescriptions(ctx context.Context, accountID string, amount model.Cents, start, end time.Time) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT description FROM transactions
		WHERE account_id = ? AND amount_cents = ? AND date >= ? AND date <= ?
		UNION ALL
		SELECT description FROM deleted_transactions
		WHERE account_id = ? AND amount_cents = ? AND date >= ? AND date <= ?
	`, accountID, int64(amount), start.UTC(), end.UTC(), accountID, int64(amount), start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan description: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner, extra ...any) (*model.Transaction, error) {
	var (
		txn                         model.Transaction
		amount                      int64
		category, predicted, staged sql.NullInt64
		tier, status, source        string
	)
	dest := []any{
		&txn.ID, &txn.DedupKey, &txn.ExternalID, &txn.Date, &amount, &txn.Description,
		&txn.MerchantName, &txn.AccountID, &category, &predicted, &staged,
		&txn.Confidence, &tier, &status, &source, &txn.IsPending, &txn.CreatedAt, &txn.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	txn.Amount = model.Cents(amount)
	txn.CategoryID = idPtr(category)
	txn.PredictedCategoryID = idPtr(predicted)
	txn.StagedCategoryID = idPtr(staged)
	txn.Tier = model.Tier(tier)
	txn.Status = model.Status(status)
	txn.Source = model.Source(source)
	return &txn, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
