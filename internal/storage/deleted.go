package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
)

// InsertDeleted stores a soft-delete snapshot.
func (s queries) InsertDeleted(ctx context.Context, deleted *model.DeletedTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if deleted == nil {
		return fmt.Errorf("%w: deleted transaction", ErrNilParameter)
	}
	if deleted.DeletedAt.IsZero() {
		return fmt.Errorf("%w: missing deletion time", ErrInvalidTransaction)
	}
	txn := deleted.Transaction
	if err := validateTransaction(&txn); err != nil {
		return err
	}
	return s.insertTransactionInto(ctx, "deleted_transactions", &txn, deleted)
}

// GetDeleted retrieves a soft-delete snapshot by transaction id.
func (s queries) GetDeleted(ctx context.Context, id string) (*model.DeletedTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`, deleted_at, reason
		FROM deleted_transactions WHERE id = ?
	`, id)
	deleted, err := scanDeleted(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NotFound("get deleted transaction", "deleted transaction", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deleted transaction: %w", err)
	}
	return deleted, nil
}

// ListDeleted returns all soft-deleted transactions, most recently deleted first.
func (s queries) ListDeleted(ctx context.Context) ([]model.DeletedTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT `+transactionColumns+`, deleted_at, reason
		FROM deleted_transactions
		ORDER BY deleted_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query deleted transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DeletedTransaction
	for rows.Next() {
		deleted, err := scanDeleted(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deleted transaction: %w", err)
		}
		out = append(out, *deleted)
	}
	return out, rows.Err()
}

// DeleteDeleted removes one snapshot. It reports whether a snapshot existed.
func (s queries) DeleteDeleted(ctx context.Context, id string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM deleted_transactions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove deleted transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// PurgeAllDeleted removes every snapshot and returns how many went.
func (s queries) PurgeAllDeleted(ctx context.Context) (int64, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	res, err := s.q.ExecContext(ctx, `DELETE FROM deleted_transactions`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deleted transactions: %w", err)
	}
	return res.RowsAffected()
}

func scanDeleted(row rowScanner) (*model.DeletedTransaction, error) {
	var deleted model.DeletedTransaction
	txn, err := scanTransaction(row, &deleted.DeletedAt, &deleted.Reason)
	if err != nil {
		return nil, err
	}
	deleted.Transaction = *txn
	return &deleted, nil
}
