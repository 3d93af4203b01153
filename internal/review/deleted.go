package review

import (
	"context"
	"errors"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
)

// SoftDelete moves an active transaction into the deleted table.
// Its dedup key keeps blocking re-imports until it is purged.
func (m *Machine) SoftDelete(ctx context.Context, id, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = model.ReasonUser
	}
	return m.withTxn(ctx, id, func(tx service.Tx) error {
		txn, err := tx.GetTransaction(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			if _, derr := tx.GetDeleted(ctx, id); derr == nil {
				return common.Conflictf("delete", id, "transaction is already deleted")
			}
			return common.NotFound("delete", "transaction", id)
		}
		if err != nil {
			return err
		}

		if err := tx.InsertDeleted(ctx, &model.DeletedTransaction{
			Transaction: *txn,
			DeletedAt:   m.now().UTC(),
			Reason:      reason,
		}); err != nil {
			return err
		}
		ok, err := tx.DeleteTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return common.Conflictf("delete", id, "transaction changed concurrently")
		}
		m.logger.Debug("Transaction soft-deleted", "transaction_id", id, "reason", reason)
		return nil
	})
}

// Restore brings a soft-deleted transaction back with identical fields.
// It conflicts if an active transaction has since taken the same dedup key.
func (m *Machine) Restore(ctx context.Context, id string) (*model.Transaction, error) {
	var restored *model.Transaction
	err := m.withTxn(ctx, id, func(tx service.Tx) error {
		deleted, err := tx.GetDeleted(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			if _, aerr := tx.GetTransaction(ctx, id); aerr == nil {
				return common.Conflictf("restore", id, "transaction is not deleted")
			}
			return common.NotFound("restore", "deleted transaction", id)
		}
		if err != nil {
			return err
		}

		txn := deleted.Transaction
		if existing, err := tx.GetTransactionByDedupKey(ctx, txn.DedupKey); err == nil {
			return common.Conflictf("restore", id, "dedup key is now held by transaction %s", existing.ID)
		} else if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		if _, err := tx.DeleteDeleted(ctx, id); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &txn); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				return common.Conflictf("restore", id, "dedup key or id is in use")
			}
			return err
		}
		restored = &txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// Purge permanently removes a soft-deleted transaction. Active transactions
// must be deleted first.
func (m *Machine) Purge(ctx context.Context, id string) error {
	return m.withTxn(ctx, id, func(tx service.Tx) error {
		ok, err := tx.DeleteDeleted(ctx, id)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if _, err := tx.GetTransaction(ctx, id); err == nil {
			return common.Conflictf("purge", id, "transaction is active; delete it first")
		}
		return common.NotFound("purge", "deleted transaction", id)
	})
}

// PurgeAll permanently removes every soft-deleted transaction, taking a
// database backup first when backups are configured.
func (m *Machine) PurgeAll(ctx context.Context) (int64, error) {
	if m.backups != nil {
		info, err := m.backups.Backup(ctx, "purge")
		switch {
		case errors.Is(err, storage.ErrBackupUnsupported):
			m.logger.Debug("Skipping backup before purge", "reason", err)
		case err != nil:
			return 0, common.NewUserError("could not back up the database before purging", err)
		default:
			m.logger.Info("Backed up database before purge", "backup", info.ID)
		}
	}

	n, err := m.store.PurgeAllDeleted(ctx)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Purged deleted transactions", "count", n)
	return n, nil
}

// ListDeleted returns soft-deleted transactions, most recently deleted first.
func (m *Machine) ListDeleted(ctx context.Context) ([]model.DeletedTransaction, error) {
	return m.store.ListDeleted(ctx)
}
