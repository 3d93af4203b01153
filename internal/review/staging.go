package review

import (
	"context"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Stage records the user's chosen category without committing it.
// Valid from pending_review and pending_save; staging again replaces the choice.
func (m *Machine) Stage(ctx context.Context, id string, categoryID int64) error {
	release := m.guard.Read()
	defer release()

	return m.stage(ctx, id, func(*model.Transaction) (int64, error) { return categoryID, nil })
}

// BulkStage stages every id. A nil categoryID stages each transaction's own prediction.
func (m *Machine) BulkStage(ctx context.Context, ids []string, categoryID *int64) service.BatchResult {
	release := m.guard.Read()
	defer release()

	choose := func(txn *model.Transaction) (int64, error) {
		if categoryID != nil {
			return *categoryID, nil
		}
		if txn.PredictedCategoryID == nil {
			return 0, common.Validationf("stage", txn.ID, "transaction has no prediction to accept")
		}
		return *txn.PredictedCategoryID, nil
	}

	var result service.BatchResult
	for _, id := range ids {
		result.Add(id, service.ItemOK, m.stage(ctx, id, choose))
	}
	return result
}

func (m *Machine) stage(ctx context.Context, id string, choose func(*model.Transaction) (int64, error)) error {
	return m.withTxn(ctx, id, func(tx service.Tx) error {
		txn, err := loadActive(ctx, tx, "stage", id)
		if err != nil {
			return err
		}
		if !statusIn(txn.Status, model.StatusPendingReview, model.StatusPendingSave) {
			return common.Conflictf("stage", id, "cannot stage a %s transaction", txn.Status)
		}
		categoryID, err := choose(txn)
		if err != nil {
			return err
		}
		if err := requireCategory(ctx, tx, "stage", categoryID); err != nil {
			return err
		}

		txn.StagedCategoryID = model.Int64Ptr(categoryID)
		txn.CategoryID = nil
		txn.Status = model.StatusPendingSave
		return casUpdate(ctx, tx, "stage", txn, model.StatusPendingReview, model.StatusPendingSave)
	})
}

// Unstage kicks a staged transaction back to pending_review. The staged
// category becomes the prediction when there was none, marked as the user's.
func (m *Machine) Unstage(ctx context.Context, id string) error {
	return m.withTxn(ctx, id, func(tx service.Tx) error {
		txn, err := loadActive(ctx, tx, "unstage", id)
		if err != nil {
			return err
		}
		if txn.Status != model.StatusPendingSave {
			return common.Conflictf("unstage", id, "transaction is %s, not staged", txn.Status)
		}
		if txn.PredictedCategoryID == nil {
			txn.PredictedCategoryID = txn.StagedCategoryID
			txn.Tier = model.TierUser
			txn.Confidence = 1.0
		}
		txn.StagedCategoryID = nil
		txn.Status = model.StatusPendingReview
		return casUpdate(ctx, tx, "unstage", txn, model.StatusPendingSave)
	})
}

// RevertAllStaged unstages every pending_save transaction and returns how many moved.
func (m *Machine) RevertAllStaged(ctx context.Context) (int, error) {
	staged, err := m.ListStaged(ctx, 0)
	if err != nil {
		return 0, err
	}
	reverted := 0
	for _, txn := range staged {
		if err := m.Unstage(ctx, txn.ID); err != nil {
			if common.IsKind(err, common.ErrConflict, common.ErrNotFound) {
				continue
			}
			return reverted, err
		}
		reverted++
	}
	return reverted, nil
}

// CommitStaged confirms each staged transaction with its staged category.
// With no ids, every staged transaction is committed. Each id commits or
// fails on its own; successful siblings are never rolled back.
func (m *Machine) CommitStaged(ctx context.Context, ids []string) (service.BatchResult, error) {
	release := m.guard.Read()
	defer release()

	if len(ids) == 0 {
		staged, err := m.ListStaged(ctx, 0)
		if err != nil {
			return service.BatchResult{}, err
		}
		for _, txn := range staged {
			ids = append(ids, txn.ID)
		}
	}

	var result service.BatchResult
	for _, id := range ids {
		err := m.withTxn(ctx, id, func(tx service.Tx) error {
			txn, err := loadActive(ctx, tx, "commit", id)
			if err != nil {
				return err
			}
			if txn.Status != model.StatusPendingSave || txn.StagedCategoryID == nil {
				return common.Conflictf("commit", id, "transaction is %s, not staged", txn.Status)
			}
			return m.confirm(ctx, tx, txn, *txn.StagedCategoryID, model.StatusPendingSave)
		})
		if err != nil {
			m.logger.Warn("Commit failed", "transaction_id", id, "error", err)
		}
		result.Add(id, service.ItemOK, err)
	}

	m.logger.Info("Committed staged transactions",
		"succeeded", len(result.Succeeded()),
		"failed", len(result.Failed()))
	return result, nil
}

// ConfirmDirect assigns a category and confirms in one step. It also
// re-categorizes confirmed and auto-confirmed transactions; confirming a
// confirmed transaction with its current category changes nothing.
func (m *Machine) ConfirmDirect(ctx context.Context, id string, categoryID int64) (*model.Transaction, error) {
	release := m.guard.Read()
	defer release()

	var out *model.Transaction
	err := m.withTxn(ctx, id, func(tx service.Tx) error {
		txn, err := loadActive(ctx, tx, "confirm", id)
		if err != nil {
			return err
		}
		if txn.Status == model.StatusConfirmed && txn.CategoryID != nil && *txn.CategoryID == categoryID {
			out = txn
			return nil
		}
		if err := m.confirm(ctx, tx, txn, categoryID, txn.Status); err != nil {
			return err
		}
		out = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// confirm writes the final category and feeds the learning store, inside tx.
func (m *Machine) confirm(ctx context.Context, tx service.Tx, txn *model.Transaction, categoryID int64, from model.Status) error {
	if err := requireCategory(ctx, tx, "confirm", categoryID); err != nil {
		return err
	}

	txn.CategoryID = model.Int64Ptr(categoryID)
	txn.StagedCategoryID = nil
	txn.Status = model.StatusConfirmed
	if err := casUpdate(ctx, tx, "confirm", txn, from); err != nil {
		return err
	}

	outcome, err := m.learner.RecordConfirmation(ctx, tx, txn, categoryID)
	if err != nil {
		if common.IsKind(err, common.ErrValidation) {
			// Nothing usable to learn from; the confirmation still stands.
			m.logger.Debug("Skipped learning", "transaction_id", txn.ID, "error", err)
			return nil
		}
		return err
	}
	m.logger.Debug("Transaction confirmed",
		"transaction_id", txn.ID,
		"category_id", categoryID,
		"learning", outcome.String())
	return nil
}

// Action is a bulk operation kind.
type Action string

// Bulk actions.
const (
	ActionConfirm Action = "confirm"
	ActionDelete  Action = "delete"
)

// BulkRequest applies one action to many transactions.
type BulkRequest struct {
	CategoryID *int64   `json:"category_id,omitempty"`
	Action     Action   `json:"action"`
	IDs        []string `json:"ids"`
}

// Bulk runs req.Action for every id and reports each outcome.
func (m *Machine) Bulk(ctx context.Context, req BulkRequest) (service.BatchResult, error) {
	switch req.Action {
	case ActionConfirm:
		if req.CategoryID == nil {
			return service.BatchResult{}, common.Validationf("bulk", "", "confirm requires a category")
		}
		var result service.BatchResult
		for _, id := range req.IDs {
			_, err := m.ConfirmDirect(ctx, id, *req.CategoryID)
			result.Add(id, service.ItemOK, err)
		}
		return result, nil
	case ActionDelete:
		var result service.BatchResult
		for _, id := range req.IDs {
			result.Add(id, service.ItemOK, m.SoftDelete(ctx, id, model.ReasonUser))
		}
		return result, nil
	}
	return service.BatchResult{}, common.Validationf("bulk", "", "unknown action %q", req.Action)
}
