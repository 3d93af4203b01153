// Package review moves persisted transactions through the review workflow:
// stage, commit, direct confirmation, bulk edits and the soft-delete lifecycle.
//
// Every per-transaction operation holds the transaction's keyed lock, runs in
// its own storage transaction and guards its write with a status
// compare-and-set, so a concurrent change surfaces as a ConflictError rather
// than a lost update.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/learning"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
)

// Backupper snapshots the database before irreversible operations.
type Backupper interface {
	Backup(ctx context.Context, reason string) (*storage.BackupInfo, error)
}

// Machine is the review state machine.
type Machine struct {
	store   service.Storage
	learner *learning.Store
	guard   *common.TaxonomyGuard
	locks   *common.KeyedMutex
	backups Backupper
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Machine.
type Option func(*Machine)

// WithGuard shares the taxonomy guard with the category service.
func WithGuard(g *common.TaxonomyGuard) Option {
	return func(m *Machine) { m.guard = g }
}

// WithLocks shares per-transaction locks with other writers such as the cascade.
func WithLocks(l *common.KeyedMutex) Option {
	return func(m *Machine) { m.locks = l }
}

// WithBackups enables a database backup before PurgeAll.
func WithBackups(b Backupper) Option {
	return func(m *Machine) { m.backups = b }
}

// WithClock overrides the time source used for deletion timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New creates a review machine.
func New(store service.Storage, learner *learning.Store, opts ...Option) *Machine {
	m := &Machine{
		store:   store,
		learner: learner,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.learner == nil {
		m.learner = learning.New(0)
	}
	if m.guard == nil {
		m.guard = &common.TaxonomyGuard{}
	}
	if m.locks == nil {
		m.locks = common.NewKeyedMutex()
	}
	if m.logger == nil {
		m.logger = common.Component("review")
	}
	return m
}

// withTxn serializes on id and runs fn in a storage transaction.
func (m *Machine) withTxn(ctx context.Context, id string, fn func(tx service.Tx) error) error {
	unlock := m.locks.Lock(id)
	defer unlock()
	return service.RunInTx(ctx, m.store, fn)
}

// loadActive fetches an active transaction. A soft-deleted id is a conflict,
// since the caller raced a delete; an unknown id is not found.
func loadActive(ctx context.Context, q service.Queries, op, id string) (*model.Transaction, error) {
	txn, err := q.GetTransaction(ctx, id)
	if err == nil {
		return txn, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if _, derr := q.GetDeleted(ctx, id); derr == nil {
		return nil, common.Conflictf(op, id, "transaction was deleted")
	} else if !errors.Is(derr, common.ErrNotFound) {
		return nil, derr
	}
	return nil, common.NotFound(op, "transaction", id)
}

func requireCategory(ctx context.Context, q service.Queries, op string, categoryID int64) error {
	if categoryID == 0 {
		return common.Validationf(op, "", "category is required")
	}
	if _, err := q.GetCategory(ctx, categoryID); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.NotFound(op, "category", fmt.Sprint(categoryID))
		}
		return err
	}
	return nil
}

// casUpdate writes txn's categorization fields if its status is still one of from.
func casUpdate(ctx context.Context, q service.Queries, op string, txn *model.Transaction, from ...model.Status) error {
	ok, err := q.UpdateTransactionState(ctx, txn, from...)
	if err != nil {
		return err
	}
	if !ok {
		return common.Conflictf(op, txn.ID, "transaction changed concurrently")
	}
	return nil
}

func statusIn(s model.Status, allowed ...model.Status) bool {
	for _, a := range allowed {
		if s == a {
			return true
		}
	}
	return false
}

// Lifecycle reports whether id is active, soft-deleted or gone.
// Ids that never existed are indistinguishable from purged ones.
func (m *Machine) Lifecycle(ctx context.Context, id string) (model.Lifecycle, error) {
	txn, err := m.store.GetTransaction(ctx, id)
	if err == nil {
		return model.ActiveLifecycle(*txn), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return model.Lifecycle{}, err
	}
	deleted, err := m.store.GetDeleted(ctx, id)
	if err == nil {
		return model.DeletedLifecycle(*deleted), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return model.Lifecycle{}, err
	}
	return model.PurgedLifecycle(), nil
}

// ListPending returns transactions awaiting review, oldest first.
func (m *Machine) ListPending(ctx context.Context, limit int) ([]model.Transaction, error) {
	return m.store.ListTransactions(ctx, service.TransactionFilter{
		Statuses: []model.Status{model.StatusPendingReview},
		Limit:    limit,
	})
}

// ListStaged returns transactions staged for commit, oldest first.
func (m *Machine) ListStaged(ctx context.Context, limit int) ([]model.Transaction, error) {
	return m.store.ListTransactions(ctx, service.TransactionFilter{
		Statuses: []model.Status{model.StatusPendingSave},
		Limit:    limit,
	})
}
