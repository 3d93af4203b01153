// Package service defines the persistence contracts and shared result types.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
// A nil Statuses slice means confirmed and auto-confirmed only, so analytics
// never see unreviewed rows unless they ask for them.
type TransactionFilter struct {
	StartDate         *time.Time
	EndDate           *time.Time
	Amount            *model.Cents
	AccountID         string
	Statuses          []model.Status
	Limit             int
	Offset            int
	WithoutPrediction bool // Only rows with no predicted category
	NewestFirst       bool
}

// FinalStatuses are the states counted in analytics.
var FinalStatuses = []model.Status{model.StatusConfirmed, model.StatusAutoConfirmed}

// Queries is the set of reads and writes available both on the store and inside a transaction.
type Queries interface {
	// Transactions
	InsertTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransaction(ctx context.Context, id string) (*model.Transaction, error)
	GetTransactionByDedupKey(ctx context.Context, key string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	// UpdateTransactionState writes the categorization fields only if the row's
	// current status is one of from. It reports whether a row was updated.
	UpdateTransactionState(ctx context.Context, txn *model.Transaction, from ...model.Status) (bool, error)
	UpdateTransactionDetails(ctx context.Context, txn *model.Transaction) error
	DeleteTransaction(ctx context.Context, id string) (bool, error)
	ClearPredictions(ctx context.Context) (int64, error)

	// Dedup lookups cover active and soft-deleted rows.
	DedupKeyExists(ctx context.Context, key string) (bool, error)
	NearbyDescriptions(ctx context.Context, accountID string, amount model.Cents, start, end time.Time) ([]string, error)

	// Soft-deleted transactions
	InsertDeleted(ctx context.Context, deleted *model.DeletedTransaction) error
	GetDeleted(ctx context.Context, id string) (*model.DeletedTransaction, error)
	ListDeleted(ctx context.Context) ([]model.DeletedTransaction, error)
	DeleteDeleted(ctx context.Context, id string) (bool, error)
	PurgeAllDeleted(ctx context.Context) (int64, error)

	// Categories
	CreateCategory(ctx context.Context, category *model.Category) error
	GetCategory(ctx context.Context, id int64) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	UpdateCategory(ctx context.Context, category *model.Category) error
	DeleteCategory(ctx context.Context, id int64) error
	CountCategoryReferences(ctx context.Context, id int64) (int, error)
	ReassignCategory(ctx context.Context, fromID, toID int64) error
	ReparentChildren(ctx context.Context, fromID, toID int64) error

	// Amount rules
	CreateAmountRule(ctx context.Context, rule *model.AmountRule) error
	ListAmountRules(ctx context.Context) ([]model.AmountRule, error)
	DeleteAmountRule(ctx context.Context, id int64) error

	// Merchant mappings
	GetMappingByPattern(ctx context.Context, pattern string) (*model.MerchantMapping, error)
	ListMappings(ctx context.Context) ([]model.MerchantMapping, error)
	CreateMapping(ctx context.Context, mapping *model.MerchantMapping) error
	UpdateMapping(ctx context.Context, mapping *model.MerchantMapping) error
	DeleteMapping(ctx context.Context, id int64) error

	// Budgets
	SetBudget(ctx context.Context, budget *model.Budget) error
	ListBudgets(ctx context.Context, month string) ([]model.Budget, error)

	// Sync cursors
	GetSyncCursor(ctx context.Context, accountID string) (string, error)
	SaveSyncCursor(ctx context.Context, accountID, cursor string) error
	DeleteSyncCursor(ctx context.Context, accountID string) error

	// Reports
	SpendingByCategory(ctx context.Context, start, end time.Time) ([]model.CategorySpending, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	Queries
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Tx, error)
	Close() error
}

// Tx represents a database transaction.
type Tx interface {
	Queries
	Commit() error
	Rollback() error
}

// RunInTx runs fn inside a transaction, committing on success and rolling back otherwise.
func RunInTx(ctx context.Context, s Storage, fn func(Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
