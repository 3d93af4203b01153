// Package testutil provides test databases and transaction builders.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
	"github.com/Veraticus/tally/internal/testutil/categories"
)

// TestDB represents a test database with associated test utilities.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	t          *testing.T
	Categories categories.Categories
}

// SetupTestDB creates a new in-memory test database seeded with a fixture.
// It automatically handles migrations and cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, categories.FixtureStandard)
//	groceries := db.CategoryID(categories.CategoryGroceries)
func SetupTestDB(t *testing.T, fixture categories.Fixture) *TestDB {
	t.Helper()
	return SetupTestDBWithBuilder(t, func(b categories.Builder) categories.Builder {
		if fixture == nil {
			return b
		}
		return b.WithFixture(fixture)
	})
}

// SetupTestDBWithBuilder creates a test database using a category builder.
func SetupTestDBWithBuilder(t *testing.T, configure func(categories.Builder) categories.Builder) *TestDB {
	t.Helper()

	builder := categories.NewBuilder(t)
	if configure != nil {
		builder = configure(builder)
	}

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cats, err := builder.Build(ctx, store)
	if err != nil {
		t.Fatalf("failed to build categories: %v", err)
	}

	return &TestDB{
		Storage:    store,
		Categories: cats,
		t:          t,
	}
}

// CategoryID returns the id of a seeded category or fails the test.
func (db *TestDB) CategoryID(name categories.CategoryName) int64 {
	db.t.Helper()
	return db.Categories.ID(db.t, name)
}

// Insert stores transactions or fails the test.
func (db *TestDB) Insert(txns ...*model.Transaction) {
	db.t.Helper()
	for _, txn := range txns {
		if err := db.Storage.InsertTransaction(context.Background(), txn); err != nil {
			db.t.Fatalf("failed to insert transaction %s: %v", txn.ID, err)
		}
	}
}

// MustGet loads a transaction or fails the test.
func (db *TestDB) MustGet(id string) *model.Transaction {
	db.t.Helper()
	txn, err := db.Storage.GetTransaction(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to load transaction %s: %v", id, err)
	}
	return txn
}

// WithTransaction executes fn within a database transaction that is always rolled back.
func (db *TestDB) WithTransaction(fn func(tx service.Tx) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}

// TxnBuilder builds transactions for tests.
type TxnBuilder struct {
	txn model.Transaction
}

// NewTxn starts a pending_review CSV transaction with a fresh id and dedup key.
func NewTxn(description string, amount model.Cents) *TxnBuilder {
	id := uuid.NewString()
	return &TxnBuilder{txn: model.Transaction{
		ID:          id,
		DedupKey:    "hash:" + id,
		Date:        time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Amount:      amount,
		Description: description,
		AccountID:   "checking",
		Status:      model.StatusPendingReview,
		Source:      model.SourceCSV,
	}}
}

// ID sets the transaction id.
func (b *TxnBuilder) ID(id string) *TxnBuilder {
	b.txn.ID = id
	return b
}

// Key sets the dedup key.
func (b *TxnBuilder) Key(key string) *TxnBuilder {
	b.txn.DedupKey = key
	return b
}

// Merchant sets the merchant name.
func (b *TxnBuilder) Merchant(name string) *TxnBuilder {
	b.txn.MerchantName = name
	return b
}

// Date sets the transaction date.
func (b *TxnBuilder) Date(d time.Time) *TxnBuilder {
	b.txn.Date = d
	return b
}

// Account sets the account id.
func (b *TxnBuilder) Account(id string) *TxnBuilder {
	b.txn.AccountID = id
	return b
}

// Predicted attaches a prediction, keeping the transaction in pending_review.
func (b *TxnBuilder) Predicted(categoryID int64, tier model.Tier, confidence float64) *TxnBuilder {
	b.txn.PredictedCategoryID = model.Int64Ptr(categoryID)
	b.txn.Tier = tier
	b.txn.Confidence = confidence
	return b
}

// Staged moves the transaction to pending_save.
func (b *TxnBuilder) Staged(categoryID int64) *TxnBuilder {
	b.txn.Status = model.StatusPendingSave
	b.txn.CategoryID = nil
	b.txn.StagedCategoryID = model.Int64Ptr(categoryID)
	return b
}

// Confirmed assigns a category with the given final status.
func (b *TxnBuilder) Confirmed(categoryID int64, status model.Status) *TxnBuilder {
	b.txn.Status = status
	b.txn.CategoryID = model.Int64Ptr(categoryID)
	b.txn.StagedCategoryID = nil
	return b
}

// Build returns a copy of the transaction.
func (b *TxnBuilder) Build() *model.Transaction {
	txn := b.txn
	return &txn
}
