package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

func newTxn(id, key string, status model.Status) *model.Transaction {
	return &model.Transaction{
		ID:           id,
		DedupKey:     key,
		Date:         time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		Amount:       1599,
		Description:  "NETFLIX.COM",
		MerchantName: "Netflix",
		AccountID:    "acct-1",
		Status:       status,
		Source:       model.SourceSync,
	}
}

func TestSQLiteStorage_InsertAndGetTransaction(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	txn := newTxn("t1", "sync:ext-1", model.StatusPendingReview)
	txn.ExternalID = "ext-1"
	txn.PredictedCategoryID = model.Int64Ptr(7)
	txn.Tier = model.TierAI
	txn.Confidence = 0.7
	txn.IsPending = true
	require.NoError(t, store.InsertTransaction(ctx, txn))

	got, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "sync:ext-1", got.DedupKey)
	assert.True(t, got.Date.Equal(txn.Date))
	assert.Equal(t, model.Cents(1599), got.Amount)
	assert.Equal(t, int64(7), *got.PredictedCategoryID)
	assert.Nil(t, got.CategoryID)
	assert.Equal(t, model.TierAI, got.Tier)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.True(t, got.IsPending)

	byKey, err := store.GetTransactionByDedupKey(ctx, "sync:ext-1")
	require.NoError(t, err)
	assert.Equal(t, "t1", byKey.ID)

	_, err = store.GetTransaction(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStorage_InsertDuplicateKey(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	require.NoError(t, store.InsertTransaction(ctx, newTxn("t1", "sync:a", model.StatusPendingReview)))
	err := store.InsertTransaction(ctx, newTxn("t2", "sync:a", model.StatusPendingReview))
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)
}

func TestSQLiteStorage_InsertRejectsInvalidState(t *testing.T) {
	store := newMemoryStorage(t)
	txn := newTxn("t1", "sync:a", model.StatusConfirmed)
	err := store.InsertTransaction(context.Background(), txn)
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestSQLiteStorage_ListTransactions(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	pending := newTxn("p", "sync:p", model.StatusPendingReview)
	confirmed := newTxn("c", "sync:c", model.StatusConfirmed)
	confirmed.CategoryID = model.Int64Ptr(1)
	confirmed.Date = confirmed.Date.AddDate(0, 0, 1)
	auto := newTxn("a", "sync:a", model.StatusAutoConfirmed)
	auto.CategoryID = model.Int64Ptr(1)
	auto.Date = auto.Date.AddDate(0, 0, 2)
	for _, txn := range []*model.Transaction{pending, confirmed, auto} {
		require.NoError(t, store.InsertTransaction(ctx, txn))
	}

	t.Run("default shows only final statuses", func(t *testing.T) {
		got, err := store.ListTransactions(ctx, service.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "a", got[1].ID)
	})

	t.Run("explicit status", func(t *testing.T) {
		got, err := store.ListTransactions(ctx, service.TransactionFilter{
			Statuses: []model.Status{model.StatusPendingReview},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p", got[0].ID)
	})

	t.Run("empty status list shows everything newest first", func(t *testing.T) {
		got, err := store.ListTransactions(ctx, service.TransactionFilter{
			Statuses:    []model.Status{},
			NewestFirst: true,
			Limit:       2,
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].ID)
		assert.Equal(t, "c", got[1].ID)
	})

	t.Run("date range", func(t *testing.T) {
		start := pending.Date.AddDate(0, 0, 1)
		end := pending.Date.AddDate(0, 0, 2)
		got, err := store.ListTransactions(ctx, service.TransactionFilter{StartDate: &start, EndDate: &end})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)
	})
}

func TestSQLiteStorage_UpdateTransactionState(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	txn := newTxn("t1", "sync:a", model.StatusPendingReview)
	require.NoError(t, store.InsertTransaction(ctx, txn))

	txn.Status = model.StatusPendingSave
	txn.StagedCategoryID = model.Int64Ptr(3)

	ok, err := store.UpdateTransactionState(ctx, txn, model.StatusConfirmed)
	require.NoError(t, err)
	assert.False(t, ok, "status guard must reject a stale expectation")

	ok, err = store.UpdateTransactionState(ctx, txn, model.StatusPendingReview, model.StatusPendingSave)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPendingSave, got.Status)
	assert.Equal(t, int64(3), *got.StagedCategoryID)
}

func TestSQLiteStorage_UpdateTransactionDetails(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	txn := newTxn("t1", "sync:pending-1", model.StatusConfirmed)
	txn.CategoryID = model.Int64Ptr(2)
	require.NoError(t, store.InsertTransaction(ctx, txn))

	txn.DedupKey = "sync:posted-1"
	txn.Amount = 1650
	txn.IsPending = false
	require.NoError(t, store.UpdateTransactionDetails(ctx, txn))

	got, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "sync:posted-1", got.DedupKey)
	assert.Equal(t, model.Cents(1650), got.Amount)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, int64(2), *got.CategoryID)
}

func TestSQLiteStorage_DeletedRoundTrip(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	txn := newTxn("t1", "hash:abc", model.StatusConfirmed)
	txn.CategoryID = model.Int64Ptr(5)
	txn.Source = model.SourceCSV
	require.NoError(t, store.InsertTransaction(ctx, txn))

	deletedAt := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertDeleted(ctx, &model.DeletedTransaction{
		Transaction: *txn,
		DeletedAt:   deletedAt,
		Reason:      model.ReasonUser,
	}))
	ok, err := store.DeleteTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, ok)

	exists, err := store.DedupKeyExists(ctx, "hash:abc")
	require.NoError(t, err)
	assert.True(t, exists, "soft-deleted keys still block re-import")

	got, err := store.GetDeleted(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.DeletedAt.Equal(deletedAt))
	assert.Equal(t, model.ReasonUser, got.Reason)
	assert.Equal(t, int64(5), *got.Transaction.CategoryID)
	assert.Equal(t, model.SourceCSV, got.Transaction.Source)

	list, err := store.ListDeleted(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	n, err := store.PurgeAllDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err = store.DedupKeyExists(ctx, "hash:abc")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLiteStorage_NearbyDescriptions(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	a := newTxn("a", "hash:a", model.StatusPendingReview)
	a.Description = "STARBUCKS STORE 123"
	b := newTxn("b", "hash:b", model.StatusPendingReview)
	b.Amount = 1
	require.NoError(t, store.InsertTransaction(ctx, a))
	require.NoError(t, store.InsertTransaction(ctx, b))

	got, err := store.NearbyDescriptions(ctx, "acct-1", 1599, a.Date.AddDate(0, 0, -1), a.Date.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []string{"STARBUCKS STORE 123"}, got)
}

func TestSQLiteStorage_ClearPredictions(t *testing.T) {
	store := newMemoryStorage(t)
	ctx := context.Background()

	txn := newTxn("t1", "sync:a", model.StatusPendingReview)
	txn.PredictedCategoryID = model.Int64Ptr(9)
	txn.Tier = model.TierMerchantMapping
	require.NoError(t, store.InsertTransaction(ctx, txn))

	n, err := store.ClearPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got.PredictedCategoryID)
	assert.Equal(t, model.TierNone, got.Tier)
}
