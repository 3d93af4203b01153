package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/dedup"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/testutil"
	"github.com/Veraticus/tally/internal/testutil/categories"
)

type fakeSource struct {
	pages   map[string]SyncPage
	errs    map[string]error
	block   chan struct{}
	started chan struct{}
	calls   []string
	mu      sync.Mutex
}

func (f *fakeSource) Fetch(ctx context.Context, _ string, cursor string) (SyncPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return SyncPage{}, ctx.Err()
		}
	}
	if err := f.errs[cursor]; err != nil {
		return SyncPage{}, err
	}
	return f.pages[cursor], nil
}

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func syncRec(id, desc string, cents model.Cents) Record {
	return Record{ExternalID: id, Description: desc, Amount: model.CentsPtr(cents), Date: day}
}

func fileRec(desc string, cents model.Cents) Record {
	return Record{
		Description: desc,
		Amount:      model.CentsPtr(cents),
		Date:        day,
		AccountID:   "checking",
		Source:      model.SourceCSV,
	}
}

func newService(t *testing.T, db *testutil.TestDB) *Service {
	t.Helper()
	resolver, err := dedup.NewResolver(dedup.DefaultPolicy())
	require.NoError(t, err)
	cascade, err := engine.New(db.Storage, nil, engine.DefaultConfig())
	require.NoError(t, err)
	cfg := Config{
		FetchTimeout: time.Second,
		MaxPages:     10,
		Retry:        service.RetryOptions{MaxAttempts: 1, InitialDelay: time.Millisecond},
	}
	return New(db.Storage, resolver, cascade, review.New(db.Storage, nil), WithConfig(cfg))
}

func TestService_Import(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)
	cloud := db.CategoryID(categories.CategoryCloudStorage)
	require.NoError(t, db.Storage.CreateAmountRule(ctx, &model.AmountRule{Pattern: "APPLE.COM/BILL", Amount: 99, CategoryID: cloud}))

	missingAmount := fileRec("MYSTERY", 0)
	missingAmount.Amount = nil
	noAccount := fileRec("NOWHERE", 100)
	noAccount.AccountID = ""

	recs := []Record{
		fileRec("APPLE.COM/BILL", 99),
		fileRec("BLUE BOTTLE COFFEE", 650),
		missingAmount,
		fileRec("Blue Bottle  Coffee", 650),
		noAccount,
	}

	var progressed []int
	res, err := s.Import(ctx, recs, func(done int) { progressed = append(progressed, done) })
	require.NoError(t, err)
	require.Len(t, res.Items, 5)
	assert.Equal(t, []int{5}, progressed)

	assert.Equal(t, service.ItemAccepted, res.Items[0].Status)
	assert.Equal(t, service.ItemAccepted, res.Items[1].Status)
	assert.Equal(t, service.ItemFailed, res.Items[2].Status)
	assert.ErrorIs(t, res.Items[2].Err, common.ErrValidation)
	assert.Equal(t, "record 3", res.Items[2].ID)
	assert.Equal(t, service.ItemSkipped, res.Items[3].Status, "normalizes to the same key within the batch")
	assert.Equal(t, service.ItemFailed, res.Items[4].Status)
	assert.Equal(t, 1, res.AutoConfirmed)
	assert.NoError(t, res.ImportError())

	apple := db.MustGet(res.Items[0].ID)
	assert.Equal(t, model.StatusAutoConfirmed, apple.Status)
	assert.Equal(t, cloud, *apple.CategoryID)
	assert.Equal(t, model.TierAmountRule, apple.Tier)

	coffee := db.MustGet(res.Items[1].ID)
	assert.Equal(t, model.StatusPendingReview, coffee.Status)
	assert.Nil(t, coffee.CategoryID)

	t.Run("re-import is idempotent", func(t *testing.T) {
		again, err := s.Import(ctx, recs[:2], nil)
		require.NoError(t, err)
		assert.Equal(t, 2, again.Count(service.ItemSkipped))

		all, err := db.Storage.ListTransactions(ctx, service.TransactionFilter{
			Statuses: []model.Status{model.StatusPendingReview, model.StatusAutoConfirmed},
		})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("soft-deleted rows still block re-import", func(t *testing.T) {
		m := review.New(db.Storage, nil)
		require.NoError(t, m.SoftDelete(ctx, coffee.ID, ""))

		again, err := s.Import(ctx, recs[1:2], nil)
		require.NoError(t, err)
		assert.Equal(t, service.ItemSkipped, again.Items[0].Status)

		require.NoError(t, m.Purge(ctx, coffee.ID))
		again, err = s.Import(ctx, recs[1:2], nil)
		require.NoError(t, err)
		assert.Equal(t, service.ItemAccepted, again.Items[0].Status, "purged keys are free again")
	})

	t.Run("all rejected", func(t *testing.T) {
		res, err := s.Import(ctx, []Record{missingAmount}, nil)
		require.NoError(t, err)
		assert.ErrorIs(t, res.ImportError(), common.ErrValidation)
	})
}

func TestService_SyncPages(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)

	src := &fakeSource{pages: map[string]SyncPage{
		"": {
			Added:      []Record{syncRec("t1", "NETFLIX.COM", 1599), syncRec("t2", "SAFEWAY", 4210)},
			NextCursor: "c1",
			HasMore:    true,
		},
		"c1": {
			Added:      []Record{syncRec("t3", "SHELL OIL", 3800), syncRec("t1", "NETFLIX.COM", 1599)},
			NextCursor: "c2",
		},
	}}

	res, err := s.Sync(ctx, "checking", src)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 1, res.SkippedDuplicates)
	assert.Equal(t, 2, res.Pages)
	assert.Equal(t, "c2", res.NewCursor)
	assert.Equal(t, []string{"", "c1"}, src.calls)

	cursor, err := db.Storage.GetSyncCursor(ctx, "checking")
	require.NoError(t, err)
	assert.Equal(t, "c2", cursor)

	txn, err := db.Storage.GetTransactionByDedupKey(ctx, dedup.SyncKey("t1"))
	require.NoError(t, err)
	assert.Equal(t, "checking", txn.AccountID)
	assert.Equal(t, model.SourceSync, txn.Source)
}

func TestService_SyncFailureKeepsCursor(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)

	src := &fakeSource{
		pages: map[string]SyncPage{
			"": {Added: []Record{syncRec("t1", "NETFLIX.COM", 1599)}, NextCursor: "c1", HasMore: true},
		},
		errs: map[string]error{"c1": errors.New("ITEM_LOGIN_REQUIRED")},
	}

	res, err := s.Sync(ctx, "checking", src)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrExternal)
	assert.Equal(t, 1, res.Accepted, "the first page stays stored")

	cursor, err := db.Storage.GetSyncCursor(ctx, "checking")
	require.NoError(t, err)
	assert.Equal(t, "c1", cursor)

	src.errs = nil
	src.pages["c1"] = SyncPage{Added: []Record{syncRec("t2", "SAFEWAY", 4210)}, NextCursor: "c2"}
	res, err = s.Sync(ctx, "checking", src)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, "c1", src.calls[len(src.calls)-1], "resumes from the committed cursor")
}

func TestService_ResetCursorReplaysWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)

	src := &fakeSource{pages: map[string]SyncPage{
		"":   {Added: []Record{syncRec("t1", "NETFLIX.COM", 1599)}, NextCursor: "c1", HasMore: true},
		"c1": {Added: []Record{syncRec("t2", "SAFEWAY", 4210)}, NextCursor: "c2"},
	}}
	first, err := s.Sync(ctx, "checking", src)
	require.NoError(t, err)
	require.Equal(t, 2, first.Accepted)

	require.NoError(t, s.ResetCursor(ctx, "checking"))
	cursor, err := db.Storage.GetSyncCursor(ctx, "checking")
	require.NoError(t, err)
	assert.Empty(t, cursor)

	again, err := s.Sync(ctx, "checking", src)
	require.NoError(t, err)
	assert.Zero(t, again.Accepted, "replayed history inserts nothing new")
	assert.Equal(t, 2, again.SkippedDuplicates)
	assert.Equal(t, "c2", again.NewCursor)
	assert.Equal(t, []string{"", "c1", "", "c1"}, src.calls)

	all, err := db.Storage.ListTransactions(ctx, service.TransactionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	t.Run("blank account", func(t *testing.T) {
		assert.ErrorIs(t, s.ResetCursor(ctx, " "), common.ErrValidation)
	})

	t.Run("sync in progress", func(t *testing.T) {
		unlock, ok := s.accounts.TryLock("checking")
		require.True(t, ok)
		defer unlock()
		assert.ErrorIs(t, s.ResetCursor(ctx, "checking"), common.ErrSyncInProgress)
	})
}

func TestService_SyncModifiedRemovedAndPosted(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)
	coffee := db.CategoryID(categories.CategoryCoffee)

	pending := syncRec("p1", "BLUE BOTTLE", 600)
	pending.IsPending = true
	src := &fakeSource{pages: map[string]SyncPage{
		"": {
			Added:      []Record{pending, syncRec("t2", "NETFLIX.COM", 1599), syncRec("t3", "SHELL", 3800)},
			NextCursor: "c1",
		},
	}}
	_, err := s.Sync(ctx, "checking", src)
	require.NoError(t, err)

	netflix, err := db.Storage.GetTransactionByDedupKey(ctx, dedup.SyncKey("t2"))
	require.NoError(t, err)
	m := review.New(db.Storage, nil)
	_, err = m.ConfirmDirect(ctx, netflix.ID, db.CategoryID(categories.CategorySubscriptions))
	require.NoError(t, err)

	pendingRow, err := db.Storage.GetTransactionByDedupKey(ctx, dedup.SyncKey("p1"))
	require.NoError(t, err)
	require.NoError(t, m.Stage(ctx, pendingRow.ID, coffee))

	posted := syncRec("t1", "BLUE BOTTLE COFFEE", 650)
	posted.PendingExternalID = "p1"
	changed := syncRec("t2", "NETFLIX.COM STANDARD", 1799)
	src.pages["c1"] = SyncPage{
		Added:      []Record{posted},
		Modified:   []Record{changed, syncRec("t9", "NEW VIA MODIFY", 100)},
		Removed:    []string{"t3", "never-seen"},
		NextCursor: "c2",
	}

	res, err := s.Sync(ctx, "checking", src)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Modified)
	assert.Equal(t, 1, res.Accepted, "unknown modified records are added")
	assert.Equal(t, 1, res.Removed)
	assert.Empty(t, res.Errors)

	t.Run("posted replaces pending in place", func(t *testing.T) {
		got := db.MustGet(pendingRow.ID)
		assert.Equal(t, dedup.SyncKey("t1"), got.DedupKey)
		assert.Equal(t, "t1", got.ExternalID)
		assert.False(t, got.IsPending)
		assert.Equal(t, model.Cents(650), got.Amount)
		assert.Equal(t, model.StatusPendingSave, got.Status, "review progress survives")
		assert.Equal(t, coffee, *got.StagedCategoryID)

		exists, err := db.Storage.DedupKeyExists(ctx, dedup.SyncKey("p1"))
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("modified keeps category and status", func(t *testing.T) {
		got := db.MustGet(netflix.ID)
		assert.Equal(t, "NETFLIX.COM STANDARD", got.Description)
		assert.Equal(t, model.Cents(1799), got.Amount)
		assert.Equal(t, model.StatusConfirmed, got.Status)
		assert.NotNil(t, got.CategoryID)
	})

	t.Run("removed upstream is soft deleted", func(t *testing.T) {
		deleted, err := db.Storage.ListDeleted(ctx)
		require.NoError(t, err)
		require.Len(t, deleted, 1)
		assert.Equal(t, "t3", deleted[0].Transaction.ExternalID)
		assert.Equal(t, model.ReasonRemovedUpstream, deleted[0].Reason)
	})
}

func TestService_SyncExclusivePerAccount(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	s := newService(t, db)

	blocked := &fakeSource{
		pages:   map[string]SyncPage{"": {NextCursor: "c1"}},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	started := blocked.started

	done := make(chan error, 1)
	go func() {
		_, err := s.Sync(ctx, "checking", blocked)
		done <- err
	}()
	<-started

	_, err := s.Sync(ctx, "checking", &fakeSource{})
	assert.ErrorIs(t, err, common.ErrConflict)
	assert.ErrorIs(t, err, common.ErrSyncInProgress)

	_, err = s.Sync(ctx, "savings", &fakeSource{})
	assert.NoError(t, err, "other accounts are not blocked")

	close(blocked.block)
	require.NoError(t, <-done)

	_, err = s.Sync(ctx, "checking", &fakeSource{})
	assert.NoError(t, err, "the lock is released after the pass")
}

func TestService_SyncRequiresAccount(t *testing.T) {
	db := testutil.SetupTestDB(t, nil)
	s := newService(t, db)
	_, err := s.Sync(context.Background(), " ", &fakeSource{})
	assert.ErrorIs(t, err, common.ErrValidation)
}
