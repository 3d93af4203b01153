package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/storage"
)

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func csvRecord(desc string, cents model.Cents) model.RawRecord {
	return model.RawRecord{
		Date:        time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
		Amount:      model.CentsPtr(cents),
		AccountID:   "checking",
		Description: desc,
		Source:      model.SourceCSV,
	}
}

func TestResolver_Key(t *testing.T) {
	r, err := NewResolver(DefaultPolicy())
	require.NoError(t, err)

	t.Run("sync uses external id", func(t *testing.T) {
		rec := csvRecord("ignored", 100)
		rec.Source = model.SourceSync
		rec.ExternalID = "plaid-123"
		key, err := r.Key(rec)
		require.NoError(t, err)
		assert.Equal(t, "sync:plaid-123", key)

		rec.Amount = model.CentsPtr(999)
		rec.Description = "corrected upstream"
		again, err := r.Key(rec)
		require.NoError(t, err)
		assert.Equal(t, key, again, "upstream corrections keep the key")
	})

	t.Run("sync without external id", func(t *testing.T) {
		rec := csvRecord("x", 100)
		rec.Source = model.SourceSync
		_, err := r.Key(rec)
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("csv hash tolerates description noise", func(t *testing.T) {
		a, err := r.Key(csvRecord("Amazon Mktplace PMTS 123456789", 2599))
		require.NoError(t, err)
		b, err := r.Key(csvRecord("AMAZON  MKTPLACE PMTS 987654321", 2599))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Contains(t, a, "hash:")

		c, err := r.Key(csvRecord("AMAZON MKTPLACE PMTS", 2600))
		require.NoError(t, err)
		assert.NotEqual(t, a, c, "amount is part of the key")
	})

	t.Run("archive and csv share the hash", func(t *testing.T) {
		rec := csvRecord("COSTCO", 10000)
		a, err := r.Key(rec)
		require.NoError(t, err)
		rec.Source = model.SourceArchive
		b, err := r.Key(rec)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate func(*model.RawRecord)
		name   string
	}{
		{name: "missing date", mutate: func(r *model.RawRecord) { r.Date = time.Time{} }},
		{name: "missing amount", mutate: func(r *model.RawRecord) { r.Amount = nil }},
		{name: "missing account", mutate: func(r *model.RawRecord) { r.AccountID = "" }},
		{name: "missing description", mutate: func(r *model.RawRecord) { r.Description = " " }},
		{name: "unknown source", mutate: func(r *model.RawRecord) { r.Source = "fax" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := csvRecord("COFFEE", 450)
			tt.mutate(&rec)
			assert.ErrorIs(t, Validate(rec), common.ErrValidation)
		})
	}

	zero := csvRecord("REFUND", 0)
	assert.NoError(t, Validate(zero), "zero amount is present, not missing")
}

func TestResolver_Decide(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	r, err := NewResolver(DefaultPolicy())
	require.NoError(t, err)

	rec := csvRecord("TRADER JOE'S #552", 4312)
	key, decision, err := r.Decide(ctx, store, rec)
	require.NoError(t, err)
	assert.Equal(t, Insert, decision)

	require.NoError(t, store.InsertTransaction(ctx, &model.Transaction{
		ID:          "t1",
		DedupKey:    key,
		Date:        rec.Date,
		Amount:      *rec.Amount,
		Description: rec.Description,
		AccountID:   rec.AccountID,
		Status:      model.StatusPendingReview,
		Source:      model.SourceCSV,
	}))

	_, decision, err = r.Decide(ctx, store, rec)
	require.NoError(t, err)
	assert.Equal(t, SkipDuplicate, decision)

	_, _, err = r.Decide(ctx, store, model.RawRecord{Source: model.SourceCSV})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestResolver_FuzzyPolicy(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	exact, err := NewResolver(DefaultPolicy())
	require.NoError(t, err)
	fuzzy, err := NewResolver(Policy{Mode: ModeFuzzy, MaxDistanceRatio: 0.15, DateWindowDays: 2})
	require.NoError(t, err)

	existing := csvRecord("STARBUCKS STORE SEATTLE", 575)
	key, _, err := exact.Decide(ctx, store, existing)
	require.NoError(t, err)
	require.NoError(t, store.InsertTransaction(ctx, &model.Transaction{
		ID:          "t1",
		DedupKey:    key,
		Date:        existing.Date,
		Amount:      575,
		Description: existing.Description,
		AccountID:   existing.AccountID,
		Status:      model.StatusPendingReview,
		Source:      model.SourceCSV,
	}))

	drifted := csvRecord("STARBUCKS STORE SEATTL", 575)
	drifted.Date = drifted.Date.AddDate(0, 0, 1)

	_, decision, err := exact.Decide(ctx, store, drifted)
	require.NoError(t, err)
	assert.Equal(t, Insert, decision, "exact policy ignores drift")

	_, decision, err = fuzzy.Decide(ctx, store, drifted)
	require.NoError(t, err)
	assert.Equal(t, SkipDuplicate, decision)

	different := csvRecord("SHELL OIL 5744", 575)
	_, decision, err = fuzzy.Decide(ctx, store, different)
	require.NoError(t, err)
	assert.Equal(t, Insert, decision)

	outside := csvRecord("STARBUCKS STORE SEATTLE", 575)
	outside.Date = outside.Date.AddDate(0, 0, 5)
	_, decision, err = fuzzy.Decide(ctx, store, outside)
	require.NoError(t, err)
	assert.Equal(t, Insert, decision, "outside the date window")
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.ErrorIs(t, Policy{Mode: "loose"}.Validate(), common.ErrInvalidConfig)
	assert.ErrorIs(t, Policy{Mode: ModeFuzzy, MaxDistanceRatio: 1.5}.Validate(), common.ErrInvalidConfig)
	assert.ErrorIs(t, Policy{Mode: ModeFuzzy, DateWindowDays: -1}.Validate(), common.ErrInvalidConfig)

	_, err := NewResolver(Policy{Mode: "loose"})
	assert.Error(t, err)
}
