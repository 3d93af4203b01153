package learning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/testutil"
	"github.com/Veraticus/tally/internal/testutil/categories"
)

func TestPatternFor(t *testing.T) {
	tests := []struct {
		name string
		txn  model.Transaction
		want string
	}{
		{name: "merchant name wins", txn: model.Transaction{Description: "SQ *BLUE BOTTLE 88812", MerchantName: "Blue Bottle"}, want: "BLUE BOTTLE"},
		{name: "description fallback", txn: model.Transaction{Description: "Netflix.com"}, want: `NETFLIX\.COM`},
		{name: "reference digits dropped", txn: model.Transaction{Description: "AMAZON MKTPLACE PMTS 123456789"}, want: "AMAZON MKTPLACE PMTS"},
		{name: "nothing to learn", txn: model.Transaction{Description: "12345678"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PatternFor(&tt.txn))
		})
	}
}

func TestStore_RecordConfirmation(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	coffee := db.CategoryID(categories.CategoryCoffee)
	dining := db.CategoryID(categories.CategoryDining)

	store := New(3)
	txn := testutil.NewTxn("STARBUCKS STORE", 550).Build()

	steps := []struct {
		category   int64
		want       Outcome
		confidence int
	}{
		{category: coffee, want: Created, confidence: 1},
		{category: coffee, want: Incremented, confidence: 2},
		{category: coffee, want: Incremented, confidence: 3},
		{category: coffee, want: Saturated, confidence: 3},
		{category: dining, want: Corrected, confidence: 1},
		{category: dining, want: Incremented, confidence: 2},
	}
	for i, step := range steps {
		outcome, err := store.RecordConfirmation(ctx, db.Storage, txn, step.category)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, step.want, outcome, "step %d", i)

		m, err := db.Storage.GetMappingByPattern(ctx, "STARBUCKS STORE")
		require.NoError(t, err)
		assert.Equal(t, step.confidence, m.Confidence, "step %d", i)
		assert.Equal(t, step.category, m.CategoryID, "step %d", i)
	}

	mappings, err := db.Storage.ListMappings(ctx)
	require.NoError(t, err)
	assert.Len(t, mappings, 1, "one mapping per merchant")
}

func TestStore_RecordConfirmationInsideRolledBackTx(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	coffee := db.CategoryID(categories.CategoryCoffee)

	store := New(0)
	txn := testutil.NewTxn("PHILZ COFFEE", 600).Build()

	err := db.WithTransaction(func(tx service.Tx) error {
		_, err := store.RecordConfirmation(ctx, tx, txn, coffee)
		return err
	})
	require.NoError(t, err)

	_, err = db.Storage.GetMappingByPattern(ctx, "PHILZ COFFEE")
	assert.ErrorIs(t, err, common.ErrNotFound, "mapping writes roll back with the caller's transaction")
}

func TestStore_RecordConfirmationRejectsEmptyPattern(t *testing.T) {
	db := testutil.SetupTestDB(t, categories.FixtureStandard)
	txn := testutil.NewTxn("#####", 100).Build()
	_, err := New(0).RecordConfirmation(context.Background(), db.Storage, txn, db.CategoryID(categories.CategoryCoffee))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestLearnedPatternMatchesSource(t *testing.T) {
	txn := &model.Transaction{Description: "Safeway #1234 Store"}
	m := common.CompilePattern(PatternFor(txn))
	assert.True(t, m.Match(txn.MatchText()...))
}
