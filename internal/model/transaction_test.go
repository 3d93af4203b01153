package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTransaction() Transaction {
	return Transaction{
		ID:          "txn-1",
		Date:        time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		AccountID:   "acct-1",
		Description: "NETFLIX.COM",
		Amount:      1599,
		Status:      StatusPendingReview,
		Source:      SourceCSV,
	}
}

func TestTransaction_Validate(t *testing.T) {
	tests := []struct {
		wantErr error
		mutate  func(*Transaction)
		name    string
	}{
		{name: "pending review without category", mutate: func(*Transaction) {}},
		{
			name: "pending review with prediction",
			mutate: func(tx *Transaction) {
				tx.PredictedCategoryID = Int64Ptr(4)
			},
		},
		{
			name: "confirmed with category",
			mutate: func(tx *Transaction) {
				tx.Status = StatusConfirmed
				tx.CategoryID = Int64Ptr(4)
			},
		},
		{
			name: "staged",
			mutate: func(tx *Transaction) {
				tx.Status = StatusPendingSave
				tx.StagedCategoryID = Int64Ptr(4)
			},
		},
		{
			name:    "missing date",
			mutate:  func(tx *Transaction) { tx.Date = time.Time{} },
			wantErr: ErrMissingDate,
		},
		{
			name:    "missing account",
			mutate:  func(tx *Transaction) { tx.AccountID = "  " },
			wantErr: ErrMissingAccount,
		},
		{
			name:    "missing description",
			mutate:  func(tx *Transaction) { tx.Description = "" },
			wantErr: ErrMissingDescription,
		},
		{
			name: "pending review with assigned category",
			mutate: func(tx *Transaction) {
				tx.CategoryID = Int64Ptr(4)
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "auto confirmed without category",
			mutate: func(tx *Transaction) {
				tx.Status = StatusAutoConfirmed
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "pending save without staged category",
			mutate: func(tx *Transaction) {
				tx.Status = StatusPendingSave
			},
			wantErr: ErrInvalidState,
		},
		{
			name:    "unknown status",
			mutate:  func(tx *Transaction) { tx.Status = "archived" },
			wantErr: ErrInvalidState,
		},
		{
			name:    "unknown source",
			mutate:  func(tx *Transaction) { tx.Source = "email" },
			wantErr: ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := validTransaction()
			tt.mutate(&txn)
			err := txn.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		input   string
		want    Cents
		wantErr bool
	}{
		{input: "12.34", want: 1234},
		{input: "0.99", want: 99},
		{input: "-0.99", want: -99},
		{input: "$1,204.50", want: 120450},
		{input: "(5.00)", want: -500},
		{input: "7", want: 700},
		{input: "7.5", want: 750},
		{input: "+3.10", want: 310},
		{input: "", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "1.234", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCents(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCents_String(t *testing.T) {
	assert.Equal(t, "0.99", Cents(99).String())
	assert.Equal(t, "-12.05", Cents(-1205).String())
	assert.Equal(t, "1500.00", Cents(150000).String())
	assert.Equal(t, Cents(99), CentsFromFloat(0.99))
	assert.Equal(t, Cents(-4213), CentsFromFloat(-42.13))
}

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "Netflix.com", want: "NETFLIX.COM"},
		{input: "  STARBUCKS   STORE  ", want: "STARBUCKS STORE"},
		{input: "AMAZON MKTPLACE PMTS 123456789", want: "AMAZON MKTPLACE PMTS"},
		{input: "APPLE.COM/BILL", want: "APPLE.COM/BILL"},
		{input: "SQ *BLUE BOTTLE!!", want: "SQ BLUE BOTTLE"},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDescription(tt.input))
		})
	}
}

func TestTransaction_MerchantKey(t *testing.T) {
	txn := validTransaction()
	txn.Description = "NETFLIX.COM 866-579-7172 CA"
	txn.MerchantName = "Netflix"
	assert.Equal(t, "NETFLIX", txn.MerchantKey())

	txn.MerchantName = ""
	assert.Equal(t, NormalizeDescription(txn.Description), txn.MerchantKey())
}

func TestLifecycle(t *testing.T) {
	txn := validTransaction()
	active := ActiveLifecycle(txn)
	assert.Equal(t, LifecycleActive, active.State)
	require.NotNil(t, active.Active)
	assert.Nil(t, active.Deleted)

	deleted := DeletedLifecycle(DeletedTransaction{Transaction: txn, Reason: ReasonUser})
	assert.Equal(t, "deleted", deleted.State.String())
	assert.Nil(t, deleted.Active)

	assert.Equal(t, "purged", PurgedLifecycle().State.String())
}

func TestTransaction_MatchText(t *testing.T) {
	txn := &Transaction{Description: "Safeway #1234  Store", MerchantName: "Safeway"}
	assert.Equal(t, []string{"SAFEWAY #1234  STORE", "SAFEWAY", "SAFEWAY 1234 STORE"}, txn.MatchText())

	bare := &Transaction{Description: "NETFLIX.COM"}
	assert.Equal(t, []string{"NETFLIX.COM"}, bare.MatchText())
}
