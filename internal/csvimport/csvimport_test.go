package csvimport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
)

func read(t *testing.T, format, data string) []model.RawRecord {
	t.Helper()
	f, err := Lookup(format)
	require.NoError(t, err)
	recs, err := NewReader(f, "checking", "").Read(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	return recs
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRead_Formats(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		data     string
		date     time.Time
		desc     string
		merchant string
		amount   model.Cents
	}{
		{
			name:   "generic flips bank signs",
			format: "generic",
			data:   "Date,Description,Amount\n2024-03-01,TRADER JOE'S #552,-54.20\n",
			date:   day(2024, time.March, 1),
			desc:   "TRADER JOE'S #552",
			amount: 5420,
		},
		{
			name:     "discover keeps purchases positive",
			format:   "discover",
			data:     "Trans. Date,Post Date,Description,Amount,Category\n01/15/2024,01/16/2024,SAFEWAY #1547 BURLINGAME CA,82.13,Supermarkets\n",
			date:     day(2024, time.January, 15),
			desc:     "SAFEWAY #1547 BURLINGAME CA",
			merchant: "SAFEWAY #1547 BURLINGAME",
			amount:   8213,
		},
		{
			name:     "sofi strips the action prefix",
			format:   "sofi",
			data:     "Date,Description,Type,Amount,Current balance,Status\n2024-02-10,DEBIT CARD PURCHASE - NETFLIX.COM,Debit Card,\"-1,015.49\",100.00,Posted\n",
			date:     day(2024, time.February, 10),
			desc:     "DEBIT CARD PURCHASE - NETFLIX.COM",
			merchant: "NETFLIX.COM",
			amount:   101549,
		},
		{
			name:     "wellsfargo has no header",
			format:   "wellsfargo",
			data:     "\"01/15/2024\",\"-12.50\",\"*\",\"\",\"PURCHASE AUTHORIZED ON 01/14 BLUE BOTTLE 01/15 CARD 1234\"\n",
			date:     day(2024, time.January, 15),
			desc:     "PURCHASE AUTHORIZED ON 01/14 BLUE BOTTLE 01/15 CARD 1234",
			merchant: "BLUE BOTTLE",
			amount:   1250,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := read(t, tt.format, tt.data)
			require.Len(t, recs, 1)
			rec := recs[0]
			assert.Equal(t, tt.date, rec.Date)
			assert.Equal(t, tt.desc, rec.Description)
			assert.Equal(t, tt.merchant, rec.MerchantName)
			require.NotNil(t, rec.Amount)
			assert.Equal(t, tt.amount, *rec.Amount)
			assert.Equal(t, "checking", rec.AccountID)
			assert.Equal(t, model.SourceCSV, rec.Source)
		})
	}
}

func TestRead_MalformedRowsAreKept(t *testing.T) {
	data := "Date,Description,Amount\n" +
		"2024-03-01,GOOD,-1.00\n" +
		"not-a-date,BAD DATE,-2.00\n" +
		"\n" +
		"2024-03-03,BAD AMOUNT,abc\n" +
		"2024-03-04,PENDING,-4.00\n"
	recs := read(t, "generic", data)
	require.Len(t, recs, 4, "blank lines are skipped, malformed rows are not")

	assert.True(t, recs[1].Date.IsZero())
	assert.Nil(t, recs[2].Amount)
	assert.Equal(t, "PENDING", recs[3].Description)
}

func TestRead_SkipsPendingStatus(t *testing.T) {
	data := "Date,Description,Type,Amount,Current balance,Status\n" +
		"2024-02-10,ACH - RENT,Direct Payment,-2000,0,Pending\n" +
		"2024-02-11,ACH - GYM,Direct Payment,-40,0,Posted\n"
	recs := read(t, "sofi", data)
	require.Len(t, recs, 1)
	assert.Equal(t, "GYM", recs[0].MerchantName)
}

func TestRead_HeaderErrors(t *testing.T) {
	f, err := Lookup("generic")
	require.NoError(t, err)

	_, err = NewReader(f, "a", model.SourceArchive).Read(context.Background(), strings.NewReader("When,What\n2024-01-01,x\n"))
	require.ErrorIs(t, err, ErrMissingColumn)

	recs, err := NewReader(f, "a", model.SourceArchive).Read(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = NewReader(f, "a", model.SourceArchive).Read(context.Background(), strings.NewReader("\ufeffDATE,Memo,AMOUNT\n01/02/2024,x,5\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.SourceArchive, recs[0].Source)
	assert.Equal(t, day(2024, time.January, 2), recs[0].Date)
}

func TestLookup(t *testing.T) {
	_, err := Lookup("SoFi")
	require.NoError(t, err)
	f, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "generic", f.Name)
	_, err = Lookup("chase")
	require.Error(t, err)
	assert.Equal(t, []string{"discover", "generic", "sofi", "wellsfargo"}, Formats())
}
