package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

func TestNonBlockingReader_ReadLine(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expectedValue string
		expectError   bool
	}{
		{name: "successful read", input: "test input\n", expectedValue: "test input"},
		{name: "read with extra whitespace", input: "  test input  \n", expectedValue: "test input"},
		{name: "empty line", input: "\n", expectedValue: ""},
		{name: "last line without newline", input: "yes", expectedValue: "yes"},
		{name: "end of input", input: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewNonBlockingReader(strings.NewReader(tt.input)).ReadLine(context.Background())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedValue, result)
		})
	}
}

func TestNonBlockingReader_Cancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewNonBlockingReader(pr).ReadLine(ctx)
	assert.True(t, errors.Is(err, ErrInputCancelled))
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			ok, err := Confirm(context.Background(), NewNonBlockingReader(strings.NewReader(tt.input)), &out, "Purge everything?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.Contains(t, out.String(), "Purge everything? [y/N]")
		})
	}
}

func TestInterruptHandler(t *testing.T) {
	var out bytes.Buffer
	h := NewInterruptHandler(&out)
	ctx, cancel := h.HandleInterrupts(context.Background(), "Committed pages are kept")
	cancel()
	<-ctx.Done()
	assert.False(t, h.WasInterrupted(), "a plain cancel is not an interrupt")

	h.note = "Committed pages are kept"
	h.markInterrupted()
	h.markInterrupted()
	assert.True(t, h.WasInterrupted())
	assert.Equal(t, 1, strings.Count(out.String(), "Interrupted"))
	assert.Contains(t, out.String(), "Committed pages are kept")
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"ID", "NAME"}, [][]string{{"1", "groceries"}, {"22", "rent"}})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "ID")
	assert.Contains(t, lines[0], "NAME")
	assert.Equal(t, strings.Index(lines[1], "groceries"), strings.Index(lines[2], "rent"), "columns line up")
}

func TestTransactionRows(t *testing.T) {
	names := map[int64]string{1: "Coffee", 2: "Dining"}
	txns := []model.Transaction{
		{ID: "a", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Amount: 450, Description: "BLUE BOTTLE", Status: model.StatusConfirmed, CategoryID: model.Int64Ptr(1)},
		{ID: "b", Amount: -100, Description: strings.Repeat("X", 60), Status: model.StatusPendingSave, StagedCategoryID: model.Int64Ptr(2)},
	}
	headers, rows := TransactionRows(txns, names)
	require.Len(t, rows, 2)
	assert.Len(t, headers, 6)
	assert.Equal(t, []string{"a", "2024-03-01", "4.50", "BLUE BOTTLE", "confirmed", "Coffee"}, rows[0])
	assert.Equal(t, "Dining (staged)", rows[1][5])
	assert.Len(t, []rune(rows[1][3]), 40)
}

func TestRenderTree(t *testing.T) {
	nodes := []model.CategoryNode{{
		Category: model.Category{ID: 1, Name: "food", DisplayName: "Food"},
		Children: []model.Category{
			{ID: 2, Name: "groceries"},
			{ID: 3, Name: "salary", IsIncome: true, IsRecurring: true},
		},
	}}
	out := RenderTree(nodes)
	assert.Contains(t, out, "Food")
	assert.Contains(t, out, "├── groceries")
	assert.Contains(t, out, "└── salary")
	assert.Contains(t, out, "income, recurring")
}

func TestRenderBatch(t *testing.T) {
	var result service.BatchResult
	result.Add("a", service.ItemOK, nil)
	result.Add("b", service.ItemSkipped, nil)
	result.Add("c", service.ItemOK, errors.New("boom"))

	out := RenderBatch("Confirmed", &result)
	assert.Contains(t, out, "Confirmed 1 of 3")
	assert.Contains(t, out, "1 skipped")
	assert.Contains(t, out, "c: boom")
}
