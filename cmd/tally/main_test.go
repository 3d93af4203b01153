package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/config"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
	"github.com/Veraticus/tally/internal/storage"
)

// useTempConfig points the package config at a fresh database.
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	v := viper.New()
	v.Set("database.path", filepath.Join(dir, "tally.db"))
	v.Set("database.backup_dir", filepath.Join(dir, "backups"))
	loaded, err := config.LoadFrom(v)
	require.NoError(t, err)

	prev := cfg
	cfg = loaded
	t.Cleanup(func() { cfg = prev })
	return dir
}

func run(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// listAll returns active transactions in every status.
func listAll(t *testing.T) []model.Transaction {
	t.Helper()
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	txns, err := store.ListTransactions(context.Background(), service.TransactionFilter{Statuses: []model.Status{}})
	require.NoError(t, err)
	return txns
}

func TestImportReviewReport(t *testing.T) {
	dir := useTempConfig(t)

	_, err := run(t, categoriesCmd(), "", "create", "food")
	require.NoError(t, err)
	_, err = run(t, categoriesCmd(), "", "create", "groceries", "--parent", "food")
	require.NoError(t, err)

	out, err := run(t, categoriesCmd(), "", "tree")
	require.NoError(t, err)
	assert.Contains(t, out, "groceries")

	csvPath := filepath.Join(dir, "checking.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"Date,Description,Amount\n"+
			"2024-06-03,WHOLE FOODS #123,-88.12\n"+
			"2024-06-04,PAYROLL,2500.00\n"+
			"not a date,BROKEN,-1.00\n"), 0600))

	out, err = run(t, importCmd(), "", "csv", csvPath, "--account", "checking")
	require.NoError(t, err)
	assert.Contains(t, out, "2 imported")
	assert.Contains(t, out, "record 3")

	out, err = run(t, importCmd(), "", "csv", csvPath, "--account", "checking")
	require.NoError(t, err)
	assert.Contains(t, out, "2 duplicates skipped")

	txns := listAll(t)
	require.Len(t, txns, 2)
	var grocery model.Transaction
	for _, txn := range txns {
		if strings.HasPrefix(txn.Description, "WHOLE FOODS") {
			grocery = txn
		}
	}
	require.NotEmpty(t, grocery.ID)
	assert.Equal(t, model.Cents(8812), grocery.Amount)

	_, err = run(t, reviewCmd(), "", "stage", grocery.ID, "--category", "groceries")
	require.NoError(t, err)
	out, err = run(t, reviewCmd(), "", "commit")
	require.NoError(t, err)
	assert.Contains(t, out, "Committed 1 of 1")

	out, err = run(t, reportCmd(), "", "spending", "--month", "2024-06")
	require.NoError(t, err)
	assert.Contains(t, out, "groceries")
	assert.Contains(t, out, "88.12")

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	err = withApp(context.Background(), func(a *app) error {
		report, err := buildReport(context.Background(), a, start, start.AddDate(0, 1, 0))
		require.NoError(t, err)
		require.Len(t, report.Transactions, 1)
		assert.Equal(t, grocery.ID, report.Transactions[0].ID)
		assert.Equal(t, "groceries", report.CategoryNames[*report.Transactions[0].CategoryID])
		require.Len(t, report.Spending, 1)
		assert.Equal(t, model.Cents(8812), report.Spending[0].Total)
		return nil
	})
	require.NoError(t, err)

	_, err = run(t, reportCmd(), "", "export", "--month", "2024-06")
	assert.ErrorIs(t, err, common.ErrMissingConfig)
}

func TestDeletedCommands(t *testing.T) {
	dir := useTempConfig(t)

	csvPath := filepath.Join(dir, "card.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Date,Description,Amount\n2024-06-03,COFFEE,-4.50\n"), 0600))
	_, err := run(t, importCmd(), "", "csv", csvPath, "--account", "card")
	require.NoError(t, err)
	id := listAll(t)[0].ID

	_, err = run(t, deletedCmd(), "", "delete", id)
	require.NoError(t, err)
	assert.Empty(t, listAll(t))

	out, err := run(t, deletedCmd(), "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "COFFEE")

	out, err = run(t, deletedCmd(), "n\n", "purge", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")

	out, err = run(t, deletedCmd(), "", "purge-all", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged 1 transactions")

	backups, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups, "purge-all backs up first")

	_, err = run(t, deletedCmd(), "", "restore", id)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSeed(t *testing.T) {
	dir := useTempConfig(t)

	out, err := run(t, seedCmd(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded")

	out, err = run(t, seedCmd(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to seed")

	out, err = run(t, mappingsCmd(), "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "STARBUCKS")

	csvPath := filepath.Join(dir, "card.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Date,Description,Amount\n2024-06-03,STARBUCKS STORE 0412,-6.25\n"), 0600))
	out, err = run(t, importCmd(), "", "csv", csvPath, "--account", "card")
	require.NoError(t, err)
	assert.Contains(t, out, "1 imported (1 auto-confirmed)")

	txns := listAll(t)
	require.Len(t, txns, 1)
	assert.Equal(t, model.StatusAutoConfirmed, txns[0].Status)

	custom := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(custom, []byte("categories:\n  - name: pets\n    children:\n      - {name: vet}\n"), 0600))
	out, err = run(t, seedCmd(), "", "--file", custom)
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 records")

	_, err = run(t, seedCmd(), "", "--file", filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRulesAndBudgets(t *testing.T) {
	useTempConfig(t)

	_, err := run(t, categoriesCmd(), "", "create", "subscriptions")
	require.NoError(t, err)

	out, err := run(t, rulesCmd(), "", "add", "APPLE.COM", "2.99", "subscriptions", "--notes", "icloud")
	require.NoError(t, err)
	assert.Contains(t, out, "Added rule")

	out, err = run(t, rulesCmd(), "", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "APPLE.COM")
	assert.Contains(t, out, "2.99")

	_, err = run(t, rulesCmd(), "", "add", "APPLE.COM", "two dollars", "subscriptions")
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = run(t, budgetsCmd(), "", "set", "subscriptions", "50", "2024-06")
	require.NoError(t, err)
	out, err = run(t, budgetsCmd(), "", "list", "2024-06")
	require.NoError(t, err)
	assert.Contains(t, out, "50.00")
}

func TestReportRange(t *testing.T) {
	tests := []struct {
		name      string
		flags     map[string]string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{name: "month", flags: map[string]string{"month": "2024-02"}, wantStart: "2024-02-01", wantEnd: "2024-03-01"},
		{name: "start only", flags: map[string]string{"start": "2024-02-10"}, wantStart: "2024-02-10", wantEnd: "2024-03-10"},
		{name: "inclusive end", flags: map[string]string{"start": "2024-02-01", "end": "2024-02-29"}, wantStart: "2024-02-01", wantEnd: "2024-03-01"},
		{name: "bad month", flags: map[string]string{"month": "Feb"}, wantErr: true},
		{name: "bad end", flags: map[string]string{"start": "2024-02-01", "end": "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := reportCmd().Commands()[0]
			for k, v := range tt.flags {
				require.NoError(t, cmd.Flags().Set(k, v))
			}
			start, end, err := reportRange(cmd)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start.Format(time.DateOnly))
			assert.Equal(t, tt.wantEnd, end.Format(time.DateOnly))
		})
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	for _, useTLS := range []bool{false, true} {
		t.Run(map[bool]string{false: "http", true: "https"}[useTLS], func(t *testing.T) {
			dir := useTempConfig(t)
			a, err := openApp(context.Background())
			require.NoError(t, err)
			defer a.Close()

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- serve(ctx, a, config.Server{
					Addr:            "127.0.0.1:0",
					CertDir:         filepath.Join(dir, "certs"),
					ShutdownTimeout: time.Second,
					TLS:             useTLS,
				})
			}()
			time.Sleep(50 * time.Millisecond)
			cancel()

			select {
			case err := <-done:
				assert.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("server did not shut down")
			}
			if useTLS {
				_, err := os.Stat(filepath.Join(dir, "certs", "localhost.crt"))
				assert.NoError(t, err)
			}
		})
	}
}

func TestSync_SimpleFIN(t *testing.T) {
	useTempConfig(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("balances-only") == "1" {
			fmt.Fprint(w, `{"accounts": [{"id": "ACT-1"}]}`)
			return
		}
		fmt.Fprint(w, `{"accounts": [{"id": "ACT-1", "transactions": [
			{"id": "T1", "posted": 1717416000, "amount": "-88.12", "description": "WHOLE FOODS #123"},
			{"id": "T2", "posted": 1717502400, "amount": "-4.50", "description": "BLUE BOTTLE"}
		]}]}`)
	}))
	defer srv.Close()
	cfg.SimpleFIN.AccessURL = srv.URL

	out, err := run(t, syncCmd(), "", "--source", "simplefin")
	require.NoError(t, err)
	assert.Contains(t, out, "ACT-1: 2 new")
	require.Len(t, listAll(t), 2)

	out, err = run(t, syncCmd(), "", "ACT-1", "--source", "simplefin")
	require.NoError(t, err)
	assert.Contains(t, out, "2 duplicates")
	assert.Len(t, listAll(t), 2)

	out, err = run(t, syncCmd(), "", "ACT-1", "--source", "simplefin", "--reset-cursor")
	require.NoError(t, err)
	assert.Contains(t, out, "ACT-1: cursor reset")
	assert.Contains(t, out, "ACT-1: 0 new")
	assert.Contains(t, out, "2 duplicates")
	assert.Len(t, listAll(t), 2, "replaying from scratch inserts nothing new")

	_, err = run(t, syncCmd(), "", "--source", "carrier-pigeon")
	assert.Error(t, err)
}
