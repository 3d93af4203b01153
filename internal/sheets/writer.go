package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Report is the data behind one export. The range is half-open.
type Report struct {
	Start         time.Time
	End           time.Time
	CategoryNames map[int64]string
	Spending      []model.CategorySpending
	Transactions  []model.Transaction
}

// Writer writes reports to Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter authenticates with the configured credentials.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return NewWriterWithService(srv, config, logger), nil
}

// NewWriterWithService wraps an already constructed Sheets client.
func NewWriterWithService(srv *sheets.Service, config Config, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = common.Component("sheets")
	}
	return &Writer{service: srv, config: config, logger: logger}
}

func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}
		tokenSource = client.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	return sheets.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, tokenSource)))
}

// Write replaces the Spending and Transactions tabs with report and returns
// the spreadsheet id.
func (w *Writer) Write(ctx context.Context, report Report) (string, error) {
	w.logger.Info("Exporting report",
		"start", report.Start.Format("2006-01-02"),
		"end", report.End.Format("2006-01-02"),
		"categories", len(report.Spending),
		"transactions", len(report.Transactions))

	var id string
	err := w.retry(ctx, func() error {
		var err error
		id, err = w.spreadsheet(ctx)
		return err
	})
	if err != nil {
		return "", &common.ExternalCapabilityError{Op: "sheets export", Reason: "spreadsheet unavailable", Err: err}
	}

	tabs := []struct {
		title  string
		values [][]any
	}{
		{SpendingTab, spendingRows(report)},
		{TransactionsTab, transactionRows(report)},
	}
	for _, tab := range tabs {
		err := w.retry(ctx, func() error { return w.replace(ctx, id, tab.title, tab.values) })
		if err != nil {
			return id, &common.ExternalCapabilityError{Op: "sheets export", ID: tab.title, Reason: "write failed", Err: err}
		}
	}

	w.logger.Info("Report exported", "spreadsheet_id", id)
	return id, nil
}

// spreadsheet returns the configured spreadsheet with both tabs present,
// creating either when missing.
func (w *Writer) spreadsheet(ctx context.Context) (string, error) {
	if w.config.SpreadsheetID == "" {
		created, err := w.service.Spreadsheets.Create(&sheets.Spreadsheet{
			Properties: &sheets.SpreadsheetProperties{
				Title:    w.config.SpreadsheetName,
				TimeZone: w.config.TimeZone,
			},
			Sheets: []*sheets.Sheet{
				{Properties: &sheets.SheetProperties{Title: SpendingTab}},
				{Properties: &sheets.SheetProperties{Title: TransactionsTab}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return "", classify(err)
		}
		w.logger.Info("Created spreadsheet", "id", created.SpreadsheetId, "url", created.SpreadsheetUrl)
		return created.SpreadsheetId, nil
	}

	existing, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).
		Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	have := make(map[string]bool, len(existing.Sheets))
	for _, s := range existing.Sheets {
		if s.Properties != nil {
			have[s.Properties.Title] = true
		}
	}

	var add []*sheets.Request
	for _, title := range []string{SpendingTab, TransactionsTab} {
		if !have[title] {
			add = append(add, &sheets.Request{
				AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: title}},
			})
		}
	}
	if len(add) > 0 {
		_, err := w.service.Spreadsheets.BatchUpdate(w.config.SpreadsheetID,
			&sheets.BatchUpdateSpreadsheetRequest{Requests: add}).Context(ctx).Do()
		if err != nil {
			return "", classify(err)
		}
	}
	return w.config.SpreadsheetID, nil
}

func (w *Writer) replace(ctx context.Context, id, tab string, values [][]any) error {
	if _, err := w.service.Spreadsheets.Values.Clear(id, tab, &sheets.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return classify(err)
	}
	_, err := w.service.Spreadsheets.Values.Update(id, tab+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	return classify(err)
}

func (w *Writer) retry(ctx context.Context, fn func() error) error {
	return common.WithRetry(ctx, fn, service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	})
}

// classify marks API errors as retryable only for throttling and server faults.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &common.RetryableError{Err: err, Retryable: true}
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, err), Retryable: true}
	case apiErr.Code >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	default:
		return &common.RetryableError{Err: err, Retryable: false}
	}
}

func spendingRows(r Report) [][]any {
	rows := make([][]any, 0, len(r.Spending)+4)
	rows = append(rows,
		[]any{"Spending", r.Start.Format("2006-01-02"), r.End.AddDate(0, 0, -1).Format("2006-01-02")},
		[]any{},
		[]any{"Category", "Transactions", "Total"},
	)
	var total model.Cents
	for _, s := range r.Spending {
		total += s.Total
		rows = append(rows, []any{s.CategoryName, s.Count, s.Total.Float64()})
	}
	return append(rows, []any{"Total", "", total.Float64()})
}

func transactionRows(r Report) [][]any {
	rows := make([][]any, 0, len(r.Transactions)+1)
	rows = append(rows, []any{"Date", "Description", "Merchant", "Category", "Amount", "Account", "Status"})
	for _, t := range r.Transactions {
		category := ""
		if t.CategoryID != nil {
			category = r.CategoryNames[*t.CategoryID]
		}
		rows = append(rows, []any{
			t.Date.Format("2006-01-02"),
			t.Description,
			t.MerchantName,
			category,
			t.Amount.Float64(),
			t.AccountID,
			string(t.Status),
		})
	}
	return rows
}
