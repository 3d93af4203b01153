// Package csvimport reads bank CSV exports into raw records.
//
// Rows that cannot be read are still returned, with the unreadable field left
// empty, so ingest reports them by position instead of dropping them.
package csvimport

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/model"
)

// Format describes one bank's export layout.
type Format struct {
	// Clean turns a description into a merchant name; nil leaves it empty.
	Clean func(string) string
	Date        Column
	Description Column
	Amount      Column
	Status      Column // Optional; rows whose status is "pending" are skipped
	Name        string
	DateLayouts []string
	HasHeader   bool
	// FlipSign is set for exports where money out is negative.
	FlipSign bool
}

// Column addresses a CSV field by header names, or by one-based position
// for exports without a header row. The zero Column is absent.
type Column struct {
	Names []string
	Pos   int
}

func named(names ...string) Column { return Column{Names: names} }
func at(i int) Column              { return Column{Pos: i + 1} }

var formats = map[string]Format{
	"generic": {
		Name:        "generic",
		HasHeader:   true,
		Date:        named("date", "transaction date", "trans. date", "trans date", "posted date"),
		Description: named("description", "payee", "memo", "name"),
		Amount:      named("amount"),
		Status:      named("status"),
		DateLayouts: []string{"2006-01-02", "01/02/2006", "1/2/2006", "01/02/06"},
		FlipSign:    true,
	},
	"discover": {
		Name:        "discover",
		HasHeader:   true,
		Date:        named("trans. date", "trans date"),
		Description: named("description"),
		Amount:      named("amount"),
		DateLayouts: []string{"01/02/2006"},
		Clean:       trimStateCode,
	},
	"sofi": {
		Name:        "sofi",
		HasHeader:   true,
		Date:        named("date"),
		Description: named("description"),
		Amount:      named("amount"),
		Status:      named("status"),
		DateLayouts: []string{"2006-01-02", "01/02/2006", "01/02/06"},
		FlipSign:    true,
		Clean:       trimPrefixes("DEBIT CARD PURCHASE - ", "DIRECT PAYMENT - ", "ACH - "),
	},
	"wellsfargo": {
		Name:        "wellsfargo",
		Date:        at(0),
		Amount:      at(1),
		Description: at(4),
		DateLayouts: []string{"01/02/2006", "01/02/06", "2006-01-02"},
		FlipSign:    true,
		Clean:       cleanWellsFargo,
	},
}

// Formats lists the known format names.
func Formats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the named format.
func Lookup(name string) (Format, error) {
	if name == "" {
		name = "generic"
	}
	f, ok := formats[strings.ToLower(name)]
	if !ok {
		return Format{}, fmt.Errorf("unknown CSV format %q (known: %s)", name, strings.Join(Formats(), ", "))
	}
	return f, nil
}

// Reader parses one format for one account.
type Reader struct {
	logger    *slog.Logger
	accountID string
	source    model.Source
	format    Format
}

// NewReader creates a reader. source is csv or archive.
func NewReader(format Format, accountID string, source model.Source) *Reader {
	if source == "" {
		source = model.SourceCSV
	}
	return &Reader{
		format:    format,
		accountID: accountID,
		source:    source,
		logger:    slog.Default().With("component", "csvimport"),
	}
}

// ErrMissingColumn is returned when a header row lacks a required column.
var ErrMissingColumn = errors.New("missing column")

// Read parses every data row. Blank lines are skipped.
func (r *Reader) Read(ctx context.Context, in io.Reader) ([]model.RawRecord, error) {
	cr := csv.NewReader(bufio.NewReader(in))
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	cols := resolved{
		date:   r.format.Date.Pos - 1,
		desc:   r.format.Description.Pos - 1,
		amount: r.format.Amount.Pos - 1,
		status: r.format.Status.Pos - 1,
	}
	if r.format.HasHeader {
		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV header: %w", err)
		}
		if cols, err = r.resolve(header); err != nil {
			return nil, err
		}
	}

	var out []model.RawRecord
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("failed to read CSV: %w", err)
			}
			r.logger.Warn("Unreadable CSV row", "line", parseErr.Line, "error", err)
			out = append(out, r.blank())
			continue
		}
		if isBlank(row) {
			continue
		}
		if strings.EqualFold(field(row, cols.status), "pending") {
			continue
		}
		out = append(out, r.convert(row, cols))
	}

	r.logger.Info("Parsed CSV file", "format", r.format.Name, "records", len(out))
	return out, nil
}

type resolved struct {
	date, desc, amount, status int
}

func (r *Reader) resolve(header []string) (resolved, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	find := func(c Column) int {
		for _, name := range c.Names {
			if i, ok := index[name]; ok {
				return i
			}
		}
		return -1
	}

	cols := resolved{
		date:   find(r.format.Date),
		desc:   find(r.format.Description),
		amount: find(r.format.Amount),
		status: find(r.format.Status),
	}
	for name, i := range map[string]int{"date": cols.date, "description": cols.desc, "amount": cols.amount} {
		if i < 0 {
			return resolved{}, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return cols, nil
}

func (r *Reader) blank() model.RawRecord {
	return model.RawRecord{AccountID: r.accountID, Source: r.source}
}

func (r *Reader) convert(row []string, cols resolved) model.RawRecord {
	rec := r.blank()
	rec.Description = strings.TrimSpace(field(row, cols.desc))
	if r.format.Clean != nil && rec.Description != "" {
		rec.MerchantName = r.format.Clean(rec.Description)
	}
	if date, ok := parseDate(field(row, cols.date), r.format.DateLayouts); ok {
		rec.Date = date
	}
	if amount, err := model.ParseCents(field(row, cols.amount)); err == nil {
		if r.format.FlipSign {
			amount = -amount
		}
		rec.Amount = model.CentsPtr(amount)
	}
	return rec
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.Trim(strings.TrimSpace(row[i]), `"`)
}

func isBlank(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseDate(s string, layouts []string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// trimStateCode drops a trailing two-letter state, as in "SAFEWAY #1547 BURLINGAME CA".
func trimStateCode(desc string) string {
	parts := strings.Fields(desc)
	if len(parts) >= 3 {
		last := parts[len(parts)-1]
		if len(last) == 2 && isAlpha(last) {
			parts = parts[:len(parts)-1]
		}
	}
	return strings.Join(parts, " ")
}

func trimPrefixes(prefixes ...string) func(string) string {
	return func(desc string) string {
		for _, p := range prefixes {
			if strings.HasPrefix(strings.ToUpper(desc), p) {
				desc = desc[len(p):]
			}
		}
		return strings.TrimSpace(desc)
	}
}

var wellsFargoPrefixes = []string{
	"RECURRING PURCHASE AUTHORIZED ON ",
	"PURCHASE AUTHORIZED ON ",
	"ONLINE TRANSFER TO ",
	"ONLINE TRANSFER FROM ",
	"ATM WITHDRAWAL ",
	"CHECK ",
}

// cleanWellsFargo strips the leading action and cuts at the "MM/DD" or CARD
// trailer, e.g. "PURCHASE AUTHORIZED ON 01/14 SAFEWAY 01/15 CARD 1234".
func cleanWellsFargo(desc string) string {
	for _, p := range wellsFargoPrefixes {
		if strings.HasPrefix(strings.ToUpper(desc), p) {
			desc = desc[len(p):]
			break
		}
	}
	parts := strings.Fields(desc)
	if len(parts) > 0 && isMonthDay(parts[0]) {
		parts = parts[1:]
	}
	var kept []string
	for _, part := range parts {
		if strings.HasPrefix(part, "CARD") || isMonthDay(part) {
			break
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, " ")
}

func isMonthDay(s string) bool {
	return len(s) == 5 && s[2] == '/'
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
