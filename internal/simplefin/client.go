// Package simplefin syncs transactions from a SimpleFIN Bridge access URL.
//
// SimpleFIN has no change feed, so the cursor is a window start: each fetch
// asks for everything posted since the cursor, and the next cursor trails the
// fetch time by Overlap so late-posting records are seen again. Records that
// were already stored dedupe on their sync key.
package simplefin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/model"
)

// Overlap is how far behind the fetch time the next window starts.
const Overlap = 7 * 24 * time.Hour

// Config configures the SimpleFIN source.
type Config struct {
	AccessURL string        // Claimed access URL, including credentials
	AuthFile  string        // Where a claimed access URL is saved
	Lookback  time.Duration // History requested on the first sync of an account
}

type accountSet struct {
	Errors   []string  `json:"errors"`
	Accounts []account `json:"accounts"`
}

type account struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Currency     string        `json:"currency"`
	Transactions []transaction `json:"transactions"`
}

type transaction struct {
	ID          string `json:"id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Payee       string `json:"payee"`
	Posted      int64  `json:"posted"`
	Pending     bool   `json:"pending"`
}

// Client fetches account activity from one access URL.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	accessURL  string
	lookback   time.Duration
}

// NewClient creates a client for cfg.AccessURL.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(cfg.AccessURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: simplefin access url is not a valid URL", common.ErrInvalidConfig)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 90 * 24 * time.Hour
	}
	return &Client{
		httpClient: httpClient,
		logger:     common.Component("simplefin"),
		now:        time.Now,
		accessURL:  strings.TrimRight(cfg.AccessURL, "/"),
		lookback:   lookback,
	}, nil
}

// Accounts lists the SimpleFIN account ids behind the access URL.
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	set, err := c.get(ctx, url.Values{"balances-only": {"1"}})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set.Accounts))
	for _, a := range set.Accounts {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// Fetch returns everything posted since cursor as one page of additions.
func (c *Client) Fetch(ctx context.Context, accountID, cursor string) (ingest.SyncPage, error) {
	now := c.now()
	start := now.Add(-c.lookback)
	if cursor != "" {
		secs, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return ingest.SyncPage{}, &common.RetryableError{
				Err:       fmt.Errorf("invalid simplefin cursor %q: %w", cursor, err),
				Retryable: false,
			}
		}
		start = time.Unix(secs, 0)
	}

	set, err := c.get(ctx, url.Values{
		"start-date": {strconv.FormatInt(start.Unix(), 10)},
		"account":    {accountID},
		"pending":    {"1"},
	})
	if err != nil {
		return ingest.SyncPage{}, err
	}

	page := ingest.SyncPage{NextCursor: strconv.FormatInt(now.Add(-Overlap).Unix(), 10)}
	for _, a := range set.Accounts {
		if a.ID != accountID {
			continue
		}
		for _, tx := range a.Transactions {
			page.Added = append(page.Added, toRecord(a.ID, tx))
		}
	}
	c.logger.Debug("Fetched simplefin window",
		"account_id", accountID,
		"since", start.UTC().Format(time.DateOnly),
		"records", len(page.Added))
	return page, nil
}

func (c *Client) get(ctx context.Context, query url.Values) (*accountSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.accessURL+"/accounts?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &common.RetryableError{Err: fmt.Errorf("simplefin request failed: %w", err), Retryable: true}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var set accountSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("failed to decode simplefin response: %w", err)
	}
	for _, msg := range set.Errors {
		c.logger.Warn("SimpleFIN reported an error", "message", msg)
	}
	return &set, nil
}

func classifyStatus(status int, body string) error {
	err := fmt.Errorf("simplefin returned %d: %s", status, body)
	switch {
	case status == http.StatusTooManyRequests:
		return &common.RetryableError{Err: fmt.Errorf("%w: %w", common.ErrRateLimit, err), Retryable: true}
	case status >= 500:
		return &common.RetryableError{Err: err, Retryable: true}
	}
	return &common.RetryableError{Err: err, Retryable: false}
}

// toRecord converts one SimpleFIN transaction. SimpleFIN amounts are signed
// decimal strings with withdrawals negative; a bad amount leaves Amount nil
// so ingest reports the record.
func toRecord(accountID string, tx transaction) model.RawRecord {
	rec := model.RawRecord{
		ExternalID:   accountID + "/" + tx.ID,
		AccountID:    accountID,
		Description:  strings.TrimSpace(tx.Description),
		MerchantName: normalizeMerchant(tx.Payee),
		Source:       model.SourceSync,
		IsPending:    tx.Pending,
	}
	if tx.Posted > 0 {
		posted := time.Unix(tx.Posted, 0).UTC()
		rec.Date = time.Date(posted.Year(), posted.Month(), posted.Day(), 0, 0, 0, 0, time.UTC)
	}
	if cents, err := model.ParseCents(tx.Amount); err == nil {
		rec.Amount = model.CentsPtr(-cents)
	}
	return rec
}

func normalizeMerchant(raw string) string {
	merchant := strings.TrimSpace(raw)
	for _, suffix := range []string{" LLC", " INC", " CORP"} {
		if len(merchant) > len(suffix) && strings.EqualFold(merchant[len(merchant)-len(suffix):], suffix) {
			merchant = strings.TrimSpace(merchant[:len(merchant)-len(suffix)])
		}
	}
	return merchant
}

var _ ingest.SyncSource = (*Client)(nil)
