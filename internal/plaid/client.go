// Package plaid adapts the Plaid transactions sync API to a cursor-based
// sync source.
package plaid

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/model"
)

// DefaultPageSize is the largest page /transactions/sync hands out.
const DefaultPageSize = 500

// Config holds Plaid API configuration.
type Config struct {
	AccessTokens map[string]string // Account name to item access token
	ClientID     string
	Secret       string
	Environment  string // sandbox or production
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.Environment == "" {
		return fmt.Errorf("plaid environment is required")
	}
	switch c.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
	if len(c.AccessTokens) == 0 {
		return fmt.Errorf("at least one plaid access token is required")
	}
	for account, token := range c.AccessTokens {
		if strings.TrimSpace(token) == "" {
			return fmt.Errorf("plaid access token for %q is empty", account)
		}
	}
	return nil
}

// Client implements ingest.SyncSource.
type Client struct {
	api      SyncAPI
	tokens   map[string]string
	logger   *slog.Logger
	pageSize int32
}

// NewClient creates a new Plaid client with the given configuration.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)
	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return NewClientWithAPI(&apiAdapter{client: plaid.NewAPIClient(configuration)}, cfg.AccessTokens), nil
}

// NewClientWithAPI builds a client over an existing SyncAPI.
func NewClientWithAPI(api SyncAPI, tokens map[string]string) *Client {
	return &Client{
		api:      api,
		tokens:   tokens,
		logger:   slog.Default().With("component", "plaid"),
		pageSize: DefaultPageSize,
	}
}

// Accounts lists the configured account names in sorted order.
func (c *Client) Accounts() []string {
	accounts := make([]string, 0, len(c.tokens))
	for account := range c.tokens {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	return accounts
}

// Fetch returns one page of changes for accountID since cursor.
// Retries are left to the caller; rate limits come back retryable and
// everything Plaid rejects outright does not.
func (c *Client) Fetch(ctx context.Context, accountID, cursor string) (ingest.SyncPage, error) {
	token, ok := c.tokens[accountID]
	if !ok {
		return ingest.SyncPage{}, &common.RetryableError{
			Err:       fmt.Errorf("no plaid access token configured for account %q", accountID),
			Retryable: false,
		}
	}

	request := plaid.NewTransactionsSyncRequest(token)
	if cursor != "" {
		request.SetCursor(cursor)
	}
	request.SetCount(c.pageSize)

	resp, err := c.api.TransactionsSync(ctx, *request)
	if err != nil {
		return ingest.SyncPage{}, c.classify(err)
	}

	page := ingest.SyncPage{
		NextCursor: resp.GetNextCursor(),
		HasMore:    resp.GetHasMore(),
	}
	for _, pt := range resp.GetAdded() {
		page.Added = append(page.Added, c.toRecord(pt))
	}
	for _, pt := range resp.GetModified() {
		page.Modified = append(page.Modified, c.toRecord(pt))
	}
	for _, rt := range resp.GetRemoved() {
		if id := rt.GetTransactionId(); id != "" {
			page.Removed = append(page.Removed, id)
		}
	}

	c.logger.Debug("Fetched sync page",
		"account_id", accountID,
		"added", len(page.Added),
		"modified", len(page.Modified),
		"removed", len(page.Removed),
		"has_more", page.HasMore)
	return page, nil
}

func (c *Client) classify(err error) error {
	plaidError := extractPlaidError(err)
	if plaidError == nil {
		return fmt.Errorf("failed to sync transactions: %w", err)
	}
	apiErr := fmt.Errorf("plaid API error: %s - %s", plaidError.ErrorCode, plaidError.ErrorMessage)
	switch plaidError.ErrorCode {
	case "RATE_LIMIT_EXCEEDED":
		c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
		return fmt.Errorf("%w: %w", common.ErrRateLimit, apiErr)
	case "TRANSACTIONS_SYNC_MUTATION_DURING_PAGINATION", "PRODUCT_NOT_READY", "INTERNAL_SERVER_ERROR":
		return apiErr
	}
	return &common.RetryableError{Err: apiErr, Retryable: false}
}

// toRecord converts a Plaid transaction. Plaid amounts are positive for
// money leaving the account, which is the sign tally stores. An unparseable
// date leaves Date zero so ingest rejects the record.
func (c *Client) toRecord(pt plaid.Transaction) model.RawRecord {
	rec := model.RawRecord{
		ExternalID:        pt.GetTransactionId(),
		PendingExternalID: pt.GetPendingTransactionId(),
		AccountID:         pt.GetAccountId(),
		Description:       strings.TrimSpace(pt.GetName()),
		MerchantName:      cleanMerchantName(pt.GetMerchantName()),
		Amount:            model.CentsPtr(model.CentsFromFloat(pt.GetAmount())),
		Source:            model.SourceSync,
		IsPending:         pt.GetPending(),
	}
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		c.logger.Warn("Failed to parse transaction date",
			"transaction_id", rec.ExternalID,
			"date", pt.GetDate(),
			"error", err)
		return rec
	}
	rec.Date = date
	return rec
}

// cleanMerchantName standardizes merchant names by removing common suffixes and normalizing format.
func cleanMerchantName(name string) string {
	words := strings.Fields(strings.ToLower(name))
	for i, word := range words {
		runes := []rune(word)
		for j := range runes {
			if j == 0 || !isLetter(runes[j-1]) {
				runes[j] = toUpper(runes[j])
			}
		}
		words[i] = string(runes)
	}

	// "MERCHANT 123456789": a long trailing number is a reference, not a name
	if len(words) > 1 {
		last := words[len(words)-1]
		if len(last) > 5 && isAllDigits(last) {
			words = words[:len(words)-1]
		}
	}
	name = strings.Join(words, " ")

	suffixes := []string{" Llc", " Inc", " Corp", " Corporation", " Company", " Co", " Ltd", " Limited"}
	for changed := true; changed; {
		changed = false
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				changed = true
			}
		}
	}
	return strings.TrimSpace(name)
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

var _ ingest.SyncSource = (*Client)(nil)
