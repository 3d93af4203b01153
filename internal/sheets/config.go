// Package sheets exports spending reports to a Google spreadsheet.
package sheets

import (
	"fmt"
	"time"

	"github.com/Veraticus/tally/internal/common"
)

// Tab titles written by the exporter.
const (
	SpendingTab     = "Spending"
	TransactionsTab = "Transactions"
)

// Config holds credentials and the target spreadsheet.
type Config struct {
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	ServiceAccountPath string
	SpreadsheetID      string // Empty creates a new spreadsheet on each export
	SpreadsheetName    string
	TimeZone           string
	RetryAttempts      int
	RetryDelay         time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SpreadsheetName: "Tally Report",
		TimeZone:        "UTC",
		RetryAttempts:   3,
		RetryDelay:      time.Second,
	}
}

// Enabled reports whether any credential is configured.
func (c Config) Enabled() bool {
	return c.ServiceAccountPath != "" || c.RefreshToken != ""
}

// Validate checks that exactly one authentication method is configured.
func (c Config) Validate() error {
	hasOAuth := c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
	hasServiceAccount := c.ServiceAccountPath != ""

	if !hasOAuth && !hasServiceAccount {
		return fmt.Errorf("%w: sheets needs service_account_path or client_id, client_secret and refresh_token", common.ErrMissingConfig)
	}
	if hasOAuth && hasServiceAccount {
		return fmt.Errorf("%w: sheets has both OAuth and service account credentials", common.ErrInvalidConfig)
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("%w: sheets.retry_attempts must be positive", common.ErrInvalidConfig)
	}
	if c.SpreadsheetID == "" && c.SpreadsheetName == "" {
		return fmt.Errorf("%w: sheets.spreadsheet_name", common.ErrMissingConfig)
	}
	return nil
}
