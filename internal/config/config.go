package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/dedup"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/ingest"
	"github.com/Veraticus/tally/internal/llm"
	"github.com/Veraticus/tally/internal/plaid"
	"github.com/Veraticus/tally/internal/sheets"
	"github.com/Veraticus/tally/internal/simplefin"
)

// EnvPrefix prefixes every environment override, e.g. TALLY_LLM_API_KEY.
const EnvPrefix = "TALLY"

// Config is the fully resolved application configuration.
type Config struct {
	Plaid     plaid.Config
	SimpleFIN simplefin.Config
	Sheets    sheets.Config
	LLM       llm.Config
	Logging   Logging
	Database  Database
	Server    Server
	Dedup     dedup.Policy
	Ingest    ingest.Config
	Cascade   engine.Config
	Learning  Learning
	// LLMEnabled is false when no provider key is configured; the AI tier is skipped.
	LLMEnabled bool
	// PlaidEnabled is false when no Plaid credentials are configured.
	PlaidEnabled bool
}

// Logging selects the slog level and handler.
type Logging struct {
	Level  string
	Format string
}

// Database locates the SQLite file and its backups.
type Database struct {
	Path      string
	BackupDir string
}

// Server configures the HTTP adapter.
type Server struct {
	Addr            string
	CertDir         string // Self-signed localhost certificate, used when TLS is set
	ShutdownTimeout time.Duration
	TLS             bool
}

// Learning bounds mapping confidence.
type Learning struct {
	MaxConfidence int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	cascade := engine.DefaultConfig()
	sync := ingest.DefaultConfig()
	policy := dedup.DefaultPolicy()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("database.path", filepath.Join(Dir(), "tally.db"))
	v.SetDefault("database.backup_dir", filepath.Join(Dir(), "backups"))

	v.SetDefault("cascade.auto_confirm_threshold", cascade.AutoConfirmThreshold)
	v.SetDefault("cascade.exemplar_limit", cascade.ExemplarLimit)
	v.SetDefault("cascade.ai_timeout", cascade.AITimeout)

	v.SetDefault("learning.max_confidence", 100)

	v.SetDefault("dedup.mode", string(policy.Mode))
	v.SetDefault("dedup.max_distance_ratio", policy.MaxDistanceRatio)
	v.SetDefault("dedup.date_window_days", policy.DateWindowDays)

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.max_retries", cascade.Retry.MaxAttempts)
	v.SetDefault("llm.retry_delay", cascade.Retry.InitialDelay)
	v.SetDefault("llm.rate_limit", 60)
	v.SetDefault("llm.cache_ttl", 24*time.Hour)

	v.SetDefault("plaid.environment", "sandbox")
	v.SetDefault("simplefin.auth_file", filepath.Join(Dir(), "simplefin.json"))
	v.SetDefault("simplefin.lookback", 90*24*time.Hour)
	sheetDefaults := sheets.DefaultConfig()
	v.SetDefault("sheets.spreadsheet_name", sheetDefaults.SpreadsheetName)
	v.SetDefault("sheets.timezone", sheetDefaults.TimeZone)
	v.SetDefault("sheets.retry_attempts", sheetDefaults.RetryAttempts)
	v.SetDefault("sheets.retry_delay", sheetDefaults.RetryDelay)
	v.SetDefault("sync.fetch_timeout", sync.FetchTimeout)
	v.SetDefault("sync.max_pages", sync.MaxPages)
	v.SetDefault("sync.max_retries", sync.Retry.MaxAttempts)
	v.SetDefault("sync.retry_delay", sync.Retry.InitialDelay)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.tls", false)
	v.SetDefault("server.cert_dir", filepath.Join(Dir(), "certs"))
}

// Load resolves the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom resolves and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		Logging: Logging{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Database: Database{
			Path:      ExpandPath(v.GetString("database.path")),
			BackupDir: ExpandPath(v.GetString("database.backup_dir")),
		},
		Server: Server{
			Addr:            v.GetString("server.addr"),
			CertDir:         ExpandPath(v.GetString("server.cert_dir")),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			TLS:             v.GetBool("server.tls"),
		},
		Learning: Learning{MaxConfidence: v.GetInt("learning.max_confidence")},
		Dedup: dedup.Policy{
			Mode:             dedup.Mode(strings.ToLower(v.GetString("dedup.mode"))),
			MaxDistanceRatio: v.GetFloat64("dedup.max_distance_ratio"),
			DateWindowDays:   v.GetInt("dedup.date_window_days"),
		},
	}

	cfg.Cascade = engine.DefaultConfig()
	cfg.Cascade.AutoConfirmThreshold = v.GetInt("cascade.auto_confirm_threshold")
	cfg.Cascade.ExemplarLimit = v.GetInt("cascade.exemplar_limit")
	cfg.Cascade.AITimeout = v.GetDuration("cascade.ai_timeout")
	cfg.Cascade.Retry.MaxAttempts = v.GetInt("llm.max_retries")
	cfg.Cascade.Retry.InitialDelay = v.GetDuration("llm.retry_delay")

	cfg.Ingest = ingest.DefaultConfig()
	cfg.Ingest.FetchTimeout = v.GetDuration("sync.fetch_timeout")
	cfg.Ingest.MaxPages = v.GetInt("sync.max_pages")
	cfg.Ingest.Retry.MaxAttempts = v.GetInt("sync.max_retries")
	cfg.Ingest.Retry.InitialDelay = v.GetDuration("sync.retry_delay")

	cfg.LLM = llm.Config{
		Provider:    strings.ToLower(v.GetString("llm.provider")),
		APIKey:      v.GetString("llm.api_key"),
		Model:       v.GetString("llm.model"),
		BaseURL:     v.GetString("llm.base_url"),
		CacheTTL:    v.GetDuration("llm.cache_ttl"),
		RateLimit:   v.GetInt("llm.rate_limit"),
		Temperature: v.GetFloat64("llm.temperature"),
		MaxTokens:   v.GetInt("llm.max_tokens"),
	}
	cfg.LLMEnabled = cfg.LLM.APIKey != ""

	cfg.Plaid = plaid.Config{
		ClientID:     v.GetString("plaid.client_id"),
		Secret:       v.GetString("plaid.secret"),
		Environment:  v.GetString("plaid.environment"),
		AccessTokens: v.GetStringMapString("plaid.access_tokens"),
	}
	cfg.PlaidEnabled = cfg.Plaid.ClientID != "" || cfg.Plaid.Secret != ""

	cfg.SimpleFIN = simplefin.Config{
		AccessURL: v.GetString("simplefin.access_url"),
		AuthFile:  ExpandPath(v.GetString("simplefin.auth_file")),
		Lookback:  v.GetDuration("simplefin.lookback"),
	}

	cfg.Sheets = sheets.Config{
		ClientID:           v.GetString("sheets.client_id"),
		ClientSecret:       v.GetString("sheets.client_secret"),
		RefreshToken:       v.GetString("sheets.refresh_token"),
		ServiceAccountPath: ExpandPath(v.GetString("sheets.service_account_path")),
		SpreadsheetID:      v.GetString("sheets.spreadsheet_id"),
		SpreadsheetName:    v.GetString("sheets.spreadsheet_name"),
		TimeZone:           v.GetString("sheets.timezone"),
		RetryAttempts:      v.GetInt("sheets.retry_attempts"),
		RetryDelay:         v.GetDuration("sheets.retry_delay"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "console", "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", common.ErrInvalidConfig, c.Logging.Format)
	}
	if err := c.Cascade.Validate(); err != nil {
		return err
	}
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if c.Learning.MaxConfidence < 1 {
		return fmt.Errorf("%w: learning.max_confidence must be at least 1", common.ErrInvalidConfig)
	}
	if c.Ingest.FetchTimeout <= 0 {
		return fmt.Errorf("%w: sync.fetch_timeout must be positive", common.ErrInvalidConfig)
	}
	switch c.LLM.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("%w: unsupported llm.provider %q", common.ErrInvalidConfig, c.LLM.Provider)
	}
	if c.SimpleFIN.Lookback <= 0 {
		return fmt.Errorf("%w: simplefin.lookback must be positive", common.ErrInvalidConfig)
	}
	if c.Sheets.Enabled() {
		if err := c.Sheets.Validate(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
		}
	}
	if c.PlaidEnabled {
		if err := c.Plaid.Validate(); err != nil {
			return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
		}
	}
	return nil
}
