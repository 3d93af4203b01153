package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/dedup"
)

func fromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, filepath.Join(Dir(), "tally.db"), cfg.Database.Path)
	assert.Equal(t, 3, cfg.Cascade.AutoConfirmThreshold)
	assert.Equal(t, 50, cfg.Cascade.ExemplarLimit)
	assert.Equal(t, 20*time.Second, cfg.Cascade.AITimeout)
	assert.Equal(t, 100, cfg.Learning.MaxConfidence)
	assert.Equal(t, dedup.ModeExact, cfg.Dedup.Mode)
	assert.InDelta(t, 0.15, cfg.Dedup.MaxDistanceRatio, 1e-9)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.False(t, cfg.Server.TLS)
	assert.Equal(t, filepath.Join(Dir(), "simplefin.json"), cfg.SimpleFIN.AuthFile)
	assert.Equal(t, 90*24*time.Hour, cfg.SimpleFIN.Lookback)
	assert.Equal(t, filepath.Join(Dir(), "certs"), cfg.Server.CertDir)
	assert.Equal(t, "Tally Report", cfg.Sheets.SpreadsheetName)
	assert.False(t, cfg.Sheets.Enabled())
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.False(t, cfg.LLMEnabled)
	assert.False(t, cfg.PlaidEnabled)
}

func TestLoadFrom_File(t *testing.T) {
	v := fromYAML(t, `
database:
  path: /tmp/tally-test.db
cascade:
  auto_confirm_threshold: 5
  ai_timeout: 3s
dedup:
  mode: FUZZY
  date_window_days: 2
llm:
  provider: openai
  api_key: sk-test
  max_retries: 4
plaid:
  client_id: id
  secret: shh
  access_tokens:
    checking: access-sandbox-1
    visa: access-sandbox-2
sheets:
  service_account_path: /etc/tally/sa.json
  spreadsheet_id: sheet-1
`)
	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tally-test.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Cascade.AutoConfirmThreshold)
	assert.Equal(t, 3*time.Second, cfg.Cascade.AITimeout)
	assert.Equal(t, 4, cfg.Cascade.Retry.MaxAttempts)
	assert.Equal(t, dedup.ModeFuzzy, cfg.Dedup.Mode)
	assert.Equal(t, 2, cfg.Dedup.DateWindowDays)
	assert.True(t, cfg.LLMEnabled)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.True(t, cfg.PlaidEnabled)
	assert.Equal(t, "sandbox", cfg.Plaid.Environment)
	assert.Equal(t, map[string]string{"checking": "access-sandbox-1", "visa": "access-sandbox-2"}, cfg.Plaid.AccessTokens)
	assert.True(t, cfg.Sheets.Enabled())
	assert.Equal(t, "/etc/tally/sa.json", cfg.Sheets.ServiceAccountPath)
	assert.Equal(t, "sheet-1", cfg.Sheets.SpreadsheetID)
	assert.Equal(t, 3, cfg.Sheets.RetryAttempts)
}

func TestLoadFrom_Environment(t *testing.T) {
	t.Setenv("TALLY_LLM_API_KEY", "from-env")
	t.Setenv("TALLY_SERVER_ADDR", "127.0.0.1:9000")

	cfg, err := LoadFrom(viper.New())
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.True(t, cfg.LLMEnabled)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "threshold below one", doc: "cascade:\n  auto_confirm_threshold: 0\n"},
		{name: "unknown dedup mode", doc: "dedup:\n  mode: soundex\n"},
		{name: "unknown provider", doc: "llm:\n  provider: claudecode\n"},
		{name: "bad log level", doc: "logging:\n  level: loud\n"},
		{name: "bad log format", doc: "logging:\n  format: xml\n"},
		{name: "partial plaid credentials", doc: "plaid:\n  client_id: id\n"},
		{name: "partial sheets credentials", doc: "sheets:\n  refresh_token: r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(fromYAML(t, tt.doc))
			require.ErrorIs(t, err, common.ErrInvalidConfig)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("TALLY_TEST_DIR", "/data")

	assert.Equal(t, "", ExpandPath(""))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, filepath.Join(home, "x.db"), ExpandPath("~/x.db"))
	assert.Equal(t, "/data/x.db", ExpandPath("$TALLY_TEST_DIR/x.db"))
	assert.Equal(t, "/abs/x.db", ExpandPath("/abs/x.db"))
	assert.Equal(t, "/abs/x.db", ExpandPath("/abs//data/../x.db"))
}

func TestDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/tally", Dir())

	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "tally"), Dir())
}
