package simplefin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AuthState is a claimed access URL saved to disk.
type AuthState struct {
	ClaimedAt time.Time `json:"claimed_at"`
	AccessURL string    `json:"access_url"`
	TokenHint string    `json:"token_hint"`
}

// Claim exchanges a one-time setup token for an access URL. Setup tokens are
// base64-encoded claim URLs; claiming one twice fails.
func Claim(ctx context.Context, httpClient *http.Client, token string) (string, error) {
	token = strings.TrimSpace(token)
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		if decoded, err = base64.StdEncoding.DecodeString(token); err != nil {
			return "", fmt.Errorf("failed to decode simplefin setup token: %w", err)
		}
	}
	claimURL := string(decoded)
	if !isHTTPURL(claimURL) {
		return "", errors.New("simplefin setup token does not contain a claim URL")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, claimURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create claim request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to claim access url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read claim response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("simplefin claim failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	accessURL := strings.TrimSpace(string(body))
	if !isHTTPURL(accessURL) {
		return "", errors.New("simplefin claim returned an invalid access url")
	}
	return accessURL, nil
}

// SaveAuth writes the access URL to path, readable only by the owner.
func SaveAuth(path, accessURL, token string) error {
	state := AuthState{ClaimedAt: time.Now().UTC(), AccessURL: accessURL, TokenHint: tokenHint(token)}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode simplefin auth: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create auth directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to save simplefin auth: %w", err)
	}
	return nil
}

// LoadAuth reads a saved access URL. A missing file returns os.ErrNotExist.
func LoadAuth(path string) (*AuthState, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var state AuthState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse simplefin auth: %w", err)
	}
	if state.AccessURL == "" {
		return nil, fmt.Errorf("simplefin auth file %s has no access url", path)
	}
	return &state, nil
}

// ResolveAccessURL returns cfg.AccessURL, falling back to the saved auth file.
func ResolveAccessURL(cfg Config) (string, error) {
	if cfg.AccessURL != "" {
		return cfg.AccessURL, nil
	}
	if cfg.AuthFile == "" {
		return "", os.ErrNotExist
	}
	state, err := LoadAuth(cfg.AuthFile)
	if err != nil {
		return "", err
	}
	return state.AccessURL, nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func tokenHint(token string) string {
	if len(token) > 16 {
		return token[:6] + "..." + token[len(token)-6:]
	}
	return ""
}
