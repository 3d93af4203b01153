// Package config loads tally's settings from the config file, TALLY_
// environment variables and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath substitutes $VARS, resolves a leading ~ to the home directory
// and cleans the result. An empty path stays empty.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return filepath.Clean(path)
}

// Dir is where the config file, database and credentials live by default:
// $XDG_CONFIG_HOME/tally when set, otherwise ~/.config/tally.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(ExpandPath(xdg), "tally")
	}
	return ExpandPath("~/.config/tally")
}
