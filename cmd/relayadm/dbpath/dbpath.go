// Package dbpath resolves the SQLite database location shared by the
// relayadm subcommands.
package dbpath

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolve returns the database path to operate on: the explicit flag value
// if given, the RELAY_DB environment variable, or ~/.relay/relay.db.
func Resolve(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("RELAY_DB"); env != "" {
		return env, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".relay", "relay.db"), nil
}
