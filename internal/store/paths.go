package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is the sqlite database created under the abm home directory.
const DefaultFileName = "abm.db"

// HomePath returns the path to the user's .abm directory.
// On Unix: ~/.abm
// On Windows: %USERPROFILE%\.abm
func HomePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".abm"), nil
}

// DefaultSQLitePath returns ~/.abm/abm.db, creating ~/.abm if needed.
func DefaultSQLitePath() (string, error) {
	home, err := HomePath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", home, err)
	}
	return filepath.Join(home, DefaultFileName), nil
}
