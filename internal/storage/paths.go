package storage

import (
	"os"
	"path/filepath"
)

const appName = ".reflex"

// DefaultStoragePath returns the default storage location for reflex
// Platform-specific paths:
//   - macOS/Linux: ~/.reflex
//   - Windows: %USERPROFILE%\.reflex
func DefaultStoragePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, appName), nil
}
