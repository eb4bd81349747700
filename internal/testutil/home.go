// Package testutil provides common test utilities.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SetupTestHome creates an isolated $HOME directory for tests. This matters
// because the PID tracker reads and writes ~/.config/mcptap/pids.json and
// orphan cleanup could otherwise signal real processes.
//
// The temp directory is cleaned up automatically when the test ends.
func SetupTestHome(t *testing.T) string {
	t.Helper()

	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpHome, ".config"))

	configDir := filepath.Join(tmpHome, ".config", "mcptap")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("create test config dir: %v", err)
	}

	return tmpHome
}
