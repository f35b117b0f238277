package cli

import (
	"os"

	"github.com/spigotd/spigot/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// SPIGOT_DATA_DIR env var, or ~/.spigot as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("SPIGOT_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.spigot"
}

// openStore opens the SQLite state store, defaulting to ~/.spigot if no data
// dir was specified.
func openStore() (*store.Store, error) {
	return store.New(resolveDataDir())
}
