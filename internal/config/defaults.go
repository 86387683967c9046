package config

import (
	"os"
	"path/filepath"
)

// DataDir returns the helper data directory, honoring WEBIME_DATA_DIR and
// then XDG_DATA_HOME.
func DataDir() string {
	if dir := os.Getenv("WEBIME_DATA_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// ConfigDir returns the directory holding config.toml.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the directory for logs.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", ".local", "state")
}

func xdgDir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(append([]string{home}, fallback...)...)
	}
	return filepath.Join(base, "webime")
}
