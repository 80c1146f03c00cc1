package config

import (
	"os"
	"path/filepath"
)

const appName = "signdrill"

// xdgHome returns $env, else $HOME joined with fallback, else ".".
func xdgHome(env string, fallback ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// XDGConfigHome returns the XDG config home.
func XDGConfigHome() string {
	return xdgHome("XDG_CONFIG_HOME", ".config")
}

// XDGDataHome returns the XDG data home.
func XDGDataHome() string {
	return xdgHome("XDG_DATA_HOME", ".local", "share")
}

func dataPath(name string) string {
	return filepath.Join(XDGDataHome(), appName, name)
}

// DefaultDBPath returns the default path for the SQLite database.
func DefaultDBPath() string { return dataPath(appName + ".db") }

// DefaultModelCacheDir returns the directory model assets are downloaded to.
func DefaultModelCacheDir() string { return dataPath("model") }

// DefaultLogPath returns the log file used while a TUI owns the terminal.
func DefaultLogPath() string { return dataPath(appName + ".log") }

// DefaultConfigPath returns the default TOML config path.
func DefaultConfigPath() string {
	return filepath.Join(XDGConfigHome(), appName, "config.toml")
}
