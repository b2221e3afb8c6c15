package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Platform identifiers.
const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// Application directory name used across all platforms.
const appName = "journal-sync"

// File names inside the config and state directories.
const (
	configFileName = "config.toml"
	queueDBName    = "queue.db"
	queueFileName  = "sync_queue.json"
	sessionName    = "session.json"
	pidFileName    = "watch.pid"
)

// DefaultConfigDir returns the platform-specific directory for config files.
// On Linux, respects XDG_CONFIG_HOME (defaults to ~/.config/journal-sync).
// On macOS, uses ~/Library/Application Support/journal-sync.
// Other platforms fall back to ~/.config/journal-sync.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", home, ".config")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform-specific directory for application
// state (queue, session, PID file).
// On Linux, respects XDG_DATA_HOME (defaults to ~/.local/share/journal-sync).
// On macOS, config and data share ~/Library/Application Support/journal-sync.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", home, ".local", "share")
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

// xdgDir returns $env/journal-sync, or home/fallback.../journal-sync when
// the variable is unset.
func xdgDir(env, home string, fallback ...string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	parts := append([]string{home}, fallback...)

	return filepath.Join(append(parts, appName)...)
}

// DefaultConfigPath returns the full path to the default config file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// StateDir returns the configured state directory, or the platform data
// directory when none is set.
func (c *Config) StateDir() string {
	if c.Sync.StateDir != "" {
		return c.Sync.StateDir
	}

	return DefaultDataDir()
}

// QueuePath returns the queue location for the configured store backend.
func (c *Config) QueuePath() string {
	if c.Sync.Store == StoreFile {
		return filepath.Join(c.StateDir(), queueFileName)
	}

	return filepath.Join(c.StateDir(), queueDBName)
}

// SessionPath returns the token file location.
func (c *Config) SessionPath() string {
	return filepath.Join(c.StateDir(), sessionName)
}

// PIDPath returns the watch daemon's PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.StateDir(), pidFileName)
}
