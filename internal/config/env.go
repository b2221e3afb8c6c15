package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig   = "JOURNAL_SYNC_CONFIG"
	EnvStateDir = "JOURNAL_SYNC_STATE_DIR"
	EnvAPIURL   = "JOURNAL_SYNC_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // JOURNAL_SYNC_CONFIG: override config file path
	StateDir   string // JOURNAL_SYNC_STATE_DIR: queue and session location
	APIURL     string // JOURNAL_SYNC_API_URL: remote base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		StateDir:   os.Getenv(EnvStateDir),
		APIURL:     os.Getenv(EnvAPIURL),
	}
}
