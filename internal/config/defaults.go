package config

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultSyncInterval     = "30s"
	defaultMaxRetry         = 3
	defaultStore            = StoreSQLite
	defaultBaseURL          = "https://api.journal.example.com/v1"
	defaultAPITimeout       = "30s"
	defaultTransportRetries = 2
	defaultProbeInterval    = "15s"
	defaultProbeTimeout     = "5s"
	defaultClientID         = "journal-sync-cli"
	defaultDeviceAuthURL    = "https://auth.journal.example.com/oauth2/device"
	defaultTokenURL         = "https://auth.journal.example.com/oauth2/token"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogMaxSizeMB     = 10
	defaultLogMaxBackups    = 3
)

// Queue store backends.
const (
	StoreSQLite = "sqlite"
	StoreFile   = "file"
)

var defaultScopes = []string{"journal.write", "offline_access"}

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep defaults.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval: defaultSyncInterval,
			MaxRetry: defaultMaxRetry,
			Store:    defaultStore,
		},
		API: APIConfig{
			BaseURL:          defaultBaseURL,
			Timeout:          defaultAPITimeout,
			TransportRetries: defaultTransportRetries,
		},
		Network: NetworkConfig{
			ProbeInterval: defaultProbeInterval,
			ProbeTimeout:  defaultProbeTimeout,
		},
		Auth: AuthConfig{
			ClientID:      defaultClientID,
			DeviceAuthURL: defaultDeviceAuthURL,
			TokenURL:      defaultTokenURL,
			Scopes:        append([]string(nil), defaultScopes...),
		},
		Logging: LoggingConfig{
			LogLevel:      defaultLogLevel,
			LogFormat:     defaultLogFormat,
			LogMaxSizeMB:  defaultLogMaxSizeMB,
			LogMaxBackups: defaultLogMaxBackups,
		},
	}
}
