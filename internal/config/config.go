// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for journal-sync. Values follow a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Sync    SyncConfig    `toml:"sync" json:"sync"`
	API     APIConfig     `toml:"api" json:"api"`
	Network NetworkConfig `toml:"network" json:"network"`
	Auth    AuthConfig    `toml:"auth" json:"auth"`
	Notify  NotifyConfig  `toml:"notify" json:"notify"`
	Logging LoggingConfig `toml:"logging" json:"logging"`
}

// SyncConfig controls the outbox: how often the daemon drains it, how many
// attempts a mutation gets, and where the queue lives.
type SyncConfig struct {
	Interval string `toml:"interval" json:"interval"`
	MaxRetry int    `toml:"max_retry" json:"max_retry"`
	Store    string `toml:"store" json:"store"`
	StateDir string `toml:"state_dir" json:"state_dir,omitempty"`
}

// APIConfig describes the remote journal service.
type APIConfig struct {
	BaseURL          string `toml:"base_url" json:"base_url"`
	Timeout          string `toml:"timeout" json:"timeout"`
	UserAgent        string `toml:"user_agent" json:"user_agent,omitempty"`
	TransportRetries int    `toml:"transport_retries" json:"transport_retries"`
}

// NetworkConfig selects the connectivity source. When StateFile is set the
// monitor follows that file; otherwise it probes ProbeURL.
type NetworkConfig struct {
	ProbeURL      string `toml:"probe_url" json:"probe_url,omitempty"`
	ProbeInterval string `toml:"probe_interval" json:"probe_interval"`
	ProbeTimeout  string `toml:"probe_timeout" json:"probe_timeout"`
	StateFile     string `toml:"state_file" json:"state_file,omitempty"`
}

// AuthConfig holds the OAuth2 public client used by "login".
type AuthConfig struct {
	ClientID      string   `toml:"client_id" json:"client_id"`
	DeviceAuthURL string   `toml:"device_auth_url" json:"device_auth_url"`
	TokenURL      string   `toml:"token_url" json:"token_url"`
	Scopes        []string `toml:"scopes" json:"scopes"`
}

// NotifyConfig controls the invalidation websocket hub. An empty ListenAddr
// disables it.
type NotifyConfig struct {
	ListenAddr string `toml:"listen_addr" json:"listen_addr,omitempty"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel      string `toml:"log_level" json:"log_level"`
	LogFile       string `toml:"log_file" json:"log_file,omitempty"`
	LogFormat     string `toml:"log_format" json:"log_format"`
	LogMaxSizeMB  int    `toml:"log_max_size_mb" json:"log_max_size_mb"`
	LogMaxBackups int    `toml:"log_max_backups" json:"log_max_backups"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	StateDir   string // --state-dir
	APIURL     string // --api-url
}
