package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minSyncInterval     = 1 * time.Second
	minMaxRetry         = 1
	maxMaxRetry         = 20
	minAPITimeout       = 1 * time.Second
	maxTransportRetries = 5
	minProbeInterval    = 1 * time.Second
	minProbeTimeout     = 100 * time.Millisecond
	minLogMaxSizeMB     = 1
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateNotify(&cfg.Notify)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("sync.interval", s.Interval, minSyncInterval)...)

	if s.MaxRetry < minMaxRetry || s.MaxRetry > maxMaxRetry {
		errs = append(errs, fmt.Errorf("sync.max_retry: must be between %d and %d, got %d",
			minMaxRetry, maxMaxRetry, s.MaxRetry))
	}

	if s.Store != StoreSQLite && s.Store != StoreFile {
		errs = append(errs, fmt.Errorf("sync.store: must be %q or %q, got %q", StoreSQLite, StoreFile, s.Store))
	}

	return errs
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	errs = append(errs, validateURL("api.base_url", a.BaseURL)...)
	errs = append(errs, validateDuration("api.timeout", a.Timeout, minAPITimeout)...)

	if a.TransportRetries < 0 || a.TransportRetries > maxTransportRetries {
		errs = append(errs, fmt.Errorf("api.transport_retries: must be between 0 and %d, got %d",
			maxTransportRetries, a.TransportRetries))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.ProbeURL != "" {
		errs = append(errs, validateURL("network.probe_url", n.ProbeURL)...)
	}

	errs = append(errs, validateDuration("network.probe_interval", n.ProbeInterval, minProbeInterval)...)
	errs = append(errs, validateDuration("network.probe_timeout", n.ProbeTimeout, minProbeTimeout)...)

	return errs
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	if a.ClientID == "" {
		errs = append(errs, errors.New("auth.client_id: must not be empty"))
	}

	errs = append(errs, validateURL("auth.device_auth_url", a.DeviceAuthURL)...)
	errs = append(errs, validateURL("auth.token_url", a.TokenURL)...)

	return errs
}

func validateNotify(n *NotifyConfig) []error {
	if n.ListenAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(n.ListenAddr); err != nil {
		return []error{fmt.Errorf("notify.listen_addr: %w", err)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	if l.LogMaxSizeMB < minLogMaxSizeMB {
		errs = append(errs, fmt.Errorf("logging.log_max_size_mb: must be >= %d, got %d",
			minLogMaxSizeMB, l.LogMaxSizeMB))
	}

	if l.LogMaxBackups < 0 {
		errs = append(errs, fmt.Errorf("logging.log_max_backups: must be >= 0, got %d", l.LogMaxBackups))
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

// mustDuration parses a duration that Validate already accepted.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}

// SyncInterval returns the parsed [sync] interval.
func (c *Config) SyncInterval() time.Duration { return mustDuration(c.Sync.Interval) }

// APITimeout returns the parsed [api] timeout.
func (c *Config) APITimeout() time.Duration { return mustDuration(c.API.Timeout) }

// ProbeInterval returns the parsed [network] probe_interval.
func (c *Config) ProbeInterval() time.Duration { return mustDuration(c.Network.ProbeInterval) }

// ProbeTimeout returns the parsed [network] probe_timeout.
func (c *Config) ProbeTimeout() time.Duration { return mustDuration(c.Network.ProbeTimeout) }

// ProbeURL returns the configured probe URL, defaulting to the API's
// health endpoint.
func (c *Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}

	return strings.TrimRight(c.API.BaseURL, "/") + "/health"
}
