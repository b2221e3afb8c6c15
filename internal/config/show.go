package config

import (
	"fmt"
	"io"
	"strings"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers "config show".
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[sync]\n")
	ew.printf("  interval    = %q\n", cfg.Sync.Interval)
	ew.printf("  max_retry   = %d\n", cfg.Sync.MaxRetry)
	ew.printf("  store       = %q\n", cfg.Sync.Store)
	ew.printf("  state_dir   = %q\n", cfg.StateDir())
	ew.printf("\n")

	ew.printf("[api]\n")
	ew.printf("  base_url          = %q\n", cfg.API.BaseURL)
	ew.printf("  timeout           = %q\n", cfg.API.Timeout)
	ew.printf("  transport_retries = %d\n", cfg.API.TransportRetries)

	if cfg.API.UserAgent != "" {
		ew.printf("  user_agent        = %q\n", cfg.API.UserAgent)
	}

	ew.printf("\n")

	ew.printf("[network]\n")

	if cfg.Network.StateFile != "" {
		ew.printf("  state_file     = %q\n", cfg.Network.StateFile)
	} else {
		ew.printf("  probe_url      = %q\n", cfg.ProbeURL())
		ew.printf("  probe_interval = %q\n", cfg.Network.ProbeInterval)
		ew.printf("  probe_timeout  = %q\n", cfg.Network.ProbeTimeout)
	}

	ew.printf("\n")

	ew.printf("[auth]\n")
	ew.printf("  client_id       = %q\n", cfg.Auth.ClientID)
	ew.printf("  device_auth_url = %q\n", cfg.Auth.DeviceAuthURL)
	ew.printf("  token_url       = %q\n", cfg.Auth.TokenURL)
	ew.printf("  scopes          = [%s]\n", joinQuoted(cfg.Auth.Scopes))
	ew.printf("\n")

	if cfg.Notify.ListenAddr != "" {
		ew.printf("[notify]\n")
		ew.printf("  listen_addr = %q\n", cfg.Notify.ListenAddr)
		ew.printf("\n")
	}

	ew.printf("[logging]\n")
	ew.printf("  log_level       = %q\n", cfg.Logging.LogLevel)
	ew.printf("  log_format      = %q\n", cfg.Logging.LogFormat)

	if cfg.Logging.LogFile != "" {
		ew.printf("  log_file        = %q\n", cfg.Logging.LogFile)
		ew.printf("  log_max_size_mb = %d\n", cfg.Logging.LogMaxSizeMB)
		ew.printf("  log_max_backups = %d\n", cfg.Logging.LogMaxBackups)
	}

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
