package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Probe defaults, used when the config leaves them zero.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
	minProbeInterval     = 1 * time.Second
)

// probeConnType is the connection type reported by probe events.
const probeConnType = "http"

// ProbeSource infers connectivity by periodically fetching a health URL. Any
// HTTP response below 500 counts as online: the network path works even if
// the service is unhappy with the request.
type ProbeSource struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
	logger   *slog.Logger

	sleepFunc func(ctx context.Context, d time.Duration) error // injectable for testing
}

// NewProbeSource creates a ProbeSource. Zero durations take the defaults;
// client may be nil.
func NewProbeSource(url string, interval, timeout time.Duration, client *http.Client, logger *slog.Logger) *ProbeSource {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}

	if interval < minProbeInterval {
		interval = minProbeInterval
	}

	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	if client == nil {
		client = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &ProbeSource{
		url:       url,
		interval:  interval,
		timeout:   timeout,
		client:    client,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Watch probes immediately, then every interval, emitting only when the
// result differs from the previous probe.
func (p *ProbeSource) Watch(ctx context.Context, events chan<- ConnectivityEvent) error {
	var (
		last  bool
		first = true
	)

	for {
		online := p.Probe(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if first || online != last {
			first = false
			last = online

			if !sendEvent(ctx, events, ConnectivityEvent{IsConnected: online, Type: probeConnType}) {
				return nil
			}
		}

		if sleepErr := p.sleepFunc(ctx, p.interval); sleepErr != nil {
			return nil
		}
	}
}

// Current probes once and reports the result as an event.
func (p *ProbeSource) Current(ctx context.Context) ConnectivityEvent {
	return ConnectivityEvent{IsConnected: p.Probe(ctx), Type: probeConnType}
}

// Probe performs one health check.
func (p *ProbeSource) Probe(ctx context.Context) bool {
	err := p.probe(ctx)
	if err != nil {
		p.logger.Debug("connectivity probe failed",
			slog.String("url", p.url),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

func (p *ProbeSource) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("sync: creating probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused by the next probe.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("sync: probe returned HTTP %d", resp.StatusCode)
	}

	return nil
}
