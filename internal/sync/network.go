package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
)

// connectivityEventBuf is the buffer between a source and the monitor.
const connectivityEventBuf = 16

// ConnectivityEvent is one report from the platform's connectivity signal.
type ConnectivityEvent struct {
	IsConnected bool
	Type        string // e.g. "wifi", "cellular", "http"
}

// ConnectivitySource delivers connectivity changes until ctx is canceled.
// Watch must return nil on clean cancellation.
type ConnectivitySource interface {
	Watch(ctx context.Context, events chan<- ConnectivityEvent) error
}

// sampler is implemented by sources that can report their state on demand.
type sampler interface {
	Current(ctx context.Context) ConnectivityEvent
}

// NetworkMonitor tracks whether the device is online. It is a pure observer:
// on an offline-to-online edge it calls the wake function and nothing else.
// The monitor starts offline until its source reports.
type NetworkMonitor struct {
	source ConnectivitySource
	logger *slog.Logger

	online atomic.Bool

	mu       stdsync.Mutex
	connType string
}

// NewNetworkMonitor creates a monitor over source.
func NewNetworkMonitor(source ConnectivitySource, logger *slog.Logger) *NetworkMonitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &NetworkMonitor{source: source, logger: logger}
}

// IsOnline reports the last observed state.
func (m *NetworkMonitor) IsOnline() bool {
	return m.online.Load()
}

// ConnectionType reports the type from the last event.
func (m *NetworkMonitor) ConnectionType() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connType
}

// Observe applies one event and reports whether it was an offline-to-online
// edge.
func (m *NetworkMonitor) Observe(ev ConnectivityEvent) bool {
	m.mu.Lock()
	m.connType = ev.Type
	m.mu.Unlock()

	was := m.online.Swap(ev.IsConnected)
	if was == ev.IsConnected {
		return false
	}

	if ev.IsConnected {
		m.logger.Info("network online", slog.String("type", ev.Type))
		return true
	}

	m.logger.Info("network offline", slog.String("type", ev.Type))

	return false
}

// Refresh samples the source once and returns the resulting state. Used by
// one-shot commands that never call Run. Sources that cannot be sampled
// leave the state unchanged.
func (m *NetworkMonitor) Refresh(ctx context.Context) bool {
	if s, ok := m.source.(sampler); ok {
		m.Observe(s.Current(ctx))
	}

	return m.IsOnline()
}

// Run consumes the source until ctx is canceled, calling wake on every
// offline-to-online edge. wake must not block.
func (m *NetworkMonitor) Run(ctx context.Context, wake func()) error {
	events := make(chan ConnectivityEvent, connectivityEventBuf)
	errc := make(chan error, 1)

	go func() {
		errc <- m.source.Watch(ctx, events)
	}()

	for {
		select {
		case ev := <-events:
			m.apply(ev, wake)

		case err := <-errc:
			m.drain(events, wake)

			if err != nil && ctx.Err() == nil {
				m.logger.Error("connectivity source stopped", slog.String("error", err.Error()))
				return err
			}

			return nil

		case <-ctx.Done():
			return nil
		}
	}
}

func (m *NetworkMonitor) apply(ev ConnectivityEvent, wake func()) {
	if m.Observe(ev) && wake != nil {
		wake()
	}
}

// drain applies events a source sent before returning from Watch.
func (m *NetworkMonitor) drain(events <-chan ConnectivityEvent, wake func()) {
	for {
		select {
		case ev := <-events:
			m.apply(ev, wake)
		default:
			return
		}
	}
}
