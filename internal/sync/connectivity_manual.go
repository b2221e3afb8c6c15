package sync

import "context"

// ManualSource is a ConnectivitySource driven by Set. Used when the platform
// pushes state through code rather than a file or probe, and in tests.
type ManualSource struct {
	ch chan ConnectivityEvent
}

// NewManualSource creates a ManualSource.
func NewManualSource() *ManualSource {
	return &ManualSource{ch: make(chan ConnectivityEvent, connectivityEventBuf)}
}

// Set reports a new state. It never blocks; if the buffer is full the event
// is dropped, since only the latest state matters.
func (s *ManualSource) Set(connected bool, connType string) {
	select {
	case s.ch <- ConnectivityEvent{IsConnected: connected, Type: connType}:
	default:
	}
}

// Watch forwards Set calls until ctx is canceled.
func (s *ManualSource) Watch(ctx context.Context, events chan<- ConnectivityEvent) error {
	for {
		select {
		case ev := <-s.ch:
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}
