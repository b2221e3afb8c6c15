package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff, same shape as a filesystem observer under sustained
// kernel errors.
const (
	stateWatchInitBackoff = 1 * time.Second
	stateWatchMaxBackoff  = 30 * time.Second
)

// FsWatcher is the subset of *fsnotify.Watcher FileSource needs.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

// fsnotifyWatcher adapts *fsnotify.Watcher's channel fields to FsWatcher.
type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// FileSource reads connectivity from a small state file written by a
// platform bridge. The first word is "online" or "offline"; an optional
// second word names the connection type ("online wifi"). A missing file
// means offline.
//
// The parent directory is watched rather than the file itself so that
// writers replacing the file via rename are still seen.
type FileSource struct {
	path   string
	logger *slog.Logger

	watcherFactory func() (FsWatcher, error) // injectable for testing
	sleepFunc      func(ctx context.Context, d time.Duration) error
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}

	return &FileSource{
		path:           filepath.Clean(path),
		logger:         logger,
		watcherFactory: newFsnotifyWatcher,
		sleepFunc:      timeSleep,
	}
}

// Watch emits the current state immediately, then again whenever the file
// changes to a different state.
func (s *FileSource) Watch(ctx context.Context, events chan<- ConnectivityEvent) error {
	watcher, err := s.watcherFactory()
	if err != nil {
		return fmt.Errorf("sync: creating state file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("sync: watching %s: %w", filepath.Dir(s.path), err)
	}

	last := s.read()
	if !sendEvent(ctx, events, last) {
		return nil
	}

	backoff := stateWatchInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != s.path {
				continue
			}

			backoff = stateWatchInitBackoff

			cur := s.read()
			if cur == last {
				continue
			}

			last = cur
			if !sendEvent(ctx, events, cur) {
				return nil
			}

		case watchErr, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			s.logger.Warn("state file watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", backoff),
			)

			if sleepErr := s.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil
			}

			backoff = min(backoff*2, stateWatchMaxBackoff)
		}
	}
}

// Current returns the file's state without watching it.
func (s *FileSource) Current(_ context.Context) ConnectivityEvent {
	return s.read()
}

// read returns the file's current state. Unreadable or unrecognized content
// is reported as offline.
func (s *FileSource) read() ConnectivityEvent {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("reading connectivity state file",
				slog.String("path", s.path),
				slog.String("error", err.Error()),
			)
		}

		return ConnectivityEvent{Type: "none"}
	}

	return parseConnectivityState(string(data))
}

// parseConnectivityState parses "online [type]" or "offline".
func parseConnectivityState(s string) ConnectivityEvent {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return ConnectivityEvent{Type: "none"}
	}

	ev := ConnectivityEvent{Type: "unknown"}
	if len(fields) > 1 {
		ev.Type = fields[1]
	}

	switch fields[0] {
	case "online", "connected", "up":
		ev.IsConnected = true
	default:
		if len(fields) == 1 {
			ev.Type = "none"
		}
	}

	return ev
}

// sendEvent delivers ev unless ctx is canceled first.
func sendEvent(ctx context.Context, events chan<- ConnectivityEvent, ev ConnectivityEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// timeSleep waits for d or until ctx is canceled. Sources inject it via
// their sleepFunc field.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
