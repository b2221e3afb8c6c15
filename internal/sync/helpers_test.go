package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	stdsync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/api"
)

// testLogger returns a debug-level logger that writes to t.Log.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// captureHandler records every log record so tests can count by level.
type captureHandler struct {
	mu      stdsync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.records = append(h.records, r.Clone())

	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0

	for i := range h.records {
		if h.records[i].Level == level {
			n++
		}
	}

	return n
}

func (h *captureHandler) messages(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []string

	for i := range h.records {
		if h.records[i].Level == level {
			out = append(out, h.records[i].Message)
		}
	}

	return out
}

func newCaptureLogger() (*slog.Logger, *captureHandler) {
	h := &captureHandler{}
	return slog.New(h), h
}

// remoteCall is one call observed by fakeRemote.
type remoteCall struct {
	Op      string
	UserID  string
	IdemKey string
	Date    string
	Index   int
	Text    string
	Profile api.Profile
}

// fakeRemote implements RemoteWriter. errFn, when set, decides the result of
// each call from the idempotency key (the mutation ID).
type fakeRemote struct {
	mu    stdsync.Mutex
	calls []remoteCall
	errFn func(call remoteCall) error
	hook  func(call remoteCall) // runs before errFn, outside the lock
}

func (f *fakeRemote) record(c remoteCall) error {
	if f.hook != nil {
		f.hook(c)
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	fn := f.errFn
	f.mu.Unlock()

	if fn != nil {
		return fn(c)
	}

	return nil
}

func (f *fakeRemote) AddStatement(_ context.Context, userID, idemKey, date, text string) error {
	return f.record(remoteCall{Op: "add", UserID: userID, IdemKey: idemKey, Date: date, Text: text})
}

func (f *fakeRemote) EditStatement(_ context.Context, userID, idemKey, date string, index int, text string) error {
	return f.record(remoteCall{Op: "edit", UserID: userID, IdemKey: idemKey, Date: date, Index: index, Text: text})
}

func (f *fakeRemote) DeleteStatement(_ context.Context, userID, idemKey, date string, index int) error {
	return f.record(remoteCall{Op: "delete", UserID: userID, IdemKey: idemKey, Date: date, Index: index})
}

func (f *fakeRemote) UpdateProfile(_ context.Context, userID, idemKey string, profile api.Profile) error {
	return f.record(remoteCall{Op: "profile", UserID: userID, IdemKey: idemKey, Profile: profile})
}

func (f *fakeRemote) callKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	keys := make([]string, len(f.calls))
	for i, c := range f.calls {
		keys[i] = c.IdemKey
	}

	return keys
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// fakeSessions implements SessionProvider. A nil user means signed out.
type fakeSessions struct {
	mu   stdsync.Mutex
	user *api.User
}

func signedIn(id string) *fakeSessions {
	return &fakeSessions{user: &api.User{ID: id}}
}

func (f *fakeSessions) CurrentUser() *api.User {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.user
}

func (f *fakeSessions) signOut() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.user = nil
}

// fakeInvalidator records Invalidate calls.
type fakeInvalidator struct {
	mu    stdsync.Mutex
	calls [][]Category
}

func (f *fakeInvalidator) Invalidate(_ context.Context, categories []Category) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]Category(nil), categories...))
}

func (f *fakeInvalidator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

// fixedNetwork is a connectivityState with a settable value.
type fixedNetwork struct {
	mu     stdsync.Mutex
	online bool
}

func (n *fixedNetwork) IsOnline() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.online
}

func (n *fixedNetwork) set(online bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.online = online
}

// newFileStore creates a QueueStore over a FileKV in a temp directory.
func newFileStore(t *testing.T, logger *slog.Logger) (*QueueStore, *FileKV) {
	t.Helper()

	kv, err := NewFileKV(filepath.Join(t.TempDir(), "state"))
	require.NoError(t, err)

	store := NewQueueStore(kv, logger)
	t.Cleanup(func() { _ = store.Close() })

	return store, kv
}

// newSQLiteStore creates a QueueStore over a SQLiteKV in a temp directory.
func newSQLiteStore(t *testing.T, logger *slog.Logger) (*QueueStore, *SQLiteKV) {
	t.Helper()

	kv, err := NewSQLiteKV(context.Background(), filepath.Join(t.TempDir(), "sync.db"), logger)
	require.NoError(t, err)

	store := NewQueueStore(kv, logger)
	t.Cleanup(func() { _ = store.Close() })

	return store, kv
}

// sequentialIDs makes store IDs predictable: m1, m2, ...
func sequentialIDs(store *QueueStore) {
	var (
		mu stdsync.Mutex
		n  int
	)

	store.idFunc = func() string {
		mu.Lock()
		defer mu.Unlock()

		n++

		return "m" + strconv.Itoa(n)
	}
}

func addStmt(date, text string) AddStatementPayload {
	return AddStatementPayload{Date: date, Text: text}
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
