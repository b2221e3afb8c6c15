package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/config"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests that
// need flags go through cmd.SetArgs() + cmd.Execute().

// stderrFile returns a regular file standing in for stderr, so the "auto"
// format always sees a non-terminal.
func stderrFile(t *testing.T) *os.File {
	t.Helper()

	f, err := os.Create(filepath.Join(t.TempDir(), "stderr"))
	require.NoError(t, err)

	t.Cleanup(func() { f.Close() })

	return f
}

func readAll(t *testing.T, f *os.File) []byte {
	t.Helper()

	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)

	return data
}

// --- buildLogger tests ---

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		flags    CLIFlags
		enabled  slog.Level
		disabled slog.Level
	}{
		{"config default", "info", CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"config debug", "debug", CLIFlags{}, slog.LevelDebug, slog.LevelDebug - 1},
		{"config warn", "warn", CLIFlags{}, slog.LevelWarn, slog.LevelInfo},
		{"unknown falls back to info", "loud", CLIFlags{}, slog.LevelInfo, slog.LevelDebug},
		{"verbose overrides", "error", CLIFlags{Verbose: true}, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet overrides", "debug", CLIFlags{Quiet: true}, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := config.DefaultConfig().Logging
			lc.LogLevel = tt.level

			logger, closer := buildLogger(&lc, tt.flags, stderrFile(t))
			assert.Nil(t, closer)

			assert.True(t, logger.Handler().Enabled(context.Background(), tt.enabled))
			assert.False(t, logger.Handler().Enabled(context.Background(), tt.disabled))
		})
	}
}

func TestBuildLogger_AutoFormatIsJSONOffTerminal(t *testing.T) {
	lc := config.DefaultConfig().Logging
	lc.LogFormat = "auto"

	stderr := stderrFile(t)
	logger, _ := buildLogger(&lc, CLIFlags{}, stderr)
	logger.Info("hello", slog.String("k", "v"))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(readAll(t, stderr), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestBuildLogger_TextFormat(t *testing.T) {
	lc := config.DefaultConfig().Logging
	lc.LogFormat = "text"

	stderr := stderrFile(t)
	logger, _ := buildLogger(&lc, CLIFlags{}, stderr)
	logger.Info("hello", slog.String("k", "v"))

	out := string(readAll(t, stderr))
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "k=v")
}

func TestBuildLogger_LogFileRotatesAsJSON(t *testing.T) {
	lc := config.DefaultConfig().Logging
	lc.LogFile = filepath.Join(t.TempDir(), "logs", "journal-sync.log")

	stderr := stderrFile(t)
	logger, closer := buildLogger(&lc, CLIFlags{}, stderr)
	require.NotNil(t, closer)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(lc.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
	assert.Empty(t, readAll(t, stderr))
}

// --- Cobra structure tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	expected := []string{
		"login", "logout", "whoami", "statement", "profile",
		"sync", "status", "queue", "watch", "config",
	}
	for _, name := range expected {
		found := false

		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true

				break
			}
		}

		assert.True(t, found, "expected subcommand %q not found", name)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	expectedFlags := []string{"config", "state-dir", "api-url", "json", "verbose", "quiet"}
	for _, name := range expectedFlags {
		flag := cmd.PersistentFlags().Lookup(name)
		assert.NotNil(t, flag, "expected persistent flag %q not found", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--verbose", "--quiet", "config", "show"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_InvalidConfigFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\nintervall = \"1m\"\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "--state-dir", dir, "config", "show"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "interval"`)
}

// --- Command behavior tests ---

func TestStatementAdd_RequiresLogin(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"-q", "--config", filepath.Join(dir, "none.toml"), "--state-dir", dir,
		"statement", "add", "--date", "2024-05-01", "went", "running",
	})

	err := cmd.Execute()
	assert.ErrorIs(t, err, errNotLoggedIn)
}

func TestStatementAdd_RejectsBadDate(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"-q", "--config", filepath.Join(dir, "none.toml"), "--state-dir", dir,
		"statement", "add", "--date", "May 1", "text",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --date")
}

func TestProfileSet_RequiresAField(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs([]string{
		"-q", "--config", filepath.Join(dir, "none.toml"), "--state-dir", dir,
		"profile", "set",
	})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to update")
}

func TestQueueClear_DiscardsPending(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[sync]\nstore = \"file\"\n"), 0o600))

	cfg := config.DefaultConfig()
	cfg.Sync.Store = config.StoreFile
	cfg.Sync.StateDir = dir

	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	store, err := openQueueStore(ctx, cfg, logger)
	require.NoError(t, err)

	_, err = store.Enqueue(ctx, sync.AddStatementPayload{Date: "2024-05-01", Text: "walked"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-q", "--config", cfgPath, "--state-dir", dir, "queue", "clear"})
	require.NoError(t, cmd.Execute())

	store, err = openQueueStore(ctx, cfg, logger)
	require.NoError(t, err)

	defer store.Close()

	assert.Zero(t, store.Load(ctx).Len())
}

func TestQueueClear_RefusesWhileDaemonRuns(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Sync.StateDir = dir

	cleanup, err := writePIDFile(cfg.PIDPath())
	require.NoError(t, err)

	defer cleanup()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"-q", "--config", filepath.Join(dir, "none.toml"), "--state-dir", dir, "queue", "clear"})

	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch daemon is running")
}

// --- status rendering ---

func TestPrintStatusText(t *testing.T) {
	var buf bytes.Buffer

	printStatusText(&buf, &statusView{
		SyncStatus: sync.SyncStatus{IsOnline: true, PendingCount: 1},
		User:       "ada@example.com",
		Pending: []pendingView{
			{ID: "0123456789abcdef", Type: "add_statement", Summary: `2024-05-01 "walked"`, RetryCount: 2},
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Network:      online")
	assert.Contains(t, out, "User:         ada@example.com")
	assert.Contains(t, out, "Watch daemon: not running")
	assert.Contains(t, out, "Last attempt: never")
	assert.Contains(t, out, "01234...")
	assert.Contains(t, out, "add_statement")
}

func TestPrintStatusJSON(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, printStatusJSON(&buf, &statusView{
		SyncStatus: sync.SyncStatus{PendingCount: 0},
		DaemonPID:  42,
		Pending:    []pendingView{},
	}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, false, got["is_online"])
	assert.InDelta(t, 42, got["daemon_pid"], 0)
	assert.Equal(t, []any{}, got["pending"])
	assert.NotContains(t, got, "user")
}

func TestSummarizeMutation(t *testing.T) {
	goal := 3
	name := "Ada"

	tests := []struct {
		name string
		p    sync.Payload
		want string
	}{
		{"add", sync.AddStatementPayload{Date: "2024-05-01", Text: "walked"}, `2024-05-01 "walked"`},
		{"edit", sync.EditStatementPayload{Date: "2024-05-01", Index: 2, Text: "ran"}, `2024-05-01 #2 "ran"`},
		{"delete", sync.DeleteStatementPayload{Date: "2024-05-01", Index: 0}, "2024-05-01 #0"},
		{"profile", sync.UpdateProfilePayload{Profile: sync.Profile{DisplayName: &name, DailyGoal: &goal}}, "display name, daily goal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := sync.EncodePayload(tt.p)
			require.NoError(t, err)

			m := &sync.PendingMutation{Type: tt.p.MutationType(), Data: data}
			assert.Equal(t, tt.want, summarizeMutation(m))
			assert.Equal(t, tt.p.MutationType().String(), mutationTypeName(m))
		})
	}
}

func TestSummarizeMutation_Unreadable(t *testing.T) {
	m := &sync.PendingMutation{Type: sync.MutationAddStatement, TypeName: "add_statement", Data: []byte("{")}
	assert.Equal(t, "(unreadable)", summarizeMutation(m))
	assert.Equal(t, "add_statement", mutationTypeName(m))
}
