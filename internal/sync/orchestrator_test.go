package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/journal-sync/internal/api"
)

var passTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

// orchFixture bundles an orchestrator with its fakes.
type orchFixture struct {
	store    *QueueStore
	remote   *fakeRemote
	sessions *fakeSessions
	inv      *fakeInvalidator
	net      *fixedNetwork
	orch     *Orchestrator
	logs     *captureHandler
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()

	logger, logs := newCaptureLogger()
	store, _ := newFileStore(t, logger)
	sequentialIDs(store)

	f := &orchFixture{
		store:    store,
		remote:   &fakeRemote{},
		sessions: signedIn("u1"),
		inv:      &fakeInvalidator{},
		net:      &fixedNetwork{online: true},
		logs:     logs,
	}

	f.orch = NewOrchestrator(&OrchestratorConfig{
		Store:       store,
		Executor:    NewExecutor(f.remote, f.sessions, logger),
		Sessions:    f.sessions,
		Invalidator: f.inv,
		Network:     f.net,
		Policy:      NewRetryPolicy(3),
		Logger:      logger,
	})
	f.orch.nowFunc = func() time.Time { return passTime }

	return f
}

func (f *orchFixture) enqueue(t *testing.T, p Payload) PendingMutation {
	t.Helper()

	m, err := f.store.Enqueue(context.Background(), p)
	require.NoError(t, err)

	return m
}

func (f *orchFixture) pending(t *testing.T) []PendingMutation {
	t.Helper()

	return f.store.Load(context.Background()).Mutations
}

func pendingIDs(muts []PendingMutation) []string {
	ids := make([]string, len(muts))
	for i := range muts {
		ids[i] = muts[i].ID
	}

	return ids
}

// failIDs makes the remote fail with err for the listed mutation IDs.
func failIDs(err error, ids ...string) func(remoteCall) error {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return func(c remoteCall) error {
		if set[c.IdemKey] {
			return err
		}

		return nil
	}
}

var errServer = fmt.Errorf("HTTP 503: %w", api.ErrServerError)

func TestForceSyncNow_ExecutesInEnqueueOrder(t *testing.T) {
	f := newOrchFixture(t)

	f.enqueue(t, addStmt("2026-03-01", "first"))
	f.enqueue(t, EditStatementPayload{Date: "2026-03-01", Index: 0, Text: "second"})
	f.enqueue(t, DeleteStatementPayload{Date: "2026-03-02", Index: 1})

	report, err := f.orch.ForceSyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"m1", "m2", "m3"}, f.remote.callKeys())
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 0, report.Remaining)
	assert.Empty(t, f.pending(t))
}

func TestForceSyncNow_PassesUserAndPayloadToRemote(t *testing.T) {
	f := newOrchFixture(t)

	f.enqueue(t, UpdateProfilePayload{Profile: Profile{DailyGoal: intPtr(3)}})

	_, err := f.orch.ForceSyncNow(context.Background())
	require.NoError(t, err)

	require.Len(t, f.remote.calls, 1)
	call := f.remote.calls[0]
	assert.Equal(t, "profile", call.Op)
	assert.Equal(t, "u1", call.UserID)
	assert.Equal(t, "m1", call.IdemKey)
	require.NotNil(t, call.Profile.DailyGoal)
	assert.Equal(t, 3, *call.Profile.DailyGoal)
}

func TestForceSyncNow_Offline(t *testing.T) {
	f := newOrchFixture(t)
	f.net.set(false)

	f.enqueue(t, addStmt("2026-03-01", "kept"))

	report, err := f.orch.ForceSyncNow(context.Background())
	require.ErrorIs(t, err, ErrOffline)
	assert.Nil(t, report)

	assert.Zero(t, f.remote.callCount())
	assert.Equal(t, []string{"m1"}, pendingIDs(f.pending(t)))
	assert.Nil(t, f.store.Load(context.Background()).LastSyncAttemptAt, "offline pass must not write")
}

func TestForceSyncNow_NotReady(t *testing.T) {
	orch := NewOrchestrator(&OrchestratorConfig{Logger: testLogger(t)})

	_, err := orch.ForceSyncNow(context.Background())
	require.ErrorIs(t, err, ErrNotReady)

	_, err = orch.RunPass(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, ErrNotReady)
}

func TestRunPass_EmptyQueueIsNoop(t *testing.T) {
	f := newOrchFixture(t)

	report, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Zero(t, report.Attempted)
	assert.Zero(t, f.inv.callCount())
	assert.Nil(t, f.store.Load(context.Background()).LastSyncAttemptAt)
}

func TestRunPass_RetryBoundDropsWithSingleErrorLog(t *testing.T) {
	f := newOrchFixture(t)
	f.remote.errFn = func(remoteCall) error { return errServer }

	f.enqueue(t, addStmt("2026-03-01", "doomed"))
	ctx := context.Background()

	for pass := 1; pass <= 2; pass++ {
		report, err := f.orch.RunPass(ctx, TriggerTimer)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried, "pass %d", pass)

		pending := f.pending(t)
		require.Len(t, pending, 1)
		assert.Equal(t, pass, pending[0].RetryCount)
	}

	assert.Zero(t, f.logs.count(slog.LevelError))

	report, err := f.orch.RunPass(ctx, TriggerTimer)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	assert.Empty(t, f.pending(t))

	// Nothing left to attempt.
	_, err = f.orch.RunPass(ctx, TriggerTimer)
	require.NoError(t, err)

	assert.Equal(t, 3, f.remote.callCount())
	assert.Equal(t, 1, f.logs.count(slog.LevelError))
	assert.Equal(t, []string{"mutation dropped after max retries"}, f.logs.messages(slog.LevelError))
}

func TestRunPass_PartialSuccess(t *testing.T) {
	f := newOrchFixture(t)
	f.remote.errFn = failIDs(errServer, "m2")

	f.enqueue(t, addStmt("2026-03-01", "one"))
	f.enqueue(t, addStmt("2026-03-01", "two"))
	f.enqueue(t, addStmt("2026-03-01", "three"))

	report, err := f.orch.RunPass(context.Background(), TriggerNetwork)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Retried)

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, "m2", pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)

	require.Equal(t, 1, f.inv.callCount())
	assert.Equal(t, []Category{CategoryJournal, CategoryStreaks, CategoryCalendar}, f.inv.calls[0])
}

func TestRunPass_FullDrain(t *testing.T) {
	f := newOrchFixture(t)

	f.enqueue(t, addStmt("2026-03-01", "a"))
	f.enqueue(t, UpdateProfilePayload{Profile: Profile{Timezone: strPtr("UTC")}})
	f.enqueue(t, EditStatementPayload{Date: "2026-03-01", Index: 0, Text: "b"})
	f.enqueue(t, DeleteStatementPayload{Date: "2026-03-01", Index: 0})

	report, err := f.orch.RunPass(context.Background(), TriggerManual)
	require.NoError(t, err)

	assert.Equal(t, 4, report.Succeeded)
	assert.Empty(t, f.pending(t))

	snap := f.store.Load(context.Background())
	require.NotNil(t, snap.LastSyncAttemptAt)
	assert.True(t, snap.LastSyncAttemptAt.Equal(passTime))

	require.Equal(t, 1, f.inv.callCount())
	assert.ElementsMatch(t,
		[]Category{CategoryJournal, CategoryStreaks, CategoryCalendar, CategoryProfile},
		f.inv.calls[0])
}

func TestRunPass_AllFailedSkipsInvalidation(t *testing.T) {
	f := newOrchFixture(t)
	f.remote.errFn = func(remoteCall) error { return errServer }

	f.enqueue(t, addStmt("2026-03-01", "a"))

	_, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Zero(t, f.inv.callCount())
	assert.NotNil(t, f.store.Load(context.Background()).LastSyncAttemptAt)
}

func TestRunPass_NoSessionLeavesQueueUntouched(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "a"))
	f.enqueue(t, addStmt("2026-03-01", "b"))
	f.sessions.signOut()

	report, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.True(t, report.Aborted)
	require.ErrorIs(t, report.AbortErr, ErrAuthMissing)
	assert.Equal(t, 2, report.Remaining)
	assert.Zero(t, f.remote.callCount())
	assert.Zero(t, f.inv.callCount())

	snap := f.store.Load(context.Background())
	assert.Equal(t, []string{"m1", "m2"}, pendingIDs(snap.Mutations))
	assert.Nil(t, snap.LastSyncAttemptAt, "aborted pass must not write")
}

func TestRunPass_AuthLostMidPass(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "a"))
	f.enqueue(t, addStmt("2026-03-01", "b"))
	f.enqueue(t, addStmt("2026-03-01", "c"))

	// The session file disappears while m2 is in flight.
	f.remote.errFn = func(c remoteCall) error {
		if c.IdemKey != "m2" {
			return nil
		}

		f.sessions.signOut()

		return fmt.Errorf("%w: obtaining token: %w", api.ErrUnauthorized, api.ErrNotLoggedIn)
	}

	report, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.True(t, report.Aborted)
	require.ErrorIs(t, report.AbortErr, ErrAuthMissing)
	assert.Equal(t, 1, report.Succeeded)

	// m3 was never attempted.
	assert.Equal(t, []string{"m1", "m2"}, f.remote.callKeys())

	pending := f.pending(t)
	assert.Equal(t, []string{"m2", "m3"}, pendingIDs(pending))

	for _, m := range pending {
		assert.Zero(t, m.RetryCount, "unprocessed record %s must be untouched", m.ID)
	}

	assert.Equal(t, 1, f.inv.callCount())
}

func TestRunPass_ServerRejectionCountsAgainstRetryBound(t *testing.T) {
	for name, rejection := range map[string]error{
		"forbidden":   fmt.Errorf("HTTP 403: %w", api.ErrForbidden),
		"bad request": fmt.Errorf("HTTP 400: %w", api.ErrBadRequest),
		"validation":  fmt.Errorf("HTTP 422: %w", api.ErrUnprocessable),
	} {
		t.Run(name, func(t *testing.T) {
			f := newOrchFixture(t)
			f.remote.errFn = func(remoteCall) error { return rejection }

			f.enqueue(t, addStmt("2026-03-01", "refused"))
			ctx := context.Background()

			for pass := 1; pass <= 2; pass++ {
				report, err := f.orch.RunPass(ctx, TriggerTimer)
				require.NoError(t, err)
				assert.False(t, report.Aborted)
				assert.Equal(t, 1, report.Retried, "pass %d", pass)

				pending := f.pending(t)
				require.Len(t, pending, 1)
				assert.Equal(t, pass, pending[0].RetryCount)
			}

			report, err := f.orch.RunPass(ctx, TriggerTimer)
			require.NoError(t, err)
			assert.Equal(t, 1, report.Dropped)
			assert.Empty(t, f.pending(t))

			assert.Equal(t, 3, f.remote.callCount())
			assert.Equal(t, 1, f.logs.count(slog.LevelError))
		})
	}
}

func TestRunPass_RefusedHeadDoesNotBlockQueue(t *testing.T) {
	f := newOrchFixture(t)
	f.remote.errFn = failIDs(fmt.Errorf("HTTP 403: %w", api.ErrForbidden), "m1")

	f.enqueue(t, addStmt("2026-03-01", "refused"))
	f.enqueue(t, addStmt("2026-03-01", "fine"))

	report, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.False(t, report.Aborted)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"m1", "m2"}, f.remote.callKeys())

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.Equal(t, "m1", pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.Equal(t, 1, f.inv.callCount())
}

func TestRunPass_UnknownPersistedTypeIsDropped(t *testing.T) {
	logger, logs := newCaptureLogger()
	store, kv := newFileStore(t, logger)

	raw := `{"version":1,"mutations":[
		{"id":"a","type":"archive_journal","data":{},"timestamp":"2026-03-01T00:00:00Z","retryCount":0},
		{"id":"b","type":"add_statement","data":{"date":"2026-03-01","text":"ok"},"timestamp":"2026-03-01T00:00:01Z","retryCount":0}
	]}`
	require.NoError(t, kv.Put(context.Background(), queueKey, []byte(raw)))

	remote := &fakeRemote{}
	sessions := signedIn("u1")
	orch := NewOrchestrator(&OrchestratorConfig{
		Store:    store,
		Executor: NewExecutor(remote, sessions, logger),
		Sessions: sessions,
		Logger:   logger,
	})

	report, err := orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"b"}, remote.callKeys())
	assert.Empty(t, store.Load(context.Background()).Mutations)
	assert.Equal(t, 1, logs.count(slog.LevelError))
}

func TestRunPass_SingleFlight(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "slow"))

	started := make(chan struct{})
	release := make(chan struct{})

	var once stdsync.Once

	f.remote.hook = func(remoteCall) {
		once.Do(func() { close(started) })
		<-release
	}

	done := make(chan error, 1)

	go func() {
		_, err := f.orch.ForceSyncNow(context.Background())
		done <- err
	}()

	<-started

	_, err := f.orch.ForceSyncNow(context.Background())
	require.ErrorIs(t, err, ErrSyncInProgress)

	_, err = f.orch.RunPass(context.Background(), TriggerTimer)
	require.ErrorIs(t, err, ErrSyncInProgress)

	assert.True(t, f.orch.Status(context.Background()).IsRunning)

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.remote.callCount())
	assert.False(t, f.orch.Status(context.Background()).IsRunning)
}

func TestRunPass_EnqueueDuringPassSurvives(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "first"))

	var once stdsync.Once

	f.remote.hook = func(remoteCall) {
		once.Do(func() {
			_, err := f.store.Enqueue(context.Background(), addStmt("2026-03-02", "late"))
			assert.NoError(t, err)
		})
	}

	report, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, []string{"m2"}, pendingIDs(f.pending(t)))
}

func TestRunPass_ClearDuringPassWins(t *testing.T) {
	f := newOrchFixture(t)
	f.remote.errFn = func(remoteCall) error { return errServer }

	f.enqueue(t, addStmt("2026-03-01", "a"))
	f.enqueue(t, addStmt("2026-03-01", "b"))

	var once stdsync.Once

	f.remote.hook = func(remoteCall) {
		once.Do(func() {
			assert.NoError(t, f.store.Clear(context.Background()))
		})
	}

	_, err := f.orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.Empty(t, f.pending(t), "a cleared queue must not be resurrected by the pass")
}

func TestRunPass_CanceledContextAbortsBeforeFirstMutation(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.orch.RunPass(ctx, TriggerTimer)
	require.NoError(t, err)

	assert.True(t, report.Aborted)
	require.ErrorIs(t, report.AbortErr, context.Canceled)
	assert.Zero(t, f.remote.callCount())

	pending := f.pending(t)
	require.Len(t, pending, 1)
	assert.Zero(t, pending[0].RetryCount)
}

type panickingExecutor struct{}

func (panickingExecutor) Execute(context.Context, *PendingMutation) error {
	panic("boom")
}

func TestRunPass_ExecutorPanicAbortsPass(t *testing.T) {
	logger := testLogger(t)
	store, _ := newFileStore(t, logger)

	_, err := store.Enqueue(context.Background(), addStmt("2026-03-01", "a"))
	require.NoError(t, err)

	orch := NewOrchestrator(&OrchestratorConfig{
		Store:    store,
		Executor: panickingExecutor{},
		Sessions: signedIn("u1"),
		Logger:   logger,
	})

	report, err := orch.RunPass(context.Background(), TriggerTimer)
	require.NoError(t, err)

	assert.True(t, report.Aborted)
	require.ErrorIs(t, report.AbortErr, errExecutorPanic)
	assert.Len(t, store.Load(context.Background()).Mutations, 1)
}

func TestStatus(t *testing.T) {
	f := newOrchFixture(t)
	f.net.set(false)

	f.enqueue(t, addStmt("2026-03-01", "a"))
	f.enqueue(t, addStmt("2026-03-01", "b"))

	st := f.orch.Status(context.Background())
	assert.False(t, st.IsOnline)
	assert.False(t, st.IsRunning)
	assert.Equal(t, 2, st.PendingCount)
	assert.Nil(t, st.LastSyncAttemptAt)

	f.net.set(true)
	_, err := f.orch.ForceSyncNow(context.Background())
	require.NoError(t, err)

	st = f.orch.Status(context.Background())
	assert.True(t, st.IsOnline)
	assert.Zero(t, st.PendingCount)
	require.NotNil(t, st.LastSyncAttemptAt)
	assert.True(t, st.LastSyncAttemptAt.Equal(passTime))
}

func TestDispatch_ManualTriggerRunsPass(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "a"))

	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)

	f.orch.Trigger(TriggerManual)

	require.Eventually(t, func() bool {
		return f.store.Load(context.Background()).Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, f.remote.callCount())
}

func TestDispatch_TickerOnlyWhileOnline(t *testing.T) {
	f := newOrchFixture(t)
	f.net.set(false)
	f.enqueue(t, addStmt("2026-03-01", "a"))

	ticks := make(chan time.Time)
	f.orch.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return ticks, func() {}
	}

	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)

	// The dispatch loop receives the tick before the send returns.
	ticks <- passTime
	ticks <- passTime
	assert.Zero(t, f.remote.callCount())

	f.net.set(true)
	ticks <- passTime

	require.Eventually(t, func() bool {
		return f.remote.callCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDispatch_NetworkEdgeTriggersPass(t *testing.T) {
	f := newOrchFixture(t)
	f.enqueue(t, addStmt("2026-03-01", "a"))

	src := NewManualSource()
	monitor := NewNetworkMonitor(src, testLogger(t))

	// Drive the orchestrator from the real monitor state.
	f.orch.network = monitor

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, f.orch.Start(ctx))
	t.Cleanup(f.orch.Stop)

	go func() {
		_ = monitor.Run(ctx, func() { f.orch.Trigger(TriggerNetwork) })
	}()

	src.Set(true, "wifi")

	require.Eventually(t, func() bool {
		return f.remote.callCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStartTwice(t *testing.T) {
	f := newOrchFixture(t)

	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(f.orch.Stop)

	err := f.orch.Start(context.Background())
	require.True(t, errors.Is(err, errAlreadyStarted))
}

func TestStopWithoutStart(t *testing.T) {
	f := newOrchFixture(t)
	f.orch.Stop()
}
