package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"sync/atomic"
	"time"
)

// DefaultSyncInterval is the periodic trigger cadence while online.
const DefaultSyncInterval = 30 * time.Second

// triggerBuf bounds pending triggers. A full buffer means a pass is already
// queued, so extra triggers are dropped.
const triggerBuf = 4

var errAlreadyStarted = errors.New("sync: orchestrator already started")

// mutationExecutor runs one mutation. Satisfied by *Executor.
type mutationExecutor interface {
	Execute(ctx context.Context, m *PendingMutation) error
}

// connectivityState reports whether the device is online. Satisfied by
// *NetworkMonitor.
type connectivityState interface {
	IsOnline() bool
}

// OrchestratorConfig holds the collaborators of an Orchestrator. The CLI's
// composition root fills it in. Invalidator and Network may be nil; a nil
// Network counts as always online.
type OrchestratorConfig struct {
	Store       *QueueStore
	Executor    mutationExecutor
	Sessions    SessionProvider
	Invalidator CacheInvalidator
	Network     connectivityState
	Policy      RetryPolicy
	Interval    time.Duration
	Logger      *slog.Logger
}

// Orchestrator drains the queue. Every trigger (ticker, network edge,
// manual request) flows through one channel consumed by one dispatch loop,
// and at most one pass runs at a time across the loop and ForceSyncNow.
type Orchestrator struct {
	store       *QueueStore
	executor    mutationExecutor
	sessions    SessionProvider
	invalidator CacheInvalidator
	network     connectivityState
	policy      RetryPolicy
	interval    time.Duration
	logger      *slog.Logger

	running  atomic.Bool
	triggers chan TriggerSource

	// lifecycle of the dispatch loop
	mu     stdsync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	nowFunc   func() time.Time                                 // injectable for testing
	newTicker func(d time.Duration) (<-chan time.Time, func()) // injectable for testing
}

// NewOrchestrator creates an idle Orchestrator. Call Start to begin
// reacting to triggers.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSyncInterval
	}

	policy := cfg.Policy
	if policy.MaxRetry <= 0 {
		policy = NewRetryPolicy(0)
	}

	return &Orchestrator{
		store:       cfg.Store,
		executor:    cfg.Executor,
		sessions:    cfg.Sessions,
		invalidator: cfg.Invalidator,
		network:     cfg.Network,
		policy:      policy,
		interval:    interval,
		logger:      logger,
		triggers:    make(chan TriggerSource, triggerBuf),
		nowFunc:     time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start launches the dispatch loop. It returns immediately; the loop runs
// until ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.done != nil {
		return errAlreadyStarted
	}

	loopCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	go o.dispatch(loopCtx, o.done)

	o.logger.Info("sync orchestrator started", slog.Duration("interval", o.interval))

	return nil
}

// Stop cancels the dispatch loop and waits for it to exit. A pass in flight
// finishes its current mutation, commits, and returns first.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	o.logger.Info("sync orchestrator stopped")
}

// Trigger asks the dispatch loop for a pass. It never blocks.
func (o *Orchestrator) Trigger(src TriggerSource) {
	select {
	case o.triggers <- src:
	default:
		o.logger.Debug("trigger dropped, pass already pending", slog.String("source", src.String()))
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	tick, stopTicker := o.newTicker(o.interval)
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return

		case <-tick:
			if o.isOnline() {
				o.runTriggered(ctx, TriggerTimer)
			}

		case src := <-o.triggers:
			o.runTriggered(ctx, src)
		}
	}
}

// runTriggered runs a pass for the dispatch loop, which has no caller to
// return errors to.
func (o *Orchestrator) runTriggered(ctx context.Context, src TriggerSource) {
	if !o.isOnline() {
		o.logger.Debug("offline, ignoring trigger", slog.String("source", src.String()))
		return
	}

	if _, err := o.RunPass(ctx, src); err != nil && !errors.Is(err, ErrSyncInProgress) {
		o.logger.Debug("triggered pass did not run",
			slog.String("source", src.String()),
			slog.String("error", err.Error()),
		)
	}
}

// ForceSyncNow runs a pass synchronously. It fails fast with ErrOffline
// when offline and ErrSyncInProgress when a pass is already running.
func (o *Orchestrator) ForceSyncNow(ctx context.Context) (*PassReport, error) {
	if !o.ready() {
		return nil, ErrNotReady
	}

	if !o.isOnline() {
		return nil, ErrOffline
	}

	return o.RunPass(ctx, TriggerManual)
}

// RunPass is the single entry point for a pass. It does not consult
// connectivity; callers decide whether a pass makes sense.
func (o *Orchestrator) RunPass(ctx context.Context, trigger TriggerSource) (*PassReport, error) {
	if !o.ready() {
		o.logger.Warn("sync not ready, skipping pass", slog.String("trigger", trigger.String()))
		return nil, ErrNotReady
	}

	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer o.running.Store(false)

	return o.pass(ctx, trigger), nil
}

// pass traverses the queue once, strictly in order.
func (o *Orchestrator) pass(ctx context.Context, trigger TriggerSource) *PassReport {
	start := o.nowFunc()
	report := &PassReport{Trigger: trigger}

	defer func() {
		report.Duration = o.nowFunc().Sub(start)
	}()

	base := o.store.beginPass(ctx)
	if base.snap.Len() == 0 {
		o.logger.Debug("queue empty, nothing to sync", slog.String("trigger", trigger.String()))
		return report
	}

	// Nothing can succeed without a user; leave the queue exactly as it is.
	if o.sessions.CurrentUser() == nil {
		o.logger.Warn("no signed-in user, sync deferred",
			slog.Int("pending", base.snap.Len()),
		)

		report.Aborted = true
		report.AbortErr = ErrAuthMissing
		report.Remaining = base.snap.Len()

		return report
	}

	o.logger.Info("sync pass starting",
		slog.String("trigger", trigger.String()),
		slog.Int("pending", base.snap.Len()),
	)

	muts := base.snap.Mutations
	kept := make([]PendingMutation, 0, len(muts))

	var cats categorySet

	for i := range muts {
		if err := ctx.Err(); err != nil {
			o.abort(report, err)
			kept = append(kept, muts[i:]...)

			break
		}

		m := muts[i]
		report.Attempted++

		err := o.execute(ctx, &m)

		switch {
		case err == nil:
			report.Succeeded++
			cats.add(categoriesFor(m.Type)...)

		case ctx.Err() != nil, errors.Is(err, ErrAuthMissing), errors.Is(err, errExecutorPanic):
			o.abort(report, err)
			kept = append(kept, muts[i:]...)

		case errors.Is(err, ErrPermanent):
			report.Dropped++
			o.logger.Error("mutation dropped, permanent failure",
				slog.String("id", m.ID),
				slog.String("type", m.TypeName),
				slog.String("error", err.Error()),
			)

		default:
			m.RetryCount++

			if o.policy.Decide(m.RetryCount) == DecisionDrop {
				report.Dropped++
				o.logger.Error("mutation dropped after max retries",
					slog.String("id", m.ID),
					slog.String("type", m.TypeName),
					slog.Int("retries", m.RetryCount),
					slog.String("error", err.Error()),
				)

				continue
			}

			report.Retried++
			kept = append(kept, m)

			o.logger.Warn("mutation failed, will retry",
				slog.String("id", m.ID),
				slog.String("type", m.TypeName),
				slog.Int("retries", m.RetryCount),
				slog.String("error", err.Error()),
			)
		}

		if report.Aborted {
			break
		}
	}

	report.Remaining = len(kept)

	// Commit even when ctx is canceled so completed work is not replayed.
	// Write failures are logged by the store; there is no rollback.
	_ = o.store.commitPass(context.WithoutCancel(ctx), base, kept, o.nowFunc().UTC())

	if report.Succeeded > 0 {
		report.Categories = cats.list()

		if o.invalidator != nil {
			o.invalidator.Invalidate(context.WithoutCancel(ctx), report.Categories)
		}
	}

	o.logger.Info("sync pass complete",
		slog.String("trigger", trigger.String()),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("retried", report.Retried),
		slog.Int("dropped", report.Dropped),
		slog.Int("remaining", report.Remaining),
		slog.Bool("aborted", report.Aborted),
	)

	return report
}

var errExecutorPanic = errors.New("sync: executor panic")

// execute calls the executor, converting a panic into an error that aborts
// the pass.
func (o *Orchestrator) execute(ctx context.Context, m *PendingMutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: mutation %s: %v", errExecutorPanic, m.ID, r)
		}
	}()

	return o.executor.Execute(ctx, m)
}

func (o *Orchestrator) abort(report *PassReport, err error) {
	report.Aborted = true
	report.AbortErr = err

	o.logger.Warn("sync pass aborted", slog.String("error", err.Error()))
}

// Status returns a read-only view of sync state.
func (o *Orchestrator) Status(ctx context.Context) SyncStatus {
	st := SyncStatus{
		IsOnline:  o.isOnline(),
		IsRunning: o.running.Load(),
	}

	if o.store == nil {
		return st
	}

	snap := o.store.Load(ctx)
	st.PendingCount = snap.Len()
	st.LastSyncAttemptAt = snap.LastSyncAttemptAt

	return st
}

func (o *Orchestrator) ready() bool {
	return o.store != nil && o.executor != nil && o.sessions != nil
}

func (o *Orchestrator) isOnline() bool {
	return o.network == nil || o.network.IsOnline()
}
