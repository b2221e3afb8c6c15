package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
)

// queueKey is the single durable key holding the queue record.
const queueKey = "sync_queue"

// QueueStore is the durable FIFO of pending mutations.
//
// The orchestrator reads the queue once at pass start (beginPass) and writes it
// once at pass end (commitPass). Enqueue and Clear may run concurrently with
// a pass; the mutex serializes every read-modify-write, and commitPass
// carries over records enqueued while the pass was running.
type QueueStore struct {
	kv     KeyValue
	logger *slog.Logger

	mu         stdsync.Mutex
	generation uint64 // bumped by Clear; in-memory only

	idFunc  func() string    // injectable for testing
	nowFunc func() time.Time // injectable for testing
}

// NewQueueStore wraps a KeyValue backend.
func NewQueueStore(kv KeyValue, logger *slog.Logger) *QueueStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &QueueStore{
		kv:      kv,
		logger:  logger,
		idFunc:  uuid.NewString,
		nowFunc: time.Now,
	}
}

// Enqueue validates the payload, appends a new mutation with RetryCount 0,
// and persists the full snapshot. Unlike Save, a persistence failure here is
// returned: the caller's write intent is not durable and must not be
// reported as queued.
func (s *QueueStore) Enqueue(ctx context.Context, p Payload) (PendingMutation, error) {
	p = normalizePayload(p)

	if err := p.Validate(); err != nil {
		return PendingMutation{}, fmt.Errorf("sync: invalid %s: %w", p.MutationType(), err)
	}

	data, err := EncodePayload(p)
	if err != nil {
		return PendingMutation{}, err
	}

	m := PendingMutation{
		ID:         s.idFunc(),
		Type:       p.MutationType(),
		TypeName:   p.MutationType().String(),
		Data:       data,
		EnqueuedAt: s.nowFunc().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.loadLocked(ctx)
	snap.Mutations = append(snap.Mutations, m)

	if err := s.saveLocked(ctx, snap); err != nil {
		return PendingMutation{}, err
	}

	s.logger.Debug("mutation enqueued",
		slog.String("id", m.ID),
		slog.String("type", m.Type.String()),
		slog.Int("pending", len(snap.Mutations)),
	)

	return m, nil
}

// Load returns the persisted snapshot. A missing, unreadable, or corrupt
// record yields an empty snapshot; corruption is logged, never fatal.
func (s *QueueStore) Load(ctx context.Context) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.loadLocked(ctx)
}

func (s *QueueStore) loadLocked(ctx context.Context) *Snapshot {
	data, err := s.kv.Get(ctx, queueKey)
	if err != nil {
		s.logger.Warn("queue read failed, treating as empty",
			slog.String("error", err.Error()),
		)

		return &Snapshot{}
	}

	if data == nil {
		return &Snapshot{}
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		s.logger.Warn("queue record corrupt, treating as empty",
			slog.String("error", err.Error()),
			slog.Int("bytes", len(data)),
		)

		return &Snapshot{}
	}

	return snap
}

// Save overwrites the persisted snapshot. Failures are logged; the returned
// error is informational and callers are free to ignore it.
func (s *QueueStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked(ctx, snap)
}

func (s *QueueStore) saveLocked(ctx context.Context, snap *Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err == nil {
		err = s.kv.Put(ctx, queueKey, data)
	}

	if err != nil {
		s.logger.Error("queue write failed",
			slog.String("error", err.Error()),
			slog.Int("pending", snap.Len()),
		)

		return err
	}

	return nil
}

// Clear empties the queue. Used on sign-out. A pass running concurrently
// will not resurrect the cleared records when it commits.
func (s *QueueStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++

	if err := s.kv.Delete(ctx, queueKey); err != nil {
		s.logger.Error("queue clear failed", slog.String("error", err.Error()))
		return err
	}

	s.logger.Info("queue cleared")

	return nil
}

// passBase is what a pass read at its start: the snapshot plus the store
// generation it belongs to.
type passBase struct {
	snap       *Snapshot
	generation uint64
}

// beginPass loads the snapshot for a pass.
func (s *QueueStore) beginPass(ctx context.Context) passBase {
	s.mu.Lock()
	defer s.mu.Unlock()

	return passBase{snap: s.loadLocked(ctx), generation: s.generation}
}

// commitPass persists the outcome of a pass: kept holds the records the pass
// decided to keep (in FIFO order, including unprocessed ones). Records that
// were enqueued after the pass began are appended after them. If the queue
// was cleared during the pass, only those newer records survive.
func (s *QueueStore) commitPass(ctx context.Context, base passBase, kept []PendingMutation, attemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadLocked(ctx)

	known := make(map[string]bool, base.snap.Len())
	for i := range base.snap.Mutations {
		known[base.snap.Mutations[i].ID] = true
	}

	next := &Snapshot{LastSyncAttemptAt: &attemptAt}

	if base.generation == s.generation {
		next.Mutations = append(next.Mutations, kept...)
	} else {
		s.logger.Info("queue cleared during pass, discarding pass results",
			slog.Int("discarded", len(kept)),
		)
	}

	for i := range current.Mutations {
		if !known[current.Mutations[i].ID] {
			next.Mutations = append(next.Mutations, current.Mutations[i])
		}
	}

	return s.saveLocked(ctx, next)
}

// Close releases the backend.
func (s *QueueStore) Close() error {
	return s.kv.Close()
}
