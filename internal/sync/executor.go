package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/journal-sync/internal/api"
)

// --- Consumer-defined interfaces for the api package ---

// RemoteWriter issues the four remote write operations. Satisfied by
// *api.Client. idemKey is the mutation ID; the server uses it to ignore a
// replay of a write it already applied.
type RemoteWriter interface {
	AddStatement(ctx context.Context, userID, idemKey, date, text string) error
	EditStatement(ctx context.Context, userID, idemKey, date string, index int, text string) error
	DeleteStatement(ctx context.Context, userID, idemKey, date string, index int) error
	UpdateProfile(ctx context.Context, userID, idemKey string, profile api.Profile) error
}

// SessionProvider reports the signed-in user. CurrentUser returns nil when
// there is no authenticated session. Satisfied by *api.Session.
type SessionProvider interface {
	CurrentUser() *api.User
}

// Executor dispatches one mutation to exactly one remote write. It never
// retries; the orchestrator applies the retry policy across passes.
type Executor struct {
	remote   RemoteWriter
	sessions SessionProvider
	logger   *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(remote RemoteWriter, sessions SessionProvider, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{remote: remote, sessions: sessions, logger: logger}
}

// Execute applies m to the remote service. nil means success. Errors wrap
// one of ErrAuthMissing (abort the pass), ErrPermanent (undecodable or
// unknown record, drop now), or ErrTransient (any remote failure, retry on a
// later pass). A canceled context is returned
// as-is so the orchestrator stops the pass.
func (e *Executor) Execute(ctx context.Context, m *PendingMutation) error {
	user := e.sessions.CurrentUser()
	if user == nil {
		return ErrAuthMissing
	}

	p, err := m.Payload()
	if err != nil {
		return err
	}

	switch v := p.(type) {
	case AddStatementPayload:
		err = e.remote.AddStatement(ctx, user.ID, m.ID, v.Date, v.Text)
	case EditStatementPayload:
		err = e.remote.EditStatement(ctx, user.ID, m.ID, v.Date, v.Index, v.Text)
	case DeleteStatementPayload:
		err = e.remote.DeleteStatement(ctx, user.ID, m.ID, v.Date, v.Index)
	case UpdateProfilePayload:
		err = e.remote.UpdateProfile(ctx, user.ID, m.ID, v.Profile)
	default:
		return fmt.Errorf("%w: no handler for %T", ErrPermanent, p)
	}

	if err != nil {
		return e.classify(ctx, m, err)
	}

	e.logger.Debug("mutation applied",
		slog.String("id", m.ID),
		slog.String("type", m.Type.String()),
	)

	return nil
}

// classify maps a remote error onto the sync sentinels. Only a session that
// vanished from disk aborts the pass; every response from the service,
// including 401/403 and validation rejections, counts against the retry
// bound so one refused record cannot hold back the rest of the queue.
func (e *Executor) classify(ctx context.Context, m *PendingMutation, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if errors.Is(err, api.ErrNotLoggedIn) {
		return fmt.Errorf("%w: session removed while applying %s: %w", ErrAuthMissing, m.ID, err)
	}

	return fmt.Errorf("%w: %s %s: %w", ErrTransient, m.Type, m.ID, err)
}
