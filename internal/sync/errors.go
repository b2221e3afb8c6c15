package sync

import "errors"

// Sentinel errors for the sync subsystem. Use errors.Is to classify.
var (
	// ErrTransient marks any remote failure (network, validation,
	// authorization). It is retried on later passes up to the retry bound.
	ErrTransient = errors.New("sync: transient mutation failure")

	// ErrPermanent marks a record that can never be executed (unknown type or
	// undecodable payload). It is dropped without consuming further retries.
	ErrPermanent = errors.New("sync: permanent mutation failure")

	// ErrAuthMissing means there is no authenticated session. It aborts the
	// whole pass and leaves unprocessed records untouched.
	ErrAuthMissing = errors.New("sync: no authenticated session")

	// ErrOffline is returned by ForceSyncNow while the network is down.
	ErrOffline = errors.New("sync: offline")

	// ErrSyncInProgress is returned by ForceSyncNow when a pass is running.
	ErrSyncInProgress = errors.New("sync: pass already running")

	// ErrNotReady is returned when the orchestrator is invoked before its
	// store, executor, or session provider has been wired.
	ErrNotReady = errors.New("sync: orchestrator dependencies not ready")
)
