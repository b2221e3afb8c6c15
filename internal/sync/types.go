// Package sync implements the offline mutation sync subsystem for
// journal-sync. Writes are queued durably as pending mutations, then
// replayed against the remote journal service by a single-flight
// orchestrator whenever connectivity, a timer, or the user asks for it.
package sync

import (
	"encoding/json"
	"fmt"
	"time"
)

// MutationType enumerates the closed set of remote writes the queue carries.
type MutationType int

// Mutation types. The zero value is deliberately invalid so that a missing
// type field in persisted data never decodes into a real operation.
const (
	MutationUnknown MutationType = iota
	MutationAddStatement
	MutationEditStatement
	MutationDeleteStatement
	MutationUpdateProfile
)

// Persisted names for each mutation type.
const (
	mutationNameAddStatement    = "add_statement"
	mutationNameEditStatement   = "edit_statement"
	mutationNameDeleteStatement = "delete_statement"
	mutationNameUpdateProfile   = "update_profile"
)

func (t MutationType) String() string {
	switch t {
	case MutationAddStatement:
		return mutationNameAddStatement
	case MutationEditStatement:
		return mutationNameEditStatement
	case MutationDeleteStatement:
		return mutationNameDeleteStatement
	case MutationUpdateProfile:
		return mutationNameUpdateProfile
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ParseMutationType converts a persisted type name to MutationType.
// Unrecognized names return MutationUnknown and an error; callers that load
// persisted data keep the record so the executor can drop it as permanent.
func ParseMutationType(s string) (MutationType, error) {
	switch s {
	case mutationNameAddStatement:
		return MutationAddStatement, nil
	case mutationNameEditStatement:
		return MutationEditStatement, nil
	case mutationNameDeleteStatement:
		return MutationDeleteStatement, nil
	case mutationNameUpdateProfile:
		return MutationUpdateProfile, nil
	default:
		return MutationUnknown, fmt.Errorf("sync: unknown mutation type %q", s)
	}
}

// MarshalText encodes the type by name so JSON status output is readable.
func (t MutationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// PendingMutation is one queued write intent.
//
// Data holds the type-specific payload as raw JSON. It is decoded into a
// Payload only at execution time, so records written by an older build keep
// their original bytes until the executor gets to them.
type PendingMutation struct {
	ID         string
	Type       MutationType
	TypeName   string // persisted name; preserved verbatim for unknown types
	Data       json.RawMessage
	EnqueuedAt time.Time
	RetryCount int
}

// Payload decodes the mutation's data into its typed variant.
func (m *PendingMutation) Payload() (Payload, error) {
	return DecodePayload(m.Type, m.Data)
}

// Snapshot is the persisted queue state. Mutations are FIFO by enqueue order
// and contain only records not yet permanently resolved.
type Snapshot struct {
	Mutations         []PendingMutation
	LastSyncAttemptAt *time.Time
}

// Len returns the number of pending mutations.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}

	return len(s.Mutations)
}

// SyncStatus is the read-only view exposed to UI callers.
type SyncStatus struct {
	IsOnline          bool       `json:"is_online"`
	IsRunning         bool       `json:"is_running"`
	PendingCount      int        `json:"pending_count"`
	LastSyncAttemptAt *time.Time `json:"last_sync_attempt_at,omitempty"`
}

// TriggerSource identifies what woke the orchestrator.
type TriggerSource int

// Trigger sources.
const (
	TriggerTimer TriggerSource = iota
	TriggerNetwork
	TriggerManual
)

func (t TriggerSource) String() string {
	switch t {
	case TriggerTimer:
		return "timer"
	case TriggerNetwork:
		return "network"
	case TriggerManual:
		return "manual"
	default:
		return "unknown"
	}
}

// PassReport summarizes one traversal of the queue.
type PassReport struct {
	Trigger    TriggerSource
	Attempted  int
	Succeeded  int
	Retried    int
	Dropped    int
	Remaining  int
	Aborted    bool
	AbortErr   error
	Categories []Category
	Duration   time.Duration
}
