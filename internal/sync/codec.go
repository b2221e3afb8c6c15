package sync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// queueFormatVersion is the current persisted record version. Bump it and
// register a step in queueMigrations whenever the envelope changes.
const queueFormatVersion = 1

// queueRecord is the on-disk envelope for the queue, stored under a single
// durable key.
type queueRecord struct {
	Version         int              `json:"version"`
	Mutations       []mutationRecord `json:"mutations"`
	LastSyncAttempt json.RawMessage  `json:"lastSyncAttempt,omitempty"`
}

type mutationRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data"`
	Timestamp  json.RawMessage `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
}

// errUnsupportedVersion is returned for records written by a newer build.
var errUnsupportedVersion = errors.New("sync: unsupported queue format version")

// queueMigrations maps a version to the step that upgrades it to version+1.
// Steps only reshape the envelope; payload bytes are carried over verbatim.
var queueMigrations = map[int]func(*queueRecord) error{
	0: migrateV0ToV1,
}

// migrateV0ToV1 upgrades unversioned records. Version 0 stored timestamps as
// epoch milliseconds; version 1 stores RFC 3339 strings.
func migrateV0ToV1(rec *queueRecord) error {
	for i := range rec.Mutations {
		ts, err := normalizeTimestamp(rec.Mutations[i].Timestamp)
		if err != nil {
			return fmt.Errorf("mutation %d timestamp: %w", i, err)
		}

		rec.Mutations[i].Timestamp = ts
	}

	if len(rec.LastSyncAttempt) > 0 {
		ts, err := normalizeTimestamp(rec.LastSyncAttempt)
		if err != nil {
			return fmt.Errorf("lastSyncAttempt: %w", err)
		}

		rec.LastSyncAttempt = ts
	}

	rec.Version = 1

	return nil
}

// normalizeTimestamp converts an epoch-millisecond number to an RFC 3339
// JSON string. Strings and null pass through unchanged.
func normalizeTimestamp(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' || bytes.Equal(trimmed, []byte("null")) {
		return raw, nil
	}

	ms, err := strconv.ParseInt(string(trimmed), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("not an epoch-ms number: %s", trimmed)
	}

	return json.Marshal(time.UnixMilli(ms).UTC().Format(time.RFC3339Nano))
}

// encodeSnapshot serializes a snapshot in the current record version.
func encodeSnapshot(s *Snapshot) ([]byte, error) {
	rec := queueRecord{
		Version:   queueFormatVersion,
		Mutations: make([]mutationRecord, 0, len(s.Mutations)),
	}

	for i := range s.Mutations {
		m := &s.Mutations[i]

		ts, err := json.Marshal(m.EnqueuedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("sync: encoding timestamp for %s: %w", m.ID, err)
		}

		typeName := m.TypeName
		if m.Type != MutationUnknown {
			typeName = m.Type.String()
		}

		rec.Mutations = append(rec.Mutations, mutationRecord{
			ID:         m.ID,
			Type:       typeName,
			Data:       m.Data,
			Timestamp:  ts,
			RetryCount: m.RetryCount,
		})
	}

	if s.LastSyncAttemptAt != nil {
		ts, err := json.Marshal(s.LastSyncAttemptAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, fmt.Errorf("sync: encoding last sync attempt: %w", err)
		}

		rec.LastSyncAttempt = ts
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("sync: encoding queue: %w", err)
	}

	return data, nil
}

// decodeSnapshot parses a persisted record, migrating older versions.
// Records with an unrecognized mutation type are kept (TypeName preserved)
// so the executor can drop them as permanent failures with an error log.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var rec queueRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("sync: decoding queue: %w", err)
	}

	if rec.Version > queueFormatVersion {
		return nil, fmt.Errorf("%w: %d (this build reads up to %d)",
			errUnsupportedVersion, rec.Version, queueFormatVersion)
	}

	for rec.Version < queueFormatVersion {
		step, ok := queueMigrations[rec.Version]
		if !ok {
			return nil, fmt.Errorf("%w: no migration from %d", errUnsupportedVersion, rec.Version)
		}

		from := rec.Version
		if err := step(&rec); err != nil {
			return nil, fmt.Errorf("sync: migrating queue from version %d: %w", from, err)
		}
	}

	snap := &Snapshot{Mutations: make([]PendingMutation, 0, len(rec.Mutations))}
	seen := make(map[string]bool, len(rec.Mutations))

	for i := range rec.Mutations {
		r := &rec.Mutations[i]

		if r.ID == "" {
			return nil, fmt.Errorf("sync: mutation %d has no id", i)
		}

		if seen[r.ID] {
			return nil, fmt.Errorf("sync: duplicate mutation id %s", r.ID)
		}

		seen[r.ID] = true

		if r.RetryCount < 0 {
			return nil, fmt.Errorf("sync: mutation %s has negative retry count %d", r.ID, r.RetryCount)
		}

		enqueuedAt, err := parseTimestamp(r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("sync: mutation %s timestamp: %w", r.ID, err)
		}

		// Unknown types are kept, not rejected; see doc comment.
		mt, _ := ParseMutationType(r.Type) //nolint:errcheck // MutationUnknown is the signal

		snap.Mutations = append(snap.Mutations, PendingMutation{
			ID:         r.ID,
			Type:       mt,
			TypeName:   r.Type,
			Data:       r.Data,
			EnqueuedAt: enqueuedAt,
			RetryCount: r.RetryCount,
		})
	}

	if len(rec.LastSyncAttempt) > 0 {
		last, err := parseTimestamp(rec.LastSyncAttempt)
		if err != nil {
			return nil, fmt.Errorf("sync: lastSyncAttempt: %w", err)
		}

		if !last.IsZero() {
			snap.LastSyncAttemptAt = &last
		}
	}

	return snap, nil
}

// parseTimestamp reads an RFC 3339 JSON string. null yields the zero time.
func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return time.Time{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("not a string: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %q: %w", s, err)
	}

	return t, nil
}
