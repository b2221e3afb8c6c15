package sync

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var kvSchemaFS embed.FS

// walJournalSizeLimit caps the WAL file at 64 MiB.
const walJournalSizeLimit = 67108864

// KeyValue is the durable byte store under the queue. Get returns (nil, nil)
// when the key is absent.
type KeyValue interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// SQLiteKV stores values in the kv_store table of an embedded SQLite
// database in WAL mode. It is the sole writer of its *sql.DB
// (SetMaxOpenConns(1)).
type SQLiteKV struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteKV opens (or creates) the database at dbPath, applies pragmas and
// migrations. Use ":memory:" for tests.
func NewSQLiteKV(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteKV, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening sync state database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sync: open sqlite: %w", err)
	}

	// One connection: serializes writers and keeps ":memory:" databases
	// alive across calls.
	db.SetMaxOpenConns(1)

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := migrateKVSchema(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteKV{db: db, logger: logger}, nil
}

// migrateKVSchema brings the kv_store table up to date and returns the
// resulting schema version.
func migrateKVSchema(ctx context.Context, db *sql.DB, logger *slog.Logger) (int64, error) {
	schema, err := fs.Sub(kvSchemaFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("sync: kv schema files: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, schema)
	if err != nil {
		return 0, fmt.Errorf("sync: kv schema provider: %w", err)
	}

	applied, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: migrating kv schema: %w", err)
	}

	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("sync: reading kv schema version: %w", err)
	}

	if len(applied) > 0 {
		logger.Info("kv schema migrated",
			slog.Int("steps", len(applied)),
			slog.Int64("version", version),
		)
	} else {
		logger.Debug("kv schema current", slog.Int64("version", version))
	}

	return version, nil
}

// setPragmas configures SQLite for WAL mode and durability.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("sync: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// Get returns the value stored under key, or nil if absent.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: kv get %s: %w", key, err)
	}

	return value, nil
}

// Put upserts value under key.
func (s *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sync: kv put %s: %w", key, err)
	}

	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sync: kv delete %s: %w", key, err)
	}

	return nil
}

// Close releases the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
