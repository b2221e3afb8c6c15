package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyValueBackends(t *testing.T) {
	backends := map[string]func(t *testing.T) KeyValue{
		"file": func(t *testing.T) KeyValue {
			kv, err := NewFileKV(filepath.Join(t.TempDir(), "kv"))
			require.NoError(t, err)

			return kv
		},
		"sqlite": func(t *testing.T) KeyValue {
			kv, err := NewSQLiteKV(context.Background(), filepath.Join(t.TempDir(), "kv.db"), testLogger(t))
			require.NoError(t, err)

			return kv
		},
	}

	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			kv := open(t)
			t.Cleanup(func() { assert.NoError(t, kv.Close()) })

			ctx := context.Background()

			got, err := kv.Get(ctx, "sync_queue")
			require.NoError(t, err)
			assert.Nil(t, got, "missing key reads as nil")

			require.NoError(t, kv.Put(ctx, "sync_queue", []byte(`{"v":1}`)))
			require.NoError(t, kv.Put(ctx, "sync_queue", []byte(`{"v":2}`)))

			got, err = kv.Get(ctx, "sync_queue")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(got))

			require.NoError(t, kv.Delete(ctx, "sync_queue"))
			require.NoError(t, kv.Delete(ctx, "sync_queue"))

			got, err = kv.Get(ctx, "sync_queue")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestSQLiteKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	ctx := context.Background()

	kv, err := NewSQLiteKV(ctx, path, testLogger(t))
	require.NoError(t, err)
	require.NoError(t, kv.Put(ctx, "k", []byte("value")))
	require.NoError(t, kv.Close())

	kv, err = NewSQLiteKV(ctx, path, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "value", string(got))
}

func TestSQLiteKV_NilLoggerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()

	kv, err := NewSQLiteKV(ctx, filepath.Join(t.TempDir(), "kv.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	require.NoError(t, kv.Put(ctx, "k", []byte("v")))
}

func TestMigrateKVSchema_ReportsVersionAndIsIdempotent(t *testing.T) {
	ctx := context.Background()

	kv, err := NewSQLiteKV(ctx, filepath.Join(t.TempDir(), "kv.db"), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	version, err := migrateKVSchema(ctx, kv.db, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	var tables int
	require.NoError(t, kv.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'kv_store'").Scan(&tables))
	assert.Equal(t, 1, tables)
}

func TestFileKV_RejectsUnsafeKeys(t *testing.T) {
	kv, err := NewFileKV(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"../escape", "a/b", "", "UPPER"} {
		require.Error(t, kv.Put(context.Background(), key, []byte("x")), key)
	}
}

func TestFileKV_OwnerOnlyPermissions(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	require.NoError(t, kv.Put(context.Background(), "sync_queue", []byte("{}")))

	info, err := os.Stat(filepath.Join(dir, "sync_queue.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(kvFilePerms), info.Mode().Perm())

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
