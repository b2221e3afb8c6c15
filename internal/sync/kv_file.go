package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// File backend permissions: owner-only, like token files.
const (
	kvFilePerms = 0o600
	kvDirPerms  = 0o700
)

// validKVKey restricts keys to names that are safe as file names.
var validKVKey = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// FileKV stores each key as a JSON file in a directory. Writes are atomic
// (temp file in the same directory, fsync, rename).
type FileKV struct {
	dir string
}

// NewFileKV creates the directory if needed and returns a FileKV rooted at it.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, kvDirPerms); err != nil {
		return nil, fmt.Errorf("sync: creating state directory %s: %w", dir, err)
	}

	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) (string, error) {
	if !validKVKey.MatchString(key) {
		return "", fmt.Errorf("sync: invalid key %q", key)
	}

	return filepath.Join(f.dir, key+".json"), nil
}

// Get reads the file for key. Missing file returns (nil, nil).
func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sync: reading %s: %w", p, err)
	}

	return data, nil
}

// Put writes value atomically.
func (f *FileKV) Put(_ context.Context, key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("sync: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, kvFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: setting permissions: %w", err)
	}

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: writing %s: %w", tmpPath, err)
	}

	// Flush before rename so a power loss cannot leave a truncated queue.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: syncing %s: %w", tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sync: closing %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		return fmt.Errorf("sync: renaming into %s: %w", p, err)
	}

	success = true

	return nil
}

// Delete removes the file for key if present.
func (f *FileKV) Delete(_ context.Context, key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sync: removing %s: %w", p, err)
	}

	return nil
}

// Close is a no-op; FileKV holds no open handles.
func (f *FileKV) Close() error { return nil }
