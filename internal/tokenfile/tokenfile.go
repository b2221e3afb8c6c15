// Package tokenfile reads and writes the session file: the OAuth2 token plus
// the identity of the signed-in user. It is a leaf package so that both the
// CLI and the api client can use it without an import cycle.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// Metadata keys cached alongside the token.
const (
	MetaUserID      = "user_id"
	MetaEmail       = "email"
	MetaDisplayName = "display_name"
)

// File is the on-disk session format.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// UserID returns the cached user ID, or "" when login has not recorded one.
func (f *File) UserID() string {
	if f == nil {
		return ""
	}

	return f.Meta[MetaUserID]
}

// WithToken returns a copy of f carrying tok, preserving metadata.
func (f *File) WithToken(tok *oauth2.Token) *File {
	out := &File{Token: tok}
	if f != nil && f.Meta != nil {
		out.Meta = maps.Clone(f.Meta)
	}

	return out
}

// Load reads the session file. Returns (nil, nil) if it does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field (re-login required)", path)
	}

	return &tf, nil
}

// Save writes the session file atomically (temp file, fsync, rename) with
// 0600 permissions. Never logs token values.
func Save(path string, tf *File) error {
	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// MergeMeta reads the session file, overwrites the given metadata keys, and
// saves. The file must exist.
func MergeMeta(path string, meta map[string]string) error {
	tf, err := Load(path)
	if err != nil {
		return fmt.Errorf("tokenfile: reading for metadata update: %w", err)
	}

	if tf == nil {
		return fmt.Errorf("tokenfile: no session file at %s", path)
	}

	if tf.Meta == nil {
		tf.Meta = make(map[string]string, len(meta))
	}

	maps.Copy(tf.Meta, meta)

	return Save(path, tf)
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return nil
}
