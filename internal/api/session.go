package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/journal-sync/internal/tokenfile"
)

// AuthConfig describes the OAuth2 public client used for device login.
type AuthConfig struct {
	ClientID      string
	DeviceAuthURL string
	TokenURL      string
	Scopes        []string
}

func (a AuthConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: a.ClientID,
		Scopes:   a.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: a.DeviceAuthURL,
			TokenURL:      a.TokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// Session is the signed-in state backed by the session file. It tracks the
// file on disk, so a long-running process sees login and logout done by
// another invocation of the CLI. Refreshed tokens are persisted.
type Session struct {
	path   string
	cfg    *oauth2.Config
	ctx    context.Context
	logger *slog.Logger

	mu      sync.Mutex
	file    *tokenfile.File
	src     oauth2.TokenSource
	modTime time.Time
}

// OpenSession loads the session at path. A missing file is not an error:
// the session is simply signed out. ctx is bound into token refresh and
// must outlive the Session.
func OpenSession(ctx context.Context, path string, auth AuthConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		path:   path,
		cfg:    auth.oauth2Config(),
		ctx:    ctx,
		logger: logger,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(); err != nil {
		return nil, err
	}

	return s, nil
}

// reloadLocked re-reads the session file if its modification time changed.
func (s *Session) reloadLocked() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.file != nil {
			s.logger.Info("session file removed, signed out", slog.String("path", s.path))
		}

		s.file, s.src, s.modTime = nil, nil, time.Time{}

		return nil
	}

	if err != nil {
		return fmt.Errorf("api: stat session %s: %w", s.path, err)
	}

	if s.file != nil && info.ModTime().Equal(s.modTime) {
		return nil
	}

	tf, err := tokenfile.Load(s.path)
	if err != nil {
		return err
	}

	s.file = tf
	s.modTime = info.ModTime()
	s.src = nil

	if tf != nil {
		s.src = oauth2.ReuseTokenSource(tf.Token, s.cfg.TokenSource(s.ctx, tf.Token))

		s.logger.Debug("session loaded",
			slog.String("path", s.path),
			slog.Time("expiry", tf.Token.Expiry),
			slog.Bool("has_user", tf.UserID() != ""),
		)
	}

	return nil
}

// CurrentUser returns the signed-in user, or nil when signed out or when
// login has not yet recorded the user's identity.
func (s *Session) CurrentUser() *User {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(); err != nil {
		s.logger.Warn("reading session failed", slog.String("error", err.Error()))
	}

	id := s.file.UserID()
	if id == "" {
		return nil
	}

	return &User{
		ID:          id,
		Email:       s.file.Meta[tokenfile.MetaEmail],
		DisplayName: s.file.Meta[tokenfile.MetaDisplayName],
	}
}

// Token returns a valid access token, refreshing and persisting it when
// expired. Implements TokenSource.
func (s *Session) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reloadLocked(); err != nil {
		return "", err
	}

	if s.src == nil {
		return "", ErrNotLoggedIn
	}

	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("api: obtaining token: %w", err)
	}

	if tok.AccessToken != s.file.Token.AccessToken {
		s.persistLocked(tok)
	}

	return tok.AccessToken, nil
}

func (s *Session) persistLocked(tok *oauth2.Token) {
	next := s.file.WithToken(tok)

	if err := tokenfile.Save(s.path, next); err != nil {
		s.logger.Warn("failed to persist refreshed token",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return
	}

	s.file = next

	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}

	s.logger.Info("persisted refreshed token", slog.Time("expiry", tok.Expiry))
}

// SetUser records the signed-in user's identity in the session file.
func (s *Session) SetUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := map[string]string{tokenfile.MetaUserID: u.ID}
	if u.Email != "" {
		meta[tokenfile.MetaEmail] = u.Email
	}

	if u.DisplayName != "" {
		meta[tokenfile.MetaDisplayName] = u.DisplayName
	}

	if err := tokenfile.MergeMeta(s.path, meta); err != nil {
		return fmt.Errorf("api: recording user: %w", err)
	}

	// Force a reload even if the mtime granularity hides the write.
	s.file = nil

	return s.reloadLocked()
}

// Logout deletes the session file.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := tokenfile.Remove(s.path); err != nil {
		return err
	}

	s.file, s.src, s.modTime = nil, nil, time.Time{}

	s.logger.Info("signed out", slog.String("path", s.path))

	return nil
}

// Path returns the session file location.
func (s *Session) Path() string {
	return s.path
}
