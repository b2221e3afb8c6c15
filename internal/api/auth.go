package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/journal-sync/internal/tokenfile"
)

// DeviceAuth holds the device code response fields that the CLI displays.
type DeviceAuth struct {
	UserCode        string
	VerificationURI string
}

// Login performs the OAuth2 device code flow:
//  1. Requests a device code
//  2. Calls display so the CLI can show the user code and verification URL
//  3. Polls until the user authorizes (blocking, respects ctx cancellation)
//  4. Saves the token to the session file at path
//
// The returned Session has a token but no user yet; the caller looks the
// user up with Client.Me and records it with Session.SetUser.
func Login(ctx context.Context, path string, auth AuthConfig, display func(DeviceAuth), logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := auth.oauth2Config()

	logger.Info("starting device code auth flow", slog.String("path", path))

	da, err := cfg.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("api: device auth request failed: %w", err)
	}

	display(DeviceAuth{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
	})

	tok, err := cfg.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("api: device code authorization failed: %w", err)
	}

	if err := tokenfile.Save(path, &tokenfile.File{Token: tok}); err != nil {
		return nil, fmt.Errorf("api: saving token: %w", err)
	}

	logger.Info("login successful",
		slog.String("path", path),
		slog.Time("expiry", tok.Expiry),
	)

	return OpenSession(context.WithoutCancel(ctx), path, auth, logger)
}
