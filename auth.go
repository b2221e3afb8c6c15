package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/api"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Sign in with the device code flow",
		RunE:  runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved session and discard unsynced writes",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the signed-in user",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	ctx := shutdownContext(cmd.Context(), logger)
	cfg := cc.Cfg

	if err := os.MkdirAll(cfg.StateDir(), stateDirPerms); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	session, err := api.Login(ctx, cfg.SessionPath(), authConfig(cfg), func(da api.DeviceAuth) {
		// Device code prompts must always be visible, even with --quiet.
		fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
		fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)
	}, logger)
	if err != nil {
		return err
	}

	client := api.NewClient(cfg.API.BaseURL, &http.Client{Timeout: cfg.APITimeout()}, session, logger,
		cfg.API.UserAgent, cfg.API.TransportRetries)

	user, err := client.Me(ctx)
	if err != nil {
		return fmt.Errorf("fetching user profile: %w", err)
	}

	if err := session.SetUser(user); err != nil {
		return err
	}

	logger.Info("login complete", slog.String("user_id", user.ID))
	cc.Statusf("Signed in as %s.\n", userLabel(user))

	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	pending := a.store.Load(ctx).Len()

	if err := a.session.Logout(); err != nil {
		return err
	}

	// Queued writes belong to the session that made them.
	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}

	cc.Logger.Info("logout complete", slog.Int("discarded", pending))

	if pending > 0 {
		cc.Statusf("Signed out. Discarded %d unsynced change(s).\n", pending)
	} else {
		cc.Statusf("Signed out.\n")
	}

	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	a, err := openApp(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := a.requireUser()
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(user); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	fmt.Printf("User: %s\n", userLabel(user))
	fmt.Printf("ID:   %s\n", user.ID)

	return nil
}

func userLabel(u *api.User) string {
	switch {
	case u.DisplayName != "" && u.Email != "":
		return fmt.Sprintf("%s (%s)", u.DisplayName, u.Email)
	case u.Email != "":
		return u.Email
	case u.DisplayName != "":
		return u.DisplayName
	default:
		return u.ID
	}
}
