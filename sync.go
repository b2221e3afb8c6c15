package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/journal-sync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes to the journal service now",
		Long: `Run one sync pass over the queue.

If a watch daemon is running for the same state directory, the pass is
delegated to it. Otherwise the pass runs in this process, after checking
connectivity.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := shutdownContext(cmd.Context(), cc.Logger)

			a, err := openApp(ctx, cc)
			if err != nil {
				return err
			}
			defer a.Close()

			return requestSync(ctx, cc, a)
		},
	}
}

// requestSync asks a running daemon for a pass, or runs one in-process.
// Only one process may drain a queue, so a live daemon always wins.
func requestSync(ctx context.Context, cc *CLIContext, a *app) error {
	pid, err := signalDaemon(cc.Cfg.PIDPath(), syncSignal)
	if err == nil {
		cc.Logger.Info("sync delegated to watch daemon", slog.Int("pid", pid))
		cc.Statusf("Sync requested from watch daemon (PID %d).\n", pid)

		return nil
	}

	if !errors.Is(err, errNoDaemon) {
		return err
	}

	return syncInProcess(ctx, cc, a)
}

// syncInProcess samples connectivity once and runs a forced pass.
func syncInProcess(ctx context.Context, cc *CLIContext, a *app) error {
	a.monitor.Refresh(ctx)

	report, err := a.orchestrator(nil).ForceSyncNow(ctx)

	switch {
	case errors.Is(err, sync.ErrOffline):
		pending := a.store.Load(ctx).Len()
		return fmt.Errorf("offline, %d change(s) stay queued", pending)
	case err != nil:
		return err
	}

	return reportPass(cc, report)
}

// reportPass prints a pass summary. An aborted pass is an error.
func reportPass(cc *CLIContext, r *sync.PassReport) error {
	if r.Aborted {
		if errors.Is(r.AbortErr, sync.ErrAuthMissing) {
			return fmt.Errorf("%w (%d change(s) stay queued)", errNotLoggedIn, r.Remaining)
		}

		return fmt.Errorf("sync interrupted, %d change(s) stay queued: %w", r.Remaining, r.AbortErr)
	}

	if r.Attempted == 0 {
		cc.Statusf("Nothing to sync.\n")
		return nil
	}

	cc.Statusf("Synced %d of %d change(s)", r.Succeeded, r.Attempted)

	if r.Retried > 0 {
		cc.Statusf(", %d will be retried", r.Retried)
	}

	if r.Dropped > 0 {
		cc.Statusf(", %d dropped", r.Dropped)
	}

	cc.Statusf(".\n")

	return nil
}
