package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect or reset the local change queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Discard every queued change without syncing it",
		RunE:  runQueueClear,
	})

	return cmd
}

func runQueueClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	// Clearing under a live daemon would race its commit.
	if _, pid, err := liveDaemon(cc.Cfg.PIDPath()); err == nil {
		return fmt.Errorf("watch daemon is running (PID %d), stop it before clearing the queue", pid)
	}

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.store.Load(ctx).Len()

	if err := a.store.Clear(ctx); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}

	cc.Logger.Info("queue cleared", slog.Int("discarded", n))
	cc.Statusf("Discarded %d queued change(s).\n", n)

	return nil
}
