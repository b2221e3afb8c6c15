package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// syncSignal asks a running watch daemon for an immediate pass.
const syncSignal = syscall.SIGUSR1

// shutdownContext returns a context that cancels on the first SIGINT/SIGTERM
// and force-exits on the second. This gives an in-flight pass time to
// commit on first signal, while allowing the user to force-quit if something
// hangs.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown",
				slog.String("signal", sig.String()),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		// Wait for second signal: force exit.
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}

// notifySyncRequests calls fn for every syncSignal until ctx is canceled.
// fn must not block.
func notifySyncRequests(ctx context.Context, logger *slog.Logger, fn func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syncSignal)

	go func() {
		defer signal.Stop(sigCh)

		for {
			select {
			case <-sigCh:
				logger.Debug("sync requested by signal")
				fn()
			case <-ctx.Done():
				return
			}
		}
	}()
}
