package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/journal-sync/internal/api"
	"github.com/tonimelisma/journal-sync/internal/notify"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// profileCacheKey caches GET /me under the profile category.
const profileCacheKey = "me"

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync continuously in the foreground",
		Long: `Run the sync daemon until interrupted.

Syncs on a timer, whenever connectivity returns, and on request from
'journal-sync sync'. With notify.listen_addr set, also serves a websocket
endpoint that broadcasts cache invalidations after each pass.`,
		RunE: runWatch,
	}
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	cleanup, err := writePIDFile(cc.Cfg.PIDPath())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := shutdownContext(cmd.Context(), cc.Logger)

	a, err := openApp(ctx, cc)
	if err != nil {
		return err
	}
	defer a.Close()

	cache := notify.NewMemoryCache()

	var hub *notify.Hub
	if cc.Cfg.Notify.ListenAddr != "" {
		hub = notify.NewHub(cc.Logger)
		hub.Handle("GET /me", profileHandler(a.client, cache, cc.Logger))
	}

	orch := a.orchestrator(hub, cache)
	if err := orch.Start(ctx); err != nil {
		return err
	}
	defer orch.Stop()

	notifySyncRequests(ctx, cc.Logger, func() { orch.Trigger(sync.TriggerManual) })

	cc.Statusf("Watching. Press Ctrl-C to stop.\n")

	// Catch up on anything queued while no daemon was running.
	if a.monitor.Refresh(ctx) {
		orch.Trigger(sync.TriggerManual)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.monitor.Run(gctx, func() { orch.Trigger(sync.TriggerNetwork) })
	})

	if hub != nil {
		g.Go(func() error {
			return hub.ListenAndServe(gctx, cc.Cfg.Notify.ListenAddr)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	cc.Logger.Info("watch stopped")

	return nil
}

// profileHandler serves the signed-in user from cache, filling it from the
// service on a miss. A profile update pass drops the entry.
func profileHandler(client *api.Client, cache *notify.MemoryCache, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := cache.GetOrFill(r.Context(), profileCacheKey, []string{string(sync.CategoryProfile)},
			func(ctx context.Context) (any, error) {
				return client.Me(ctx)
			})
		if err != nil {
			logger.Warn("fetching profile", slog.String("error", err.Error()))

			status := http.StatusBadGateway
			if errors.Is(err, api.ErrNotLoggedIn) {
				status = http.StatusUnauthorized
			}

			http.Error(w, err.Error(), status)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(v); err != nil {
			logger.Debug("writing profile response", slog.String("error", err.Error()))
		}
	})
}
