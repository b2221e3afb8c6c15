package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/tonimelisma/journal-sync/internal/api"
	"github.com/tonimelisma/journal-sync/internal/config"
	"github.com/tonimelisma/journal-sync/internal/notify"
	"github.com/tonimelisma/journal-sync/internal/sync"
)

// stateDirPerms matches the token file's directory permissions.
const stateDirPerms = 0o700

// app is the composition root shared by every command that touches the
// queue or the remote service.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store   *sync.QueueStore
	session *api.Session
	client  *api.Client
	monitor *sync.NetworkMonitor
}

// openApp opens the queue and session named by cfg. Callers must Close it.
func openApp(ctx context.Context, cc *CLIContext) (*app, error) {
	cfg := cc.Cfg

	if err := os.MkdirAll(cfg.StateDir(), stateDirPerms); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	store, err := openQueueStore(ctx, cfg, cc.Logger)
	if err != nil {
		return nil, err
	}

	session, err := api.OpenSession(context.WithoutCancel(ctx), cfg.SessionPath(), authConfig(cfg), cc.Logger)
	if err != nil {
		_ = store.Close()

		return nil, fmt.Errorf("opening session: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.APITimeout()}

	a := &app{
		cfg:     cfg,
		logger:  cc.Logger,
		store:   store,
		session: session,
		client: api.NewClient(cfg.API.BaseURL, httpClient, session, cc.Logger,
			cfg.API.UserAgent, cfg.API.TransportRetries),
		monitor: sync.NewNetworkMonitor(connectivitySource(cfg, httpClient, cc.Logger), cc.Logger),
	}

	return a, nil
}

// openQueueStore opens the configured KeyValue backend and wraps it in a
// QueueStore.
func openQueueStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sync.QueueStore, error) {
	var (
		kv  sync.KeyValue
		err error
	)

	switch cfg.Sync.Store {
	case config.StoreFile:
		kv, err = sync.NewFileKV(cfg.StateDir())
	default:
		kv, err = sync.NewSQLiteKV(ctx, cfg.QueuePath(), logger)
	}

	if err != nil {
		return nil, fmt.Errorf("opening queue store: %w", err)
	}

	return sync.NewQueueStore(kv, logger), nil
}

// connectivitySource picks the file source when a state file is configured,
// else the HTTP probe.
func connectivitySource(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) sync.ConnectivitySource {
	if cfg.Network.StateFile != "" {
		return sync.NewFileSource(cfg.Network.StateFile, logger)
	}

	return sync.NewProbeSource(cfg.ProbeURL(), cfg.ProbeInterval(), cfg.ProbeTimeout(), httpClient, logger)
}

func authConfig(cfg *config.Config) api.AuthConfig {
	return api.AuthConfig{
		ClientID:      cfg.Auth.ClientID,
		DeviceAuthURL: cfg.Auth.DeviceAuthURL,
		TokenURL:      cfg.Auth.TokenURL,
		Scopes:        cfg.Auth.Scopes,
	}
}

// orchestrator wires an Orchestrator over the app's collaborators. hub may
// be nil; caches receive category invalidations after each pass.
func (a *app) orchestrator(hub *notify.Hub, caches ...sync.ReadCache) *sync.Orchestrator {
	var broadcaster sync.Broadcaster
	if hub != nil {
		broadcaster = hub
	}

	return sync.NewOrchestrator(&sync.OrchestratorConfig{
		Store:       a.store,
		Executor:    sync.NewExecutor(a.client, a.session, a.logger),
		Sessions:    a.session,
		Invalidator: sync.NewCategoryInvalidator(a.logger, broadcaster, caches...),
		Network:     a.monitor,
		Policy:      sync.NewRetryPolicy(a.cfg.Sync.MaxRetry),
		Interval:    a.cfg.SyncInterval(),
		Logger:      a.logger,
	})
}

// requireUser returns the signed-in user or a hint to log in.
func (a *app) requireUser() (*api.User, error) {
	u := a.session.CurrentUser()
	if u == nil {
		return nil, errNotLoggedIn
	}

	return u, nil
}

var errNotLoggedIn = errors.New("not logged in, run 'journal-sync login' first")

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing queue store", slog.String("error", err.Error()))
	}
}
