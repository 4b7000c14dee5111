package cli

import (
	"context"
	"log/slog"

	"github.com/wrenware/taskmirror/internal/engine"
	"github.com/wrenware/taskmirror/internal/gateway/google"
	"github.com/wrenware/taskmirror/internal/policy"
	"github.com/wrenware/taskmirror/internal/state"
	"github.com/wrenware/taskmirror/internal/vault"
)

// app bundles the pieces a command needs after config loading.
type app struct {
	cfg    *policy.Config
	pol    policy.SyncPolicy
	store  *state.Store
	logger *slog.Logger
}

// openApp loads and validates the config and opens the state store.
// No network access happens here.
func openApp(opts *RootOptions) (*app, error) {
	path, err := configPath(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "locating config", err)
	}
	cfg, err := policy.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	pol, err := cfg.Policy()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid policy", err)
	}
	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening state database", err)
	}
	return &app{cfg: cfg, pol: pol, store: store, logger: slog.Default()}, nil
}

func (a *app) close() {
	_ = a.store.Close()
}

// buildEngine attaches the remote gateway and the vault source. This
// is the first point that needs valid credentials.
func (a *app) buildEngine(ctx context.Context) (*engine.Engine, error) {
	gw, err := google.New(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "connecting to calendar service", err)
	}
	src := vault.NewSource(a.cfg.VaultDir, a.cfg.ExcludeGlobs, a.logger)
	return engine.New(engine.Config{
		Store:   a.store,
		Gateway: gw,
		Source:  src,
		Policy:  a.pol,
		Logger:  a.logger,
	}), nil
}
