// Package app wires one bot process together: load the bot configuration and
// credentials, bring up the exchange clients, probe the venue, and hand
// everything to the engine loop.
package app

import (
	"context"
	"fmt"

	"marlin/internal/config"
	"marlin/internal/engine"
	"marlin/internal/logger"
	"marlin/internal/profile"
	"marlin/internal/store"
)

// App owns the lifecycle of a single bot run. One process per bot config id;
// no cross-instance sharing.
type App struct {
	settings *config.Settings
	botCfg   *config.BotConfig
	store    store.Store
	profiles *profile.Registry
	engine   *engine.Engine
}

// NewApp builds the full dependency graph for the given bot config id.
// Everything that fails in here is a startup error: fatal, process exits
// non-zero before the loop ever runs.
func NewApp(ctx context.Context, settings *config.Settings, botID int64) (*App, error) {
	if settings == nil {
		return nil, fmt.Errorf("nil settings")
	}
	logger.SetLevel(settings.App.LogLevel)
	return buildAppWithWire(ctx, settings, botID)
}

// Run drives the engine until shutdown or a fatal error, then releases the
// process-owned handles.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer func() {
		if err := a.profiles.Close(); err != nil {
			logger.Warnf("app: closing profile registry: %v", err)
		}
		if err := a.store.Close(); err != nil {
			logger.Warnf("app: closing store: %v", err)
		}
	}()
	return a.engine.Run(ctx)
}

// Stop requests a graceful shutdown from any goroutine (signal handler).
func (a *App) Stop() {
	if a != nil && a.engine != nil {
		a.engine.Stop()
	}
}
