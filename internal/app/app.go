// Package app wires the settlement engine together (ledger, stores, caches,
// event sinks, payout rail, services and notifications) and runs the
// goroutines of the configured mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/stakefund/internal/config"
)

// App owns the configuration and the cleanup of everything Wire opened.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	cleanup   func()
	closeOnce sync.Once
}

// New creates an App. Nothing is opened until Run.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// runners maps each mode to its run function.
var runners = map[string]func(*App, context.Context, *Dependencies) error{
	"server":    (*App).ServerMode,
	"scheduler": (*App).SchedulerMode,
	"full":      (*App).FullMode,
	"dev":       (*App).FullMode,
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails. Call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := runners[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.cleanup = cleanup
	return run(a, ctx, deps)
}

// Close releases everything Run opened. Later calls do nothing.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application")
		if a.cleanup != nil {
			a.cleanup()
		}
	})
}
