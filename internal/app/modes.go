package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/stakefund/internal/pipeline"
	"github.com/alanyoungcy/stakefund/internal/server"
	"github.com/alanyoungcy/stakefund/internal/server/handler"
	"github.com/alanyoungcy/stakefund/internal/server/middleware"
	"github.com/alanyoungcy/stakefund/internal/server/ws"
	"github.com/alanyoungcy/stakefund/internal/service"
)

// ServerMode serves the HTTP API and websocket feed. Markets advance only
// through API calls; run a scheduler elsewhere to close and resolve them.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// SchedulerMode runs the resolution scheduler and, when s3 is configured, the
// archive job. Several instances may run; the scheduler lock keeps passes
// exclusive.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API, the scheduler and the archive job in one process. Dev
// mode is full mode on in-memory stores.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode", slog.String("mode", a.cfg.Mode))

	g, ctx := errgroup.WithContext(ctx)
	a.startScheduler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return ignoreCanceled(g.Wait())
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sched := service.NewScheduler(
		deps.Engine,
		deps.Dispatcher,
		deps.Registry,
		deps.LockManager,
		deps.Notifier,
		service.SchedulerConfig{
			PollInterval:  a.cfg.Scheduler.PollInterval.Duration,
			SweepInterval: a.cfg.Scheduler.SweepInterval.Duration,
			LockTTL:       a.cfg.Scheduler.LockTTL.Duration,
		},
		a.logger,
	)
	g.Go(func() error {
		return sched.Run(ctx)
	})
}

func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		a.logger.InfoContext(ctx, "s3 disabled, ledger archive not scheduled")
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Scheduler.ArchiveAfterDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Scheduler.ArchiveCron)
	})
}

// startHTTPServer adds an HTTP server goroutine and the websocket hub to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	sc := a.cfg.Server
	if sc.TrustedCallers {
		a.logger.WarnContext(ctx, "server.trusted_callers is set: requests are not signature checked")
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: sc.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Markets:    handler.NewMarketHandler(deps.Engine, a.logger),
		Pool:       handler.NewPoolHandler(deps.Pool, a.logger),
		Reputation: handler.NewReputationHandler(deps.Reputation, a.logger),
		Admin: handler.NewAdminHandler(deps.Pool, deps.Engine, deps.Reputation, deps.Dispatcher,
			deps.Audit, deps.Archives, deps.Authority, a.logger),
		Events: handler.NewEventsHandler(deps.SignalBus, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		Auth: middleware.AuthConfig{
			Nonces:  deps.Nonces,
			Window:  sc.AuthWindow.Duration,
			Trusted: sc.TrustedCallers,
		},
		RateLimit:  sc.RateLimit,
		RateWindow: sc.RateWindow.Duration,
		Metrics:    a.cfg.Metrics.Enabled,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats shutdown by context cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
