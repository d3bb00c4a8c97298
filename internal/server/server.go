// Package server exposes the settlement engine over HTTP: a JSON API, a
// websocket event feed and prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/metrics"
	"github.com/alanyoungcy/stakefund/internal/server/handler"
	"github.com/alanyoungcy/stakefund/internal/server/middleware"
	"github.com/alanyoungcy/stakefund/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	Auth        middleware.AuthConfig
	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// Metrics serves /metrics when set.
	Metrics bool
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Markets    *handler.MarketHandler
	Pool       *handler.PoolHandler
	Reputation *handler.ReputationHandler
	Admin      *handler.AdminHandler
	Events     *handler.EventsHandler // nil without a signal bus
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// Mutating routes require a signed request; reads are open.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	signed := middleware.Signed(cfg.Auth, logger)
	sign := func(fn http.HandlerFunc) http.Handler { return signed(fn) }

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	// Market engine.
	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.Handle("POST /api/markets", sign(h.Markets.CreateMarket))
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/odds", h.Markets.GetOdds)
	mux.HandleFunc("GET /api/markets/{id}/bets", h.Markets.ListBets)
	mux.Handle("POST /api/markets/{id}/bets", sign(h.Markets.PlaceBet))
	mux.Handle("POST /api/markets/{id}/bets/increase", sign(h.Markets.IncreaseBet))
	mux.Handle("POST /api/markets/{id}/close", sign(h.Markets.CloseMarket))
	mux.Handle("POST /api/markets/{id}/resolve", sign(h.Markets.ResolveMarket))
	mux.HandleFunc("GET /api/bets/{id}", h.Markets.GetBet)
	mux.HandleFunc("GET /api/bets/{id}/claimable", h.Markets.GetClaimable)
	mux.Handle("POST /api/bets/{id}/claim", sign(h.Markets.ClaimRewards))
	mux.HandleFunc("GET /api/engine", h.Markets.GetEngine)
	mux.HandleFunc("GET /api/engine/counters", h.Markets.GetCounters)
	mux.Handle("POST /api/engine/sweep", sign(h.Markets.Sweep))

	// Funding pool.
	mux.HandleFunc("GET /api/pool/stats", h.Pool.GetStats)
	mux.Handle("POST /api/pool/allocations", sign(h.Pool.Allocate))
	mux.Handle("POST /api/pool/allocations/batch", sign(h.Pool.BatchAllocate))
	mux.HandleFunc("GET /api/pool/projects/{id}", h.Pool.GetProject)
	mux.HandleFunc("GET /api/pool/projects/{id}/tokens", h.Pool.GetGrant)
	mux.HandleFunc("GET /api/pool/projects/{id}/tokens/{addr}", h.Pool.GetUserGrant)
	mux.Handle("POST /api/pool/projects/{id}/release", sign(h.Pool.Release))
	mux.Handle("POST /api/pool/projects/{id}/grants", sign(h.Pool.Grant))
	mux.HandleFunc("GET /api/pool/releases/{milestone_id}", h.Pool.GetRelease)

	// Reputation.
	mux.HandleFunc("GET /api/users/{addr}/stats", h.Reputation.GetStats)
	mux.HandleFunc("GET /api/users/{addr}/badges", h.Reputation.GetUserBadges)
	mux.HandleFunc("GET /api/users/{addr}/achievements/{type}", h.Reputation.HasAchievement)
	mux.HandleFunc("GET /api/users/{addr}/tokens", h.Pool.GetUserTokens)
	mux.HandleFunc("GET /api/leaderboard", h.Reputation.Leaderboard)
	mux.HandleFunc("GET /api/badges/count", h.Reputation.CountBadges)
	mux.HandleFunc("GET /api/badges/{id}", h.Reputation.GetBadge)
	mux.Handle("POST /api/badges", sign(h.Reputation.Mint))
	mux.Handle("POST /api/badges/top-predictor", sign(h.Reputation.MintTopPredictor))
	mux.Handle("POST /api/badges/{id}/transfer", sign(h.Reputation.Transfer))

	// Transfers and administration.
	mux.HandleFunc("GET /api/transfers", h.Admin.ListTransfers)
	mux.HandleFunc("GET /api/transfers/{id}", h.Admin.GetTransfer)
	mux.Handle("POST /api/admin/pause", sign(h.Admin.Pause))
	mux.Handle("POST /api/admin/unpause", sign(h.Admin.Unpause))
	mux.Handle("POST /api/admin/emergency-withdraw", sign(h.Admin.EmergencyWithdraw))
	mux.Handle("PUT /api/admin/params", sign(h.Admin.UpdateParams))
	mux.Handle("POST /api/admin/transfers/{id}/redispatch", sign(h.Admin.Redispatch))
	mux.Handle("GET /api/admin/audit", sign(h.Admin.ListAudit))
	mux.Handle("GET /api/admin/archives/{kind}", sign(h.Admin.ListArchives))
	mux.Handle("GET /api/admin/archives/{kind}/{month}", sign(h.Admin.DownloadArchive))

	if h.Events != nil {
		mux.HandleFunc("GET /api/events", h.Events.ListEvents)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if cfg.Metrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	var root http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(root)
	}
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
