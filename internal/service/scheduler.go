package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/metrics"
)

// SchedulerConfig controls the resolution scheduler.
type SchedulerConfig struct {
	PollInterval  time.Duration
	SweepInterval time.Duration // zero disables fee sweeps
	LockTTL       time.Duration
}

// Scheduler advances markets as their milestones come due and resolve: it
// closes open markets past their due date, resolves closed markets whose
// milestone the registry has resolved, pays stranded transfers and
// periodically sweeps fees into the pool. It acts as the authority through
// the engine's public entry points.
type Scheduler struct {
	engine     *MarketEngine
	dispatcher *Dispatcher
	registry   *RegistryRef
	locks      domain.LockManager
	alerter    Alerter
	cfg        SchedulerConfig
	now        func() time.Time
	lastSweep  time.Time
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler. locks and alerter may be nil.
func NewScheduler(
	engine *MarketEngine,
	dispatcher *Dispatcher,
	registry *RegistryRef,
	locks domain.LockManager,
	alerter Alerter,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * cfg.PollInterval
	}
	return &Scheduler{
		engine:     engine,
		dispatcher: dispatcher,
		registry:   registry,
		locks:      locks,
		alerter:    alerter,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

// Run ticks until ctx is cancelled. Call in a goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler started",
		slog.Duration("poll_interval", s.cfg.PollInterval),
		slog.Duration("sweep_interval", s.cfg.SweepInterval),
	)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// TickReport counts what one tick did.
type TickReport struct {
	Closed     int
	Resolved   int
	Dispatched int
	Swept      string
}

// Tick runs one scheduling pass. Only one instance runs a pass at a time when
// a lock manager is configured.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "scheduler", s.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "scheduler lock held elsewhere, skipping tick")
			metrics.RecordSchedulerRun(0, "skipped")
			return nil
		}
		if err != nil {
			metrics.RecordSchedulerRun(0, "error")
			return fmt.Errorf("scheduler: acquire lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	rep, err := s.pass(ctx)
	if err != nil {
		metrics.RecordSchedulerRun(time.Since(start), "error")
		return err
	}
	metrics.RecordSchedulerRun(time.Since(start), "ok")
	if rep.Closed+rep.Resolved+rep.Dispatched > 0 || rep.Swept != "" {
		s.logger.InfoContext(ctx, "scheduler pass",
			slog.Int("closed", rep.Closed),
			slog.Int("resolved", rep.Resolved),
			slog.Int("dispatched", rep.Dispatched),
			slog.String("swept", rep.Swept),
		)
	}
	return nil
}

func (s *Scheduler) pass(ctx context.Context) (TickReport, error) {
	var rep TickReport
	authority := s.engine.Authority()
	now := s.now()

	open, _, err := s.engine.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusOpen})
	if err != nil {
		return rep, fmt.Errorf("scheduler: list open markets: %w", err)
	}
	for _, m := range open {
		ms, err := s.registry.Get().GetMilestone(ctx, m.MilestoneID)
		if err != nil {
			s.logger.WarnContext(ctx, "milestone lookup failed",
				slog.Uint64("market_id", m.ID),
				slog.String("milestone_id", m.MilestoneID),
				slog.String("error", err.Error()),
			)
			continue
		}
		due := !ms.DueAt.IsZero() && !now.Before(ms.DueAt)
		if !due && !ms.Resolved {
			continue
		}
		if _, err := s.engine.CloseMarket(ctx, authority, m.ID); err != nil {
			s.logger.WarnContext(ctx, "close market failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Closed++
	}

	closed, _, err := s.engine.ListMarkets(ctx, domain.MarketFilter{Status: domain.MarketStatusClosed})
	if err != nil {
		return rep, fmt.Errorf("scheduler: list closed markets: %w", err)
	}
	for _, m := range closed {
		ms, err := s.registry.Get().GetMilestone(ctx, m.MilestoneID)
		if err != nil || !ms.Resolved {
			continue
		}
		resolved, err := s.engine.ResolveMarket(ctx, authority, m.ID, ms.Achieved)
		if err != nil {
			s.logger.WarnContext(ctx, "resolve market failed",
				slog.Uint64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		rep.Resolved++
		if s.alerter != nil {
			s.alerter.Alert(ctx, "Market resolved", fmt.Sprintf(
				"Market #%d (milestone %s) resolved %s: %s winning vs %s losing",
				resolved.ID, resolved.MilestoneID, outcomeLabel(resolved.Outcome),
				resolved.WinningTotal(), resolved.LosingTotal(),
			))
		}
	}

	if rep.Dispatched, err = s.dispatcher.DispatchPending(ctx); err != nil {
		return rep, fmt.Errorf("scheduler: dispatch pending: %w", err)
	}

	if s.cfg.SweepInterval > 0 && now.Sub(s.lastSweep) >= s.cfg.SweepInterval {
		swept, err := s.engine.TransferFundingPool(ctx, authority)
		switch {
		case err == nil:
			rep.Swept = swept.String()
			s.lastSweep = now
		case errors.Is(err, domain.ErrNothingToSweep):
			s.lastSweep = now
		default:
			s.logger.WarnContext(ctx, "fee sweep failed", slog.String("error", err.Error()))
		}
	}
	return rep, nil
}

func outcomeLabel(outcome bool) string {
	if outcome {
		return "YES"
	}
	return "NO"
}
