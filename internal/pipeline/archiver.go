// Package pipeline runs background data jobs that sit outside the request
// path, such as exporting ledger history to cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/metrics"
)

// Archiver exports ledger events and audit entries older than the retention
// window on a cron schedule. Exports are keyed by month, so a rerun
// rewrites the same objects with a superset of their records.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run exports everything recorded before now minus the retention window.
// The audit export is skipped when the ledger export fails.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().AddDate(0, 0, -a.retentionDays)
	log := a.logger.With(slog.Time("cutoff", cutoff))
	log.InfoContext(ctx, "archive run started")

	counts := make(map[string]int64, 2)
	n, err := a.blobArchiver.ArchiveLedger(ctx, cutoff)
	if err != nil {
		metrics.RecordArchiveRun(nil, err)
		return fmt.Errorf("pipeline: archive ledger events: %w", err)
	}
	counts["ledger_events"] = n

	if n, err = a.blobArchiver.ArchiveAudit(ctx, cutoff); err != nil {
		metrics.RecordArchiveRun(nil, err)
		return fmt.Errorf("pipeline: archive audit log: %w", err)
	}
	counts["audit"] = n

	metrics.RecordArchiveRun(counts, nil)
	log.InfoContext(ctx, "archive run complete",
		slog.Int64("ledger_events", counts["ledger_events"]),
		slog.Int64("audit", counts["audit"]),
	)
	return nil
}

// RunCron runs the archiver on a standard five-field cron schedule,
// evaluated in UTC, until ctx is cancelled. "0 3 * * *" runs daily at 03:00.
// A failed run is logged and retried at the next activation.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("pipeline: archive schedule %q: %w", expr, err)
	}
	a.logger.InfoContext(ctx, "archive schedule started", slog.String("cron", expr))

	for {
		next := sched.Next(a.now())
		a.logger.DebugContext(ctx, "next archive run", slog.Time("at", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

