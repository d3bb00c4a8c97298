// Package payout implements the settlement rails transfers are paid through.
package payout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// LogRail records payments without moving value. It backs dev mode and
// tests; Fail makes subsequent payments fail until cleared.
type LogRail struct {
	mu     sync.Mutex
	paid   []domain.Transfer
	fail   error
	logger *slog.Logger
}

// NewLogRail creates a LogRail.
func NewLogRail(logger *slog.Logger) *LogRail {
	return &LogRail{logger: logger.With(slog.String("component", "log_rail"))}
}

// Fail makes every payment fail with err. A nil err restores success.
func (r *LogRail) Fail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

// Paid returns the transfers paid so far.
func (r *LogRail) Paid() []domain.Transfer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Transfer(nil), r.paid...)
}

// Pay implements domain.Payer.
func (r *LogRail) Pay(ctx context.Context, t domain.Transfer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return "", r.fail
	}
	ref := "log-" + uuid.NewString()
	r.paid = append(r.paid, t)
	r.logger.InfoContext(ctx, "payment recorded",
		slog.String("transfer_id", t.ID),
		slog.String("to", t.To.Hex()),
		slog.String("amount", t.Amount.String()),
		slog.String("ref", ref),
	)
	return ref, nil
}

var _ domain.Payer = (*LogRail)(nil)
