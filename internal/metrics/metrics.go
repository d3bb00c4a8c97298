// Package metrics exposes prometheus collectors for the settlement engine.
// Ledger figures are fed by a commit hook so every committed change is
// reflected without the services knowing about prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
	"github.com/alanyoungcy/stakefund/internal/ledger"
)

var (
	// Ledger
	LedgerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_ledger_events_total",
			Help: "Committed ledger events by type",
		},
		[]string{"type"},
	)

	Staked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakefund_staked_total",
			Help: "Net stake placed into markets, in token units",
		},
	)

	FeesCollected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakefund_fees_collected_total",
			Help: "Fees withheld from stakes, in token units",
		},
	)

	RewardsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stakefund_rewards_claimed_total",
			Help: "Rewards paid to winning bettors, in token units",
		},
	)

	EngineFeeBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakefund_engine_fee_balance",
			Help: "Fees accrued and not yet swept",
		},
	)

	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stakefund_pool_balance",
			Help: "Funding pool figures by kind",
		},
		[]string{"kind"}, // received, allocated, distributed, available
	)

	PoolPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stakefund_pool_paused",
			Help: "1 while the funding pool is paused",
		},
	)

	Transfers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_transfers_total",
			Help: "Transfer state changes by kind and status",
		},
		[]string{"kind", "status"},
	)

	// Scheduler
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_scheduler_runs_total",
			Help: "Scheduler passes by outcome",
		},
		[]string{"status"}, // ok, error, skipped
	)

	SchedulerDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stakefund_scheduler_duration_seconds",
			Help:    "Duration of a scheduler pass",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Archive
	ArchivedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_archived_records_total",
			Help: "Ledger events and audit entries exported to cold storage",
		},
		[]string{"kind"},
	)

	ArchiveRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_archive_runs_total",
			Help: "Archive runs by outcome",
		},
		[]string{"status"}, // ok, error
	)

	// HTTP
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stakefund_http_requests_total",
			Help: "API requests by method, route and status class",
		},
		[]string{"method", "route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stakefund_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Hook returns a ledger hook recording every committed changeset.
func Hook() ledger.Hook {
	return func(_ context.Context, cs domain.Changeset) {
		RecordChangeset(cs)
	}
}

// RecordChangeset updates the ledger collectors from one commit.
func RecordChangeset(cs domain.Changeset) {
	for _, e := range cs.Events {
		LedgerEvents.WithLabelValues(e.Type).Inc()
		switch e.Type {
		case domain.EventBetPlaced:
			addAmount(Staked, e.Data["amount"])
			addAmount(FeesCollected, e.Data["fee"])
		case domain.EventBetIncreased:
			addAmount(Staked, e.Data["added"])
			addAmount(FeesCollected, e.Data["fee"])
		case domain.EventRewardsClaimed:
			addAmount(RewardsClaimed, e.Data["reward"])
		}
	}
	if cs.Engine != nil {
		EngineFeeBalance.Set(cs.Engine.FeeBalance.InexactFloat64())
	}
	if p := cs.Pool; p != nil {
		PoolBalance.WithLabelValues("received").Set(p.Balance.InexactFloat64())
		PoolBalance.WithLabelValues("allocated").Set(p.Allocated.InexactFloat64())
		PoolBalance.WithLabelValues("distributed").Set(p.Distributed.InexactFloat64())
		PoolBalance.WithLabelValues("available").Set(p.Available().InexactFloat64())
		if p.Paused {
			PoolPaused.Set(1)
		} else {
			PoolPaused.Set(0)
		}
	}
	for _, t := range cs.Transfers {
		Transfers.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	}
}

// RecordSchedulerRun records one scheduler pass.
func RecordSchedulerRun(duration time.Duration, status string) {
	SchedulerRuns.WithLabelValues(status).Inc()
	if status != "skipped" {
		SchedulerDuration.Observe(duration.Seconds())
	}
}

// RecordArchiveRun records one archive run and how many records each kind
// exported. counts is nil for a failed run.
func RecordArchiveRun(counts map[string]int64, err error) {
	if err != nil {
		ArchiveRuns.WithLabelValues("error").Inc()
		return
	}
	ArchiveRuns.WithLabelValues("ok").Inc()
	for kind, n := range counts {
		ArchivedRecords.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordHTTPRequest records one API request.
func RecordHTTPRequest(method, route string, code int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, route, statusClass(code)).Inc()
	HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

func addAmount(c prometheus.Counter, v any) {
	s, ok := v.(string)
	if !ok {
		return
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return
	}
	c.Add(d.InexactFloat64())
}
