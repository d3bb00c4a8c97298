package domain

import (
	"context"
	"time"
)

// Event names emitted by the ledger.
const (
	EventMarketCreated      = "market.created"
	EventBetPlaced          = "bet.placed"
	EventBetIncreased       = "bet.increased"
	EventMarketClosed       = "market.closed"
	EventMarketResolved     = "market.resolved"
	EventRewardsClaimed     = "rewards.claimed"
	EventFeesSwept          = "fees.swept"
	EventParamsUpdated      = "engine.params_updated"
	EventFundsReceived      = "pool.funds_received"
	EventProjectAllocated   = "pool.project_allocated"
	EventFundsReleased      = "pool.funds_released"
	EventTokensGranted      = "pool.tokens_granted"
	EventPoolPaused         = "pool.paused"
	EventPoolUnpaused       = "pool.unpaused"
	EventEmergencyWithdraw  = "pool.emergency_withdraw"
	EventStatsUpdated       = "reputation.stats_updated"
	EventAchievementAwarded = "reputation.achievement_awarded"
	EventBadgeTransferred   = "reputation.badge_transferred"
	EventTransferSent       = "transfer.sent"
	EventTransferFailed     = "transfer.failed"
)

// Event is a notable ledger change. Events are committed with the change that
// produced them and published after the commit.
type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
	At   time.Time      `json:"at"`
}

// EventPublisher delivers committed events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, events []Event) error
}
