package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryCache provides fast milestone and project owner lookups in front of
// the registry.
type RegistryCache interface {
	SetMilestone(ctx context.Context, m Milestone, ttl time.Duration) error
	GetMilestone(ctx context.Context, id string) (Milestone, error)
	SetOwner(ctx context.Context, projectID string, owner common.Address, ttl time.Duration) error
	GetOwner(ctx context.Context, projectID string) (common.Address, error)
	Invalidate(ctx context.Context, milestoneID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// NonceStore remembers request signatures so they cannot be replayed.
type NonceStore interface {
	// Remember stores key for ttl and reports false if it was already present.
	Remember(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
