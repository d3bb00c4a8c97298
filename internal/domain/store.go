package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time

	// EventPrefix keeps only audit entries whose event starts with it,
	// e.g. "pool." or "archive.".
	EventPrefix string
}

// Snapshot is the full ledger state as loaded at startup.
type Snapshot struct {
	Engine      *EngineAccount
	Pool        *PoolAccount
	Markets     []Market
	Bets        []Bet
	Allocations []ProjectAllocation
	Releases    []MilestoneRelease
	Grants      []TokenGrant
	Stats       []UserStats
	Badges      []Badge
	Transfers   []Transfer
}

// Changeset is every row written by one ledger update. It is committed
// atomically; rows are upserts keyed by their natural id.
type Changeset struct {
	Engine      *EngineAccount
	Pool        *PoolAccount
	Markets     []Market
	Bets        []Bet
	Allocations []ProjectAllocation
	Releases    []MilestoneRelease
	Grants      []TokenGrant
	Stats       []UserStats
	Badges      []Badge
	Transfers   []Transfer
	Events      []Event
}

// Empty reports whether the changeset writes nothing.
func (c Changeset) Empty() bool {
	return c.Engine == nil && c.Pool == nil &&
		len(c.Markets) == 0 && len(c.Bets) == 0 &&
		len(c.Allocations) == 0 && len(c.Releases) == 0 && len(c.Grants) == 0 &&
		len(c.Stats) == 0 && len(c.Badges) == 0 && len(c.Transfers) == 0 &&
		len(c.Events) == 0
}

// LedgerStore persists ledger state.
type LedgerStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, cs Changeset) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
