package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PoolAccount tracks the custody pool's aggregate balances.
//
// Balance is everything received minus emergency withdrawals. Allocated is the
// sum of outstanding project earmarks. Distributed is the cumulative amount
// released to project owners. Allocated+Distributed never exceeds Balance.
// Balance keeps counting released funds, so Available is
// Balance-Distributed-Allocated rather than Balance-Allocated.
type PoolAccount struct {
	Balance     decimal.Decimal `json:"balance"`
	Allocated   decimal.Decimal `json:"allocated"`
	Distributed decimal.Decimal `json:"distributed"`
	Paused      bool            `json:"paused"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Held returns the amount still in custody.
func (p PoolAccount) Held() decimal.Decimal {
	return p.Balance.Sub(p.Distributed)
}

// Available returns the amount that may still be allocated.
func (p PoolAccount) Available() decimal.Decimal {
	return p.Held().Sub(p.Allocated)
}

// ProjectAllocation tracks the funds earmarked for one project.
type ProjectAllocation struct {
	ProjectID      string          `json:"project_id"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	TotalReleased  decimal.Decimal `json:"total_released"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Pending returns the allocation not yet released.
func (a ProjectAllocation) Pending() decimal.Decimal {
	return a.TotalAllocated.Sub(a.TotalReleased)
}

// MilestoneRelease records the single release made for an achieved milestone.
type MilestoneRelease struct {
	MilestoneID string          `json:"milestone_id"`
	ProjectID   string          `json:"project_id"`
	Recipient   common.Address  `json:"recipient"`
	Amount      decimal.Decimal `json:"amount"`
	TransferID  string          `json:"transfer_id"`
	ReleasedAt  time.Time       `json:"released_at"`
}

// TokenAllocation is one beneficiary's share of a project's token supply.
type TokenAllocation struct {
	Beneficiary common.Address  `json:"beneficiary"`
	ShareBps    int64           `json:"share_bps"`
	Rank        int             `json:"rank"`
	Stake       decimal.Decimal `json:"stake"`
}

// TokenGrant is the one-time set of token allocations granted for a project.
type TokenGrant struct {
	ProjectID   string            `json:"project_id"`
	MarketID    uint64            `json:"market_id"`
	Allocations []TokenAllocation `json:"allocations"`
	GrantedAt   time.Time         `json:"granted_at"`
}
