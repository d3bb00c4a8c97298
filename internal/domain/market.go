package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusOpen     MarketStatus = "open"
	MarketStatusClosed   MarketStatus = "closed"
	MarketStatusResolved MarketStatus = "resolved"
)

// Side is the outcome a bet backs.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid reports whether s is one of the two market sides.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Wins reports whether a bet on s wins when the market resolves to outcome.
func (s Side) Wins(outcome bool) bool {
	return (s == SideYes) == outcome
}

// Market is a binary parimutuel market on whether one milestone is achieved.
type Market struct {
	ID          uint64          `json:"id"`
	MilestoneID string          `json:"milestone_id"`
	ProjectID   string          `json:"project_id"`
	Status      MarketStatus    `json:"status"`
	TotalYes    decimal.Decimal `json:"total_yes"`
	TotalNo     decimal.Decimal `json:"total_no"`
	YesStakers  int64           `json:"yes_stakers"`
	NoStakers   int64           `json:"no_stakers"`
	Outcome     bool            `json:"outcome"` // meaningful once resolved
	PaidOut     decimal.Decimal `json:"paid_out"`
	Claims      int64           `json:"claims"` // winning bets claimed so far
	CreatedAt   time.Time       `json:"created_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

// Total returns the combined stake of both sides.
func (m Market) Total() decimal.Decimal {
	return m.TotalYes.Add(m.TotalNo)
}

// WinningTotal returns the stake on the side that won. Only meaningful for a
// resolved market.
func (m Market) WinningTotal() decimal.Decimal {
	if m.Outcome {
		return m.TotalYes
	}
	return m.TotalNo
}

// LosingTotal returns the stake on the side that lost.
func (m Market) LosingTotal() decimal.Decimal {
	if m.Outcome {
		return m.TotalNo
	}
	return m.TotalYes
}

// WinningStakers returns the number of bets on the winning side.
func (m Market) WinningStakers() int64 {
	if m.Outcome {
		return m.YesStakers
	}
	return m.NoStakers
}

// Odds returns the share of the pool on each side in basis points. Both sides
// are 5000 while the market is empty.
func (m Market) Odds() (yesBps, noBps int64) {
	total := m.Total()
	if !total.IsPositive() {
		return BpsDenominator / 2, BpsDenominator / 2
	}
	yesBps = Ratio(m.TotalYes, total)
	return yesBps, BpsDenominator - yesBps
}

// Bet is one bettor's position in one market. A bettor holds at most one bet
// per market.
type Bet struct {
	ID        uint64          `json:"id"`
	MarketID  uint64          `json:"market_id"`
	Bettor    common.Address  `json:"bettor"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"` // net of fees
	Claimed   bool            `json:"claimed"`
	Reward    decimal.Decimal `json:"reward"`
	Recorded  bool            `json:"-"` // outcome reported to reputation
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// EngineAccount holds the market engine's accumulated fees and parameters.
type EngineAccount struct {
	FeeBalance decimal.Decimal `json:"fee_balance"`
	TotalSwept decimal.Decimal `json:"total_swept"`
	MinBet     decimal.Decimal `json:"min_bet"`
	FeeBps     int64           `json:"fee_bps"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// MarketFilter narrows market listings.
type MarketFilter struct {
	Status    MarketStatus
	ProjectID string
	ListOpts
}
