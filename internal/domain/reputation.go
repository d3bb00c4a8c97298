package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// UserStats is the prediction track record of one address.
type UserStats struct {
	Address          common.Address  `json:"address"`
	TotalPredictions int64           `json:"total_predictions"`
	TotalWins        int64           `json:"total_wins"`
	TotalLosses      int64           `json:"total_losses"`
	CurrentStreak    int64           `json:"current_streak"`
	LongestStreak    int64           `json:"longest_streak"`
	TotalWagered     decimal.Decimal `json:"total_wagered"`
	TotalEarnings    decimal.Decimal `json:"total_earnings"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Record folds one settled prediction into the stats.
func (s *UserStats) Record(won bool, stake, reward decimal.Decimal, at time.Time) {
	s.TotalPredictions++
	s.TotalWagered = s.TotalWagered.Add(stake)
	if won {
		s.TotalWins++
		s.TotalEarnings = s.TotalEarnings.Add(reward)
		s.CurrentStreak++
		if s.CurrentStreak > s.LongestStreak {
			s.LongestStreak = s.CurrentStreak
		}
	} else {
		s.TotalLosses++
		s.CurrentStreak = 0
	}
	s.UpdatedAt = at
}

// WinRateBps returns wins over predictions in basis points.
func (s UserStats) WinRateBps() int64 {
	if s.TotalPredictions == 0 {
		return 0
	}
	return s.TotalWins * BpsDenominator / s.TotalPredictions
}

// Badge is an achievement token held by an address.
type Badge struct {
	ID        uint64          `json:"id"`
	Owner     common.Address  `json:"owner"`
	Type      AchievementType `json:"type"`
	Soulbound bool            `json:"soulbound"`
	MarketID  uint64          `json:"market_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	MintedAt  time.Time       `json:"minted_at"`
}

// LeaderboardEntry ranks one address by earnings.
type LeaderboardEntry struct {
	Rank  int       `json:"rank"`
	Stats UserStats `json:"stats"`
}
