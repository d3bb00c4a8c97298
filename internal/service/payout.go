package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

// Reward returns what a winning stake is owed under the parimutuel rule: the
// stake back plus its pro-rata share of the losing pool, truncated to amount
// precision. winning is the total winning stake W and losing the total losing
// stake L. With no winning stake nothing is owed.
func Reward(stake, winning, losing decimal.Decimal) decimal.Decimal {
	if !winning.IsPositive() || !stake.IsPositive() {
		return decimal.Zero
	}
	share, _ := stake.Mul(losing).QuoRem(winning, domain.AmountDecimals)
	return stake.Add(share)
}

// splitFee returns the protocol fee on a gross amount and the net remainder.
func splitFee(gross decimal.Decimal, feeBps int64) (fee, net decimal.Decimal) {
	fee = domain.Bps(gross, feeBps)
	return fee, gross.Sub(fee)
}

// claimable returns the reward bet may still claim from m, or zero.
func claimable(m domain.Market, b domain.Bet) decimal.Decimal {
	if m.Status != domain.MarketStatusResolved || b.Claimed || !b.Side.Wins(m.Outcome) {
		return decimal.Zero
	}
	return Reward(b.Amount, m.WinningTotal(), m.LosingTotal())
}

// checkAmount rejects non-positive amounts and amounts finer than wei.
func checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidArgument)
	}
	if !amount.Equal(amount.Truncate(domain.AmountDecimals)) {
		return fmt.Errorf("%w: amount has more than %d decimals", domain.ErrInvalidArgument, domain.AmountDecimals)
	}
	return nil
}
