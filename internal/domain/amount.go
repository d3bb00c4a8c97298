package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountDecimals is the number of fractional digits an amount may carry. It
// matches the 18-decimal wei scale of the settlement token.
const AmountDecimals = 18

// BpsDenominator is the basis-point scale used for fees, odds, shares and
// win rates.
const BpsDenominator = 10_000

// MaxFeeBps caps the protocol fee at 10%.
const MaxFeeBps = 1000

// ParseAmount parses a decimal token amount. Negative values and values with
// more than AmountDecimals fractional digits are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrInvalidArgument, s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: amount %q is negative", ErrInvalidArgument, s)
	}
	if !d.Equal(d.Truncate(AmountDecimals)) {
		return decimal.Zero, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidArgument, s, AmountDecimals)
	}
	return d, nil
}

// Bps returns trunc(amount * bps / 10000) at amount precision.
func Bps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(bps)).Shift(-4).Truncate(AmountDecimals)
}

// Ratio returns floor(part * 10000 / whole) in basis points. A zero whole
// yields zero.
func Ratio(part, whole decimal.Decimal) int64 {
	if !whole.IsPositive() {
		return 0
	}
	q, _ := part.Shift(4).QuoRem(whole, 0)
	return q.IntPart()
}

// ToWei converts a token amount to its integer wei representation string.
func ToWei(amount decimal.Decimal) string {
	return amount.Shift(AmountDecimals).Truncate(0).String()
}
