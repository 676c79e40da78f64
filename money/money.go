// Package money holds the amount and percentage arithmetic used by the ledger.
// Amounts are exact decimals; rounding to cents happens only in Format.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is the number of decimal places shown for an amount.
const Cents int32 = 2

var (
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrSplitSumInvalid   = errors.New("split percentages must add up to 100")
)

var (
	hundred = decimal.NewFromInt(100)

	// SplitTolerance is how far the sum of a split may drift from 100.
	SplitTolerance = decimal.New(1, -Cents)
)

func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

func ValidatePercentage(pct decimal.Decimal) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return ErrInvalidPercentage
	}
	return nil
}

// SplitAmount returns the share of cost owed for pct percent.
// The division by 100 is a decimal shift, so the result is exact and
// applying then reversing the same share restores the original value.
func SplitAmount(cost, pct decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(cost); err != nil {
		return decimal.Zero, err
	}
	if err := ValidatePercentage(pct); err != nil {
		return decimal.Zero, err
	}
	return Share(cost, pct), nil
}

// Share is SplitAmount without validation, for inputs already checked.
func Share(cost, pct decimal.Decimal) decimal.Decimal {
	return cost.Mul(pct).Shift(-2)
}

// ValidateSplits checks every percentage and that together they cover the
// whole cost within SplitTolerance.
func ValidateSplits(splits map[string]decimal.Decimal) error {
	if len(splits) == 0 {
		return ErrSplitSumInvalid
	}

	sum := decimal.Zero
	for member, pct := range splits {
		if err := ValidatePercentage(pct); err != nil {
			return fmt.Errorf("%w: %s has %s", err, member, pct.String())
		}
		sum = sum.Add(pct)
	}

	if sum.Sub(hundred).Abs().GreaterThan(SplitTolerance) {
		return fmt.Errorf("%w: got %s", ErrSplitSumInvalid, sum.String())
	}
	return nil
}

// Format renders an amount rounded to cents, e.g. "33.33".
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Cents)
}
