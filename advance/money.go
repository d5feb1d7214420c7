package advance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Integer minor units (cents)
// =============================================================================

// Money is an amount in cents. All plan arithmetic happens on cents so
// splitting and reconciling never drift; decimal.Decimal is used only when
// crossing the JSON and persistence boundaries.
type Money int64

const Cent Money = 1

// MaxAmount is the largest absolute amount accepted from outside. It keeps
// totals of many payments far from the int64 limit.
const MaxAmount Money = 1_000_000_000_000_00 - 1

var maxAmountDecimal = MaxAmount.Decimal()

// MoneyFromDecimal rounds d to two decimals (half away from zero) and
// returns it as cents. Amounts beyond MaxAmount are ErrInvalidArgument.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	rounded := d.Round(2)
	if rounded.Abs().GreaterThan(maxAmountDecimal) {
		return 0, fmt.Errorf("%w: amount %s exceeds %s", ErrInvalidArgument, rounded.String(), MaxAmount)
	}
	return Money(rounded.Shift(2).IntPart()), nil
}

// ParseMoney parses "12.34" or "12,34".
func ParseMoney(s string) (Money, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid amount %q", ErrInvalidArgument, s)
	}
	return MoneyFromDecimal(d)
}

// MustParseMoney is ParseMoney for literals; it panics on malformed input.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return decimal.New(int64(m), -2) }
func (m Money) String() string           { return m.Decimal().StringFixed(2) }
func (m Money) Cents() int64             { return int64(m) }

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsPositive() bool { return m > 0 }
func (m Money) IsNegative() bool { return m < 0 }

func (m Money) Abs() Money {
	if m < 0 {
		return -m
	}
	return m
}

func MinMoney(a, b Money) Money {
	if a < b {
		return a
	}
	return b
}

func MaxMoney(a, b Money) Money {
	if a > b {
		return a
	}
	return b
}

// EvenShares splits total into n shares that add up to total exactly.
//
// Whole units are split first (base/n each, one extra unit for the first
// base mod n shares), then the leftover cents one each from the front,
// wrapping when there are more cents than shares.
func EvenShares(total Money, n int) []Money {
	if n <= 0 {
		return nil
	}
	if total < 0 {
		shares := EvenShares(-total, n)
		for i := range shares {
			shares[i] = -shares[i]
		}
		return shares
	}
	shares := make([]Money, n)
	units := int64(total) / 100
	cents := int64(total) % 100
	count := int64(n)

	perUnit, restUnits := units/count, units%count
	perCent, restCents := cents/count, cents%count
	for i := range shares {
		share := perUnit*100 + perCent
		if int64(i) < restUnits {
			share += 100
		}
		if int64(i) < restCents {
			share++
		}
		shares[i] = Money(share)
	}
	return shares
}
