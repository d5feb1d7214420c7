package advance_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/household-ledger/advance"
)

func money(s string) advance.Money { return advance.MustParseMoney(s) }

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in   string
		want advance.Money
	}{
		{"1000", 100000},
		{"300.5", 30050},
		{"12,34", 1234},
		{" 0.01 ", 1},
		{"0.005", 1},
		{"-2.50", -250},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := advance.ParseMoney(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMoney_Invalid(t *testing.T) {
	_, err := advance.ParseMoney("twelve")
	require.Error(t, err)
	assert.True(t, advance.IsClientError(err))
}

func TestMoney_StringHasTwoDecimals(t *testing.T) {
	assert.Equal(t, "300.00", money("300").String())
	assert.Equal(t, "33.34", advance.Money(3334).String())
	assert.Equal(t, "0.01", advance.Cent.String())
}

func TestMoneyFromDecimal_RoundsToCents(t *testing.T) {
	m, err := advance.MoneyFromDecimal(decimal.RequireFromString("33.333"))
	require.NoError(t, err)
	assert.Equal(t, advance.Money(3333), m)

	m, err = advance.MoneyFromDecimal(decimal.RequireFromString("33.335"))
	require.NoError(t, err)
	assert.Equal(t, advance.Money(3334), m)

	assert.True(t, money("12.34").Decimal().Equal(decimal.RequireFromString("12.34")))
}

func TestMoneyFromDecimal_RejectsOutOfRange(t *testing.T) {
	// GIVEN: Amounts that would not fit in int64 cents, or exceed MaxAmount
	// WHEN: Converting them
	// THEN: ErrInvalidArgument instead of a wrapped value

	for _, in := range []string{
		"1e20",
		"92233720368547758.08",
		"-92233720368547758.08",
		"1000000000000.00",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := advance.MoneyFromDecimal(decimal.RequireFromString(in))
			require.Error(t, err)
			assert.True(t, advance.IsClientError(err))
		})
	}

	m, err := advance.MoneyFromDecimal(decimal.RequireFromString("999999999999.99"))
	require.NoError(t, err)
	assert.Equal(t, advance.MaxAmount, m)

	_, err = advance.ParseMoney("1e20")
	assert.True(t, advance.IsClientError(err))
}

func TestEvenShares_SumsToTotal(t *testing.T) {
	// GIVEN: Totals that do not divide evenly
	// WHEN: Splitting them
	// THEN: Shares always add up to the total and differ by at most one unit

	for _, tc := range []struct {
		total advance.Money
		n     int
	}{
		{money("100"), 3},
		{money("1.00"), 7},
		{advance.Money(205), 2},
		{advance.Money(5), 3},
		{money("-100"), 3},
	} {
		shares := advance.EvenShares(tc.total, tc.n)
		require.Len(t, shares, tc.n)

		var sum advance.Money
		for _, s := range shares {
			sum += s
		}
		assert.Equal(t, tc.total, sum, "total %s over %d", tc.total, tc.n)
	}
}

func TestEvenShares_WholeUnitsFirst(t *testing.T) {
	// 100.00 over 3: whole units 34/33/33, no cents left over
	assert.Equal(t, []advance.Money{3400, 3300, 3300}, advance.EvenShares(money("100"), 3))

	// 2.05 over 2: units 1/1, cents 3/2
	assert.Equal(t, []advance.Money{103, 102}, advance.EvenShares(advance.Money(205), 2))
}

func TestEvenShares_NoShares(t *testing.T) {
	assert.Nil(t, advance.EvenShares(money("10"), 0))
}
