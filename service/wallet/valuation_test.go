package wallet

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/brojonat/solwallet/service/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDisplayUnits(t *testing.T) {
	c := NewConverter()

	tests := []struct {
		raw  uint64
		want string
	}{
		{0, "0"},
		{1, "0.000000001"},
		{1_000_000_000, "1"},
		{1_500_000_000, "1.5"},
		{math.MaxUint64, "18446744073.709551615"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := c.ToDisplayUnits(tt.raw)
			assert.Equal(t, tt.want, got.String())

			// Converting back recovers the exact raw amount.
			back := got.Shift(LamportsDecimals)
			assert.True(t, back.Equal(decimal.NewFromBigInt(new(big.Int).SetUint64(tt.raw), 0)))
		})
	}
}

func TestToFiat(t *testing.T) {
	c := NewConverter()
	quote := &oracle.Quote{Base: NativeAssetID, Currency: "usd", Rate: decimal.RequireFromString("142.35")}

	got, err := c.ToFiat(1_000_000_000, quote)
	require.NoError(t, err)
	assert.Equal(t, "142.35", got.String())

	got, err = c.ToFiat(0, quote)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestToFiat_Linear(t *testing.T) {
	c := NewConverter()
	quote := &oracle.Quote{Rate: decimal.RequireFromString("97.123456789")}

	pairs := [][2]uint64{
		{1, 2},
		{123_456_789, 987_654_321},
		{5_000_000_000_000, 7},
	}
	for _, p := range pairs {
		a, err := c.ToFiat(p[0], quote)
		require.NoError(t, err)
		b, err := c.ToFiat(p[1], quote)
		require.NoError(t, err)
		sum, err := c.ToFiat(p[0]+p[1], quote)
		require.NoError(t, err)
		assert.True(t, sum.Equal(a.Add(b)), "%s != %s + %s", sum, a, b)
	}
}

func TestToFiat_QuoteUnavailable(t *testing.T) {
	c := NewConverter()

	for name, quote := range map[string]*oracle.Quote{
		"nil quote":     nil,
		"zero rate":     {Rate: decimal.Zero},
		"negative rate": {Rate: decimal.NewFromInt(-1)},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.ToFiat(1, quote)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrQuoteUnavailable))
		})
	}
}

func TestTokenDisplayUnits(t *testing.T) {
	assert.Equal(t, "1.234567", TokenDisplayUnits(1_234_567, 6).String())
	assert.Equal(t, "42", TokenDisplayUnits(42, 0).String())
}
