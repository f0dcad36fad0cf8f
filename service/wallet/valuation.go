package wallet

import (
	"math/big"

	"github.com/brojonat/solwallet/service/oracle"
	"github.com/shopspring/decimal"
)

// LamportsDecimals is the number of decimal places between lamports and SOL.
const LamportsDecimals = 9

// Converter turns raw ledger amounts into display units and fiat estimates.
// All arithmetic is exact decimal.
type Converter struct {
	decimals int32
}

// NewConverter returns a converter for native SOL amounts.
func NewConverter() *Converter {
	return &Converter{decimals: LamportsDecimals}
}

// ToDisplayUnits converts lamports to SOL.
func (c *Converter) ToDisplayUnits(raw uint64) decimal.Decimal {
	return TokenDisplayUnits(raw, uint8(c.decimals))
}

// ToFiat values raw lamports at the quoted rate. A missing or non-positive
// rate yields QuoteUnavailable.
func (c *Converter) ToFiat(raw uint64, quote *oracle.Quote) (decimal.Decimal, error) {
	if quote == nil || !quote.Rate.IsPositive() {
		return decimal.Zero, newError(KindQuoteUnavailable, "price quote unavailable", nil)
	}
	return c.ToDisplayUnits(raw).Mul(quote.Rate), nil
}

// TokenDisplayUnits converts raw SPL token base units using the mint's decimals.
func TokenDisplayUnits(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}
