package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// Decimals is the number of decimals of the native token (SOL).
	Decimals = 9
	// LamportsPerSOL is the number of base units in one token unit.
	LamportsPerSOL uint64 = 1_000_000_000
)

var lamportsPerSOL = decimal.NewFromInt(int64(LamportsPerSOL))

// ToLamports converts a token amount into base units, truncating whatever
// lies beyond the smallest on-chain unit. Negative amounts are rejected.
func ToLamports(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	l := amount.Mul(lamportsPerSOL).Truncate(0)
	if !l.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return l.BigInt().Uint64(), nil
}

// FromLamports converts base units into a token amount.
func FromLamports(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSOL)
}

// RoundToUnit rounds a token amount to the smallest on-chain unit.
func RoundToUnit(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(Decimals)
}
