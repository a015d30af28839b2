package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BalanceDecimals is the number of fractional digits of registry balances.
const BalanceDecimals = 18

// Balance is a registry balance decoded from a single 32-byte storage word.
type Balance struct {
	raw uint256.Int
}

// BalanceFromWord decodes a big-endian storage word.
func BalanceFromWord(word common.Hash) Balance {
	var b Balance
	b.raw.SetBytes32(word[:])
	return b
}

// BalanceFromAmount builds a balance from a human-scale amount.
// Fractional digits beyond BalanceDecimals are truncated; negative amounts yield zero.
func BalanceFromAmount(amount decimal.Decimal) Balance {
	var b Balance
	if amount.Sign() <= 0 {
		return b
	}
	scaled := amount.Shift(BalanceDecimals).Truncate(0)
	if overflow := b.raw.SetFromBig(scaled.BigInt()); overflow {
		b.raw.SetAllOne()
	}
	return b
}

// Raw returns a copy of the underlying 256-bit integer.
func (b Balance) Raw() *uint256.Int {
	return new(uint256.Int).Set(&b.raw)
}

// Word encodes the balance as a storage word.
func (b Balance) Word() common.Hash {
	return common.Hash(b.raw.Bytes32())
}

// Amount returns the balance scaled by 10^-18.
func (b Balance) Amount() decimal.Decimal {
	return decimal.NewFromBigInt(b.raw.ToBig(), -BalanceDecimals)
}

// IsZero reports whether the balance is zero.
func (b Balance) IsZero() bool {
	return b.raw.IsZero()
}

// Meets reports whether the balance is greater than or equal to minimum.
func (b Balance) Meets(minimum decimal.Decimal) bool {
	return b.Amount().GreaterThanOrEqual(minimum)
}

// String returns the human-scale amount.
func (b Balance) String() string {
	return b.Amount().String()
}
