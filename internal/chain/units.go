package chain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point precision of sUSD and oracle prices.
const Decimals = 18

// ToWei converts a decimal amount into an 18-decimal integer, truncating
// any precision beyond that.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Shift(Decimals).Truncate(0).BigInt()
}

// FromWei converts an 18-decimal integer into a decimal amount.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -Decimals)
}

// OracleKey encodes an asset symbol as the bytes32 currency key the rates
// oracle uses.
func OracleKey(symbol string) [32]byte {
	var key [32]byte
	copy(key[:], symbol)
	return key
}

// unixTime converts an on-chain timestamp.
func unixTime(v *big.Int) time.Time {
	if v == nil {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
