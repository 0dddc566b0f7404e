package domain

import "github.com/shopspring/decimal"

// FeeSchedule holds the fee rates charged by the market manager, expressed
// as fractions (0.001 == 0.1%).
type FeeSchedule struct {
	Creator decimal.Decimal `json:"creator"`
	Refund  decimal.Decimal `json:"refund"`
	Trading decimal.Decimal `json:"trading"`
}

// DefaultFeeSchedule is the deployment's fixed schedule: 0.1% each.
func DefaultFeeSchedule() FeeSchedule {
	rate := decimal.New(1, -3)
	return FeeSchedule{Creator: rate, Refund: rate, Trading: rate}
}
