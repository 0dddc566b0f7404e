package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is one leg of a binary option market.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Phase is the lifecycle phase of an options market.
type Phase string

const (
	PhaseBidding  Phase = "bidding"
	PhaseTrading  Phase = "trading"
	PhaseMaturity Phase = "maturity"
	PhaseExpiry   Phase = "expiry"
)

// LongShort is a pair of per-side amounts.
type LongShort struct {
	Long  decimal.Decimal `json:"long"`
	Short decimal.Decimal `json:"short"`
}

// Get returns the amount for the given side.
func (ls LongShort) Get(side Side) decimal.Decimal {
	if side == SideShort {
		return ls.Short
	}
	return ls.Long
}

// IsZero reports whether both sides are zero.
func (ls LongShort) IsZero() bool {
	return ls.Long.IsZero() && ls.Short.IsZero()
}

// OptionsMarket is the on-chain market metadata the service tracks.
type OptionsMarket struct {
	Address     string          `json:"address"`
	Asset       string          `json:"asset"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	BiddingEnd  time.Time       `json:"bidding_end"`
	Maturity    time.Time       `json:"maturity"`
	Expiry      time.Time       `json:"expiry"`
	Phase       Phase           `json:"phase"`
	Result      Side            `json:"result"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AccountMarketInfo is the per-account snapshot of a market: what the
// account bid, what it can claim, and how the market resolved.
type AccountMarketInfo struct {
	Market        string    `json:"market"`
	Account       string    `json:"account"`
	Claimable     LongShort `json:"claimable"`
	Bids          LongShort `json:"bids"`
	Result        Side      `json:"result"`
	TimeRemaining time.Time `json:"time_remaining"`
	FetchedAt     time.Time `json:"fetched_at"`
}
