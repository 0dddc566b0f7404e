package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreationStatus tracks a market-creation request.
type CreationStatus string

const (
	CreationStatusPending   CreationStatus = "pending"
	CreationStatusSubmitted CreationStatus = "submitted"
	CreationStatusConfirmed CreationStatus = "confirmed"
	CreationStatusFailed    CreationStatus = "failed"
)

// CreationRequest is the payload handed to the market manager when a
// complete draft is submitted.
type CreationRequest struct {
	ID             string          `json:"id"`
	Asset          string          `json:"asset"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	BiddingEnd     time.Time       `json:"bidding_end"`
	Maturity       time.Time       `json:"maturity"`
	LongPercent    int             `json:"long_percent"`
	ShortPercent   int             `json:"short_percent"`
	LongBid        decimal.Decimal `json:"long_bid"`
	ShortBid       decimal.Decimal `json:"short_bid"`
	InitialFunding decimal.Decimal `json:"initial_funding"`
	Creator        string          `json:"creator"`
	Status         CreationStatus  `json:"status"`
	TxHash         string          `json:"tx_hash,omitempty"`
	MarketAddress  string          `json:"market_address,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
