// Package market holds the market-creation draft: the user's in-progress
// input for a new binary option market, the completeness gate in front of
// submission, and the derived preview.
package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
)

// Skew is the initial long/short split in whole percent. Long+Short is
// always 100.
type Skew struct {
	Long  int `json:"long"`
	Short int `json:"short"`
}

// NewSkew returns the initial 50/50 split.
func NewSkew() Skew {
	return Skew{Long: 50, Short: 50}
}

// WithLong returns the skew with long set to pct and short recomputed as
// its complement. The caller bounds pct to [0,100].
func (s Skew) WithLong(pct int) Skew {
	return Skew{Long: pct, Short: 100 - pct}
}

// Draft is an unsaved market-creation request. Strike price and funding
// amount are kept verbatim as typed; the empty string means unset.
type Draft struct {
	UnderlyingAsset *domain.Asset `json:"underlying_asset"`
	StrikePrice     string        `json:"strike_price"`
	BiddingEnd      *time.Time    `json:"bidding_end"`
	Maturity        *time.Time    `json:"maturity"`
	Skew            Skew          `json:"skew"`
	FundingAmount   string        `json:"funding_amount"`
}

// NewDraft returns an empty draft with a 50/50 skew.
func NewDraft() *Draft {
	return &Draft{Skew: NewSkew()}
}

// SetUnderlyingAsset replaces the selected asset. nil clears it.
func (d *Draft) SetUnderlyingAsset(asset *domain.Asset) {
	if asset == nil {
		d.UnderlyingAsset = nil
		return
	}
	a := *asset
	d.UnderlyingAsset = &a
}

// SetStrikePrice stores the input as typed.
func (d *Draft) SetStrikePrice(v string) {
	d.StrikePrice = v
}

// SetFundingAmount stores the input as typed.
func (d *Draft) SetFundingAmount(v string) {
	d.FundingAmount = v
}

// SetSkew sets the long percentage and recomputes short.
func (d *Draft) SetSkew(longPct int) {
	d.Skew = d.Skew.WithLong(longPct)
}

// SetBiddingEnd sets or clears the bidding end. A maturity date that now
// falls before the new bidding end is cleared, and the return value
// reports that it was.
func (d *Draft) SetBiddingEnd(t *time.Time) (maturityCleared bool) {
	d.BiddingEnd = copyTime(t)
	if d.BiddingEnd != nil && d.Maturity != nil && d.Maturity.Before(*d.BiddingEnd) {
		d.Maturity = nil
		return true
	}
	return false
}

// SetMaturity sets or clears the maturity date. Dates before the bidding
// end are refused with domain.ErrMaturityBeforeBidding and leave the draft
// unchanged.
func (d *Draft) SetMaturity(t *time.Time) error {
	if t != nil && d.BiddingEnd != nil && t.Before(*d.BiddingEnd) {
		return domain.ErrMaturityBeforeBidding
	}
	d.Maturity = copyTime(t)
	return nil
}

// IsComplete reports whether asset, strike, bidding end, maturity and
// funding are all set.
func (d *Draft) IsComplete() bool {
	return d.UnderlyingAsset != nil &&
		d.StrikePrice != "" &&
		d.BiddingEnd != nil &&
		d.Maturity != nil &&
		d.FundingAmount != ""
}

// CanSubmit gates the create action. It is exactly IsComplete.
func (d *Draft) CanSubmit() bool {
	return d.IsComplete()
}

// Request converts a complete draft into a creation request. The funding
// amount is split between the long and short bids by the skew. ID, status
// and timestamps are left for the caller.
func (d *Draft) Request(creator string) (domain.CreationRequest, error) {
	if !d.IsComplete() {
		return domain.CreationRequest{}, domain.ErrDraftIncomplete
	}
	strike, err := parsePositive("strike price", d.StrikePrice)
	if err != nil {
		return domain.CreationRequest{}, err
	}
	funding, err := parsePositive("funding amount", d.FundingAmount)
	if err != nil {
		return domain.CreationRequest{}, err
	}

	longBid, shortBid := SplitFunding(funding, d.Skew)
	return domain.CreationRequest{
		Asset:          d.UnderlyingAsset.Symbol,
		StrikePrice:    strike,
		BiddingEnd:     *d.BiddingEnd,
		Maturity:       *d.Maturity,
		LongPercent:    d.Skew.Long,
		ShortPercent:   d.Skew.Short,
		LongBid:        longBid,
		ShortBid:       shortBid,
		InitialFunding: funding,
		Creator:        creator,
	}, nil
}

// SplitFunding divides funding into long and short bids by the skew. The
// short bid takes the remainder so the two always sum to funding.
func SplitFunding(funding decimal.Decimal, skew Skew) (long, short decimal.Decimal) {
	long = funding.Mul(decimal.NewFromInt(int64(skew.Long))).Div(decimal.NewFromInt(100))
	return long, funding.Sub(long)
}

func parsePositive(field, v string) (decimal.Decimal, error) {
	n, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s %q is not a number", domain.ErrInvalidDraft, field, v)
	}
	if !n.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be positive", domain.ErrInvalidDraft, field)
	}
	return n, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
