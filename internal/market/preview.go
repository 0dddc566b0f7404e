package market

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/optionsd/internal/domain"
	"github.com/alanyoungcy/optionsd/internal/format"
)

// QuoteCurrency is the fiat label shown next to strike prices.
const QuoteCurrency = "USD"

// PriceBar is the two-segment long/short bar.
type PriceBar struct {
	Long  int `json:"long"`
	Short int `json:"short"`
}

// FeeRates is the fee schedule rendered as percentages.
type FeeRates struct {
	Creator string `json:"creator"`
	Refund  string `json:"refund"`
	Trading string `json:"trading"`
}

// FeeAmounts is the fee schedule applied to the funding amount.
type FeeAmounts struct {
	Creator string `json:"creator"`
	Refund  string `json:"refund"`
	Trading string `json:"trading"`
}

// Preview is the summary pane shown next to the draft.
type Preview struct {
	AssetSymbol     string      `json:"asset_symbol,omitempty"`
	AssetLabel      string      `json:"asset_label"`
	StrikeLabel     string      `json:"strike_label"`
	BiddingEndLabel string      `json:"bidding_end_label"`
	TradingPeriod   string      `json:"trading_period"`
	PriceBar        PriceBar    `json:"price_bar"`
	Fees            FeeRates    `json:"fees"`
	FeeAmounts      *FeeAmounts `json:"fee_amounts,omitempty"`
	CanSubmit       bool        `json:"can_submit"`
}

// BuildPreview derives the preview for d. The trading period is measured
// from now to the bidding end; it is computed once per call.
func BuildPreview(d *Draft, dir domain.AssetDirectory, fees domain.FeeSchedule, now time.Time) Preview {
	sign := quoteSign(dir)

	p := Preview{
		AssetLabel:      format.Empty,
		StrikeLabel:     strikeLabel(sign, d.StrikePrice),
		BiddingEndLabel: format.ShortDate(d.BiddingEnd),
		TradingPeriod:   format.Empty,
		PriceBar:        PriceBar{Long: d.Skew.Long, Short: d.Skew.Short},
		Fees: FeeRates{
			Creator: format.Percent(fees.Creator),
			Refund:  format.Percent(fees.Refund),
			Trading: format.Percent(fees.Trading),
		},
		CanSubmit: d.CanSubmit(),
	}
	if d.UnderlyingAsset != nil {
		p.AssetSymbol = d.UnderlyingAsset.Symbol
		p.AssetLabel = d.UnderlyingAsset.DisplayName
		if p.AssetLabel == "" {
			p.AssetLabel = d.UnderlyingAsset.Symbol
		}
	}
	if d.BiddingEnd != nil {
		p.TradingPeriod = format.Duration(now, *d.BiddingEnd)
	}
	if funding, err := decimal.NewFromString(strings.TrimSpace(d.FundingAmount)); err == nil && funding.IsPositive() {
		p.FeeAmounts = &FeeAmounts{
			Creator: format.Currency(sign, funding.Mul(fees.Creator)),
			Refund:  format.Currency(sign, funding.Mul(fees.Refund)),
			Trading: format.Currency(sign, funding.Mul(fees.Trading)),
		}
	}
	return p
}

func quoteSign(dir domain.AssetDirectory) string {
	if dir == nil {
		return ""
	}
	if a, ok := dir.Lookup(domain.StableAsset); ok {
		return a.Sign
	}
	return ""
}

func strikeLabel(sign, strike string) string {
	if strike == "" {
		strike = "0"
	}
	return sign + strike + " " + QuoteCurrency
}
