// Package format renders amounts, rates, dates and durations for API views.
package format

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"github.com/shopspring/decimal"
)

// Empty is the placeholder shown for values that are not set.
const Empty = "-"

// ShortDateLayout renders dates like "Jan 2, 2006".
const ShortDateLayout = "Jan 2, 2006"

// Currency renders an amount with a currency sign and thousands separators,
// e.g. "$1,234.50". Amounts are rounded half away from zero to cents.
func Currency(sign string, amount decimal.Decimal) string {
	rounded := amount.Round(2)
	abs := rounded.Abs()
	fixed := abs.StringFixed(2)
	s := sign + humanize.BigComma(abs.Truncate(0).BigInt()) + fixed[len(fixed)-3:]
	if rounded.IsNegative() {
		return "-" + s
	}
	return s
}

// Percent renders a fractional rate as a percentage with two decimals,
// e.g. 0.001 -> "0.10%".
func Percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// ShortDate renders t in ShortDateLayout, or Empty when t is nil.
func ShortDate(t *time.Time) string {
	if t == nil {
		return Empty
	}
	return t.Format(ShortDateLayout)
}

// Duration renders the interval from start to end as its two largest
// non-zero units no bigger than days, e.g. "3 days 4 hours". Intervals
// shorter than a second render as "0 seconds".
func Duration(start, end time.Time) string {
	d := end.Sub(start).Truncate(time.Second)
	if d < time.Second {
		return "0 seconds"
	}
	return durafmt.Parse(d).LimitToUnit("days").LimitFirstN(2).String()
}
