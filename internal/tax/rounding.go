package tax

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fraction digits kept on every monetary value.
const MoneyPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// Round applies the shared rounding policy: half away from zero to MoneyPlaces digits.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// percentOf returns base * rate/100 rounded with the shared policy. The
// division is a decimal shift, so Round is the only rounding step.
func percentOf(base, ratePercent decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(ratePercent).Shift(-2))
}
