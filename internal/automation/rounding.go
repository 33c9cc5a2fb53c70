package automation

import "github.com/shopspring/decimal"

// Rounding modes accepted by adjust_price.
const (
	RoundNearest  = "round"
	RoundUp       = "round_up"
	RoundDown     = "round_down"
	RoundToCent   = "round_to_cent"
	RoundToDollar = "round_to_dollar"
	RoundNone     = "none"
)

// ApplyRounding rounds price according to mode. Unknown modes leave the price
// untouched. Every mode is idempotent.
func ApplyRounding(price decimal.Decimal, mode string) decimal.Decimal {
	switch mode {
	case RoundNearest, RoundToDollar:
		return price.Round(0)
	case RoundUp:
		return price.Ceil()
	case RoundDown:
		return price.Floor()
	case RoundToCent:
		return price.Round(2)
	default:
		return price
	}
}
