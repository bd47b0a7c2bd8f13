package broker

import (
	"math"

	"github.com/shopspring/decimal"
)

// DefaultPoint is the number of decimal places money and prices are kept at.
const DefaultPoint = 2

// Round rounds x to places decimal places, half away from zero. All ledger
// arithmetic goes through here so that every field is rounded the same way.
// NaN and infinities are returned unchanged; callers reject them upstream.
func Round(x float64, places int32) float64 {
	if !Finite(x) {
		return x
	}
	f, _ := decimal.NewFromFloat(x).Round(places).Float64()
	return f
}

// Finite reports whether x is neither NaN nor infinite.
func Finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
