package utils

import "math"

const (
	// QuantityDecimals is the precision kept on reported quantities and prices.
	QuantityDecimals = 8
	// BalanceTolerance is how far a reported balance may differ from the
	// summed ledger before it is worth a warning.
	BalanceTolerance = 1e-4
)

// RoundFloat rounds a float64 to a specified number of decimal places.
func RoundFloat(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}

// RoundQuantity rounds to QuantityDecimals.
func RoundQuantity(val float64) float64 {
	return RoundFloat(val, QuantityDecimals)
}

// Drift returns |computed - reported| and whether it exceeds BalanceTolerance.
func Drift(computed, reported float64) (float64, bool) {
	d := math.Abs(computed - reported)
	return d, d > BalanceTolerance
}
