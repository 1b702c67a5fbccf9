package domain

import "math"

// ToCents converts a decimal major-unit amount to integer minor units,
// rounding half away from zero. All platform-facing amounts go through this
// single conversion point.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromCents converts integer minor units back to a decimal major-unit amount.
func FromCents(cents int64) float64 {
	return float64(cents) / 100
}

// RoundAmount normalizes a decimal amount to cent precision without leaving
// major units, for comparing locally computed decimals.
func RoundAmount(amount float64) float64 {
	return math.Round(amount*100) / 100
}
