package assignment

import "unicode/utf16"

// Hash32 folds s into a signed 32-bit accumulator with h = h*31 + unit over
// the UTF-16 code units of s. Overflow wraps, so values match assignments
// recorded by the storefront script for running experiments.
func Hash32(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}

// absHash widens before taking the absolute value so math.MinInt32 stays positive.
func absHash(s string) int64 {
	h := int64(Hash32(s))
	if h < 0 {
		return -h
	}
	return h
}

// HashToUnit maps an identifier to a stable value in [0, 1).
func HashToUnit(id string) float64 {
	return float64(absHash(id)%10000) / 10000
}
