package utils

import (
	"golang.org/x/exp/constraints"
)

// Clamp bounds value into [low, high]
func Clamp[T constraints.Integer](value, low, high T) (v T) {
	switch {
	case value < low:
		return low
	case value > high:
		return high
	default:
		return value
	}
}
