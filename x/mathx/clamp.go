package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// AtLeast returns v, or floor when v is below it.
func AtLeast[T constraints.Ordered](v, floor T) T {
	if v < floor {
		return floor
	}
	return v
}

// SatSub returns a-b for unsigned values, saturating at zero.
func SatSub[T constraints.Unsigned](a, b T) T {
	if b >= a {
		return 0
	}
	return a - b
}
