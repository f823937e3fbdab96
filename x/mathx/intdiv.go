package mathx

import "golang.org/x/exp/constraints"

// CeilDiv returns ceil(a/b) for unsigned integers; b == 0 yields 0.
func CeilDiv[T constraints.Unsigned](a, b T) T {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Percent returns done*100/total rounded down, clamped to 100.
func Percent[T constraints.Unsigned](done, total T) uint8 {
	if total == 0 || done >= total {
		return 100
	}
	return uint8(uint64(done) * 100 / uint64(total))
}
