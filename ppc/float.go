package ppc

import "math"

// FusedMadd computes the fused multiply-add family: a*c +/- b, optionally
// negated. The multiply-add is performed without intermediate rounding, which
// is what the hardware does and what math.FMA guarantees.
func FusedMadd(a, c, b float64, sub, neg bool) float64 {
	if sub {
		b = -b
	}
	res := math.FMA(a, c, b)
	if neg {
		res = -res
	}
	return res
}

// FloatCompare produces the 4-bit condition field for an unordered compare:
// LT, GT, EQ, or FU (unordered) when either operand is a NaN.
func FloatCompare(a, b float64) uint32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return 1
	case a < b:
		return 8
	case a > b:
		return 4
	}
	return 2
}

// ConvertToIntWord implements the round-toward-zero float-to-int conversion.
// The 32-bit result lands in the low word of the destination register; the
// high word holds the architectural 0xFFF8xxxx pattern the hardware leaves
// there, which games have been known to depend on.
func ConvertToIntWord(v float64) float64 {
	var res uint32
	switch {
	case math.IsNaN(v):
		res = 0x80000000
	case v >= 2147483647:
		res = 0x7fffffff
	case v <= -2147483648:
		res = 0x80000000
	default:
		res = uint32(int32(math.Trunc(v)))
	}
	return math.Float64frombits(0xfff8000000000000 | uint64(res))
}
