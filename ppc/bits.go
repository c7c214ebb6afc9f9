package ppc

import "math/bits"

// Semantic helpers shared by the interpreter and the compiled path. Keeping
// them in one place means the two execution paths cannot drift apart on the
// fiddly bits (carry, rotate masks, CR encoding).

// RotMask builds the PowerPC rotate mask selecting bits mb through me
// inclusive, in big-endian bit numbering (bit 0 is the MSB).
func RotMask(mb, me uint32) uint32 {
	m1 := uint32(0xffffffff) >> mb
	m2 := uint32(0xffffffff) >> (me + 1)
	if me == 31 {
		m2 = 0
	}
	if mb <= me {
		return m1 &^ m2
	}
	return m1 | ^m2
}

// Rotl32 rotates v left by n (n taken mod 32).
func Rotl32(v uint32, n uint32) uint32 {
	n &= 31
	return v<<n | v>>(32-n)
}

// CarryAdd reports the carry out of a+b.
func CarryAdd(a, b uint32) bool {
	return a+b < a
}

// CarryAdd3 reports the carry out of a+b+c where c is 0 or 1.
func CarryAdd3(a, b, c uint32) bool {
	s := a + b
	return s < a || s+c < s
}

// AddOverflow reports signed overflow of a+b (carry-in included in sum).
func AddOverflow(a, b, sum uint32) bool {
	return (a^sum)&(b^sum)>>31 != 0
}

// CRField encodes a 4-bit condition field from a signed compare plus the
// summary-overflow bit.
func CRField(lt, gt, eq, so bool) uint32 {
	var f uint32
	if lt {
		f |= 8
	}
	if gt {
		f |= 4
	}
	if eq {
		f |= 2
	}
	if so {
		f |= 1
	}
	return f
}

// CompareS produces a CR field from a signed comparison.
func CompareS(a, b int32, so bool) uint32 {
	return CRField(a < b, a > b, a == b, so)
}

// CompareU produces a CR field from an unsigned comparison.
func CompareU(a, b uint32, so bool) uint32 {
	return CRField(a < b, a > b, a == b, so)
}

// SetCRF replaces condition field n (0..7, field 0 at the MSB end) in cr.
func SetCRF(cr uint32, n int, field uint32) uint32 {
	sh := uint(28 - 4*n)
	return cr&^(0xf<<sh) | (field&0xf)<<sh
}

// GetCRF extracts condition field n from cr.
func GetCRF(cr uint32, n int) uint32 {
	return cr >> uint(28-4*n) & 0xf
}

// CRBit reads condition bit bi (0..31, big-endian numbering).
func CRBit(cr uint32, bi int) uint32 {
	return cr >> uint(31-bi) & 1
}

// SetCRBit writes condition bit bi.
func SetCRBit(cr uint32, bi int, v uint32) uint32 {
	sh := uint(31 - bi)
	return cr&^(1<<sh) | (v&1)<<sh
}

// BranchTaken evaluates the bc condition encoding against cr and the counter.
// It returns the possibly-decremented counter and whether the branch is taken.
func BranchTaken(bo, bi int, cr uint32, ctr uint32) (uint32, bool) {
	if bo&4 == 0 {
		ctr--
	}
	ctrOK := bo&4 != 0 || (ctr == 0) == (bo&2 != 0)
	condOK := bo&0x10 != 0 || (CRBit(cr, bi) == 1) == (bo&8 != 0)
	return ctr, ctrOK && condOK
}

// Divw performs signed 32-bit division with the architectural corner cases
// (divide by zero, 0x80000000 / -1) pinned to zero so both execution paths
// agree on the formally-undefined results.
func Divw(a, b uint32) uint32 {
	if b == 0 || (a == 0x80000000 && b == 0xffffffff) {
		return 0
	}
	return uint32(int32(a) / int32(b))
}

// Divwu performs unsigned 32-bit division, pinning divide-by-zero to zero.
func Divwu(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return a / b
}

// Sraw implements the shift-right-algebraic result and carry. sh may exceed
// 31 (register form masks to 6 bits).
func Sraw(a uint32, sh uint32) (uint32, bool) {
	sign := int32(a) < 0
	if sh == 0 {
		return a, false
	}
	if sh > 31 {
		if sign {
			return 0xffffffff, true
		}
		return 0, false
	}
	res := uint32(int32(a) >> sh)
	ca := sign && a&(1<<sh-1) != 0
	return res, ca
}

// Cntlzw counts leading zeros, with the architectural result of 32 for zero.
func Cntlzw(v uint32) uint32 {
	return uint32(bits.LeadingZeros32(v))
}
