package ppc

import "testing"

func TestRotMask(t *testing.T) {
	cases := []struct {
		mb, me uint32
		want   uint32
	}{
		{0, 31, 0xffffffff},
		{0, 0, 0x80000000},
		{31, 31, 0x00000001},
		{16, 31, 0x0000ffff},
		{0, 15, 0xffff0000},
		{24, 7, 0xff0000ff}, // wrapped mask
		{28, 3, 0xf000000f},
	}
	for _, c := range cases {
		if got := RotMask(c.mb, c.me); got != c.want {
			t.Errorf("RotMask(%d, %d) = %08x, want %08x", c.mb, c.me, got, c.want)
		}
	}
}

func TestRotl32(t *testing.T) {
	if got := Rotl32(0x80000001, 1); got != 0x00000003 {
		t.Errorf("rotl 1 = %08x", got)
	}
	if got := Rotl32(0x12345678, 0); got != 0x12345678 {
		t.Errorf("rotl 0 = %08x", got)
	}
	if got := Rotl32(0x12345678, 32); got != 0x12345678 {
		t.Errorf("rotl 32 = %08x", got)
	}
}

func TestCarryAdd(t *testing.T) {
	if CarryAdd(1, 2) {
		t.Error("1+2 should not carry")
	}
	if !CarryAdd(0xffffffff, 1) {
		t.Error("0xffffffff+1 should carry")
	}
	if !CarryAdd3(0xffffffff, 0, 1) {
		t.Error("0xffffffff+0+1 should carry")
	}
	if CarryAdd3(0xfffffffe, 0, 1) {
		t.Error("0xfffffffe+0+1 should not carry")
	}
	if !CarryAdd3(0xffffffff, 0xffffffff, 1) {
		t.Error("max+max+1 should carry")
	}
}

func TestAddOverflow(t *testing.T) {
	cases := []struct {
		a, b uint32
		want bool
	}{
		{0x7fffffff, 1, true},
		{0x80000000, 0xffffffff, true},
		{1, 1, false},
		{0xffffffff, 1, false}, // -1 + 1 = 0, no signed overflow
	}
	for _, c := range cases {
		if got := AddOverflow(c.a, c.b, c.a+c.b); got != c.want {
			t.Errorf("AddOverflow(%08x, %08x) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestCompareFields(t *testing.T) {
	if got := CompareS(-1, 1, false); got != 8 {
		t.Errorf("lt field = %x", got)
	}
	if got := CompareS(5, 1, false); got != 4 {
		t.Errorf("gt field = %x", got)
	}
	if got := CompareS(3, 3, true); got != 3 {
		t.Errorf("eq+so field = %x", got)
	}
	// -1 unsigned is the largest value
	if got := CompareU(0xffffffff, 1, false); got != 4 {
		t.Errorf("unsigned gt field = %x", got)
	}
}

func TestCRFieldAccess(t *testing.T) {
	cr := SetCRF(0, 0, 0x8)
	if cr != 0x80000000 {
		t.Errorf("field 0 should land at the MSB end: %08x", cr)
	}
	cr = SetCRF(cr, 7, 0x2)
	if GetCRF(cr, 7) != 0x2 || GetCRF(cr, 0) != 0x8 {
		t.Errorf("field roundtrip: %08x", cr)
	}
	if CRBit(cr, 0) != 1 {
		t.Error("bit 0 is the LT bit of field 0")
	}
	if CRBit(cr, 30) != 1 {
		t.Error("bit 30 is the EQ bit of field 7")
	}
}

func TestBranchTaken(t *testing.T) {
	// branch always
	if _, taken := BranchTaken(0x14, 0, 0, 0); !taken {
		t.Error("bo=0x14 is branch-always")
	}
	// beq with EQ set (bit 2 of field 0)
	cr := SetCRF(0, 0, 0x2)
	if _, taken := BranchTaken(0x0c, 2, cr, 0); !taken {
		t.Error("beq with EQ set should be taken")
	}
	if _, taken := BranchTaken(0x0c, 2, 0, 0); taken {
		t.Error("beq with EQ clear should fall through")
	}
	// bdnz decrements and branches while ctr != 0
	ctr, taken := BranchTaken(0x10, 0, 0, 2)
	if ctr != 1 || !taken {
		t.Errorf("bdnz: ctr=%d taken=%v", ctr, taken)
	}
	ctr, taken = BranchTaken(0x10, 0, 0, 1)
	if ctr != 0 || taken {
		t.Errorf("bdnz at 1: ctr=%d taken=%v", ctr, taken)
	}
}

func TestDivCorners(t *testing.T) {
	if Divw(100, 7) != uint32(100/7) {
		t.Error("plain signed divide")
	}
	if Divw(0x80000000, 0xffffffff) != 0 {
		t.Error("int-min / -1 pins to zero")
	}
	if Divw(5, 0) != 0 || Divwu(5, 0) != 0 {
		t.Error("divide by zero pins to zero")
	}
	if Divwu(0xfffffffe, 2) != 0x7fffffff {
		t.Error("unsigned divide")
	}
}

func TestSraw(t *testing.T) {
	res, ca := Sraw(0xffffffff, 1)
	if res != 0xffffffff || !ca {
		t.Errorf("sraw -1>>1 = %08x ca=%v", res, ca)
	}
	res, ca = Sraw(0xfffffffe, 1)
	if res != 0xffffffff || ca {
		t.Errorf("sraw -2>>1 = %08x ca=%v, no bits lost", res, ca)
	}
	res, ca = Sraw(4, 1)
	if res != 2 || ca {
		t.Errorf("sraw 4>>1 = %08x ca=%v", res, ca)
	}
	res, ca = Sraw(0x80000000, 40)
	if res != 0xffffffff || !ca {
		t.Errorf("sraw big shift = %08x ca=%v", res, ca)
	}
	res, ca = Sraw(0x100, 40)
	if res != 0 || ca {
		t.Errorf("sraw positive big shift = %08x ca=%v", res, ca)
	}
}

func TestCntlzw(t *testing.T) {
	if Cntlzw(0) != 32 {
		t.Error("clz(0) = 32")
	}
	if Cntlzw(0x80000000) != 0 {
		t.Error("clz(msb) = 0")
	}
	if Cntlzw(1) != 31 {
		t.Error("clz(1) = 31")
	}
}
