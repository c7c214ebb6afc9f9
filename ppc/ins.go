package ppc

import "fmt"

// Opcode identifies a decoded instruction. Anything the decoder does not
// recognize becomes OpIllegal; the dispatcher degrades those to the
// interpreter, which raises a program exception if it cannot execute them
// either.
type Opcode uint16

const (
	OpIllegal Opcode = iota

	// integer immediate
	OpAddi
	OpAddis
	OpAddic
	OpAddicRc
	OpSubfic
	OpMulli
	OpCmpi
	OpCmpli
	OpAndiRc
	OpAndisRc
	OpOri
	OpOris
	OpXori
	OpXoris

	// integer register
	OpAdd
	OpAddc
	OpAdde
	OpAddme
	OpAddze
	OpSubf
	OpSubfc
	OpSubfe
	OpSubfme
	OpSubfze
	OpNeg
	OpMullw
	OpMulhw
	OpMulhwu
	OpDivw
	OpDivwu
	OpCmp
	OpCmpl

	// logical / shift / rotate
	OpAnd
	OpAndc
	OpOr
	OpOrc
	OpXor
	OpNand
	OpNor
	OpEqv
	OpSlw
	OpSrw
	OpSraw
	OpSrawi
	OpExtsb
	OpExtsh
	OpCntlzw
	OpRlwinm
	OpRlwimi
	OpRlwnm

	// condition register
	OpCrand
	OpCrandc
	OpCreqv
	OpCrnand
	OpCrnor
	OpCror
	OpCrorc
	OpCrxor
	OpMcrf
	OpMfcr
	OpMtcrf

	// branches
	OpB
	OpBc
	OpBclr
	OpBcctr
	OpSc
	OpRfi

	// special registers
	OpMfspr
	OpMtspr
	OpMfmsr
	OpMtmsr

	// loads and stores
	OpLbz
	OpLbzu
	OpLbzx
	OpLbzux
	OpLhz
	OpLhzu
	OpLhzx
	OpLhzux
	OpLha
	OpLhau
	OpLhax
	OpLhaux
	OpLwz
	OpLwzu
	OpLwzx
	OpLwzux
	OpStb
	OpStbu
	OpStbx
	OpStbux
	OpSth
	OpSthu
	OpSthx
	OpSthux
	OpStw
	OpStwu
	OpStwx
	OpStwux
	OpLmw
	OpStmw
	OpLwbrx
	OpStwbrx
	OpLhbrx
	OpSthbrx
	OpLwarx
	OpStwcxRc

	// floating point
	OpFadd
	OpFadds
	OpFsub
	OpFsubs
	OpFmul
	OpFmuls
	OpFdiv
	OpFdivs
	OpFmadd
	OpFmadds
	OpFmsub
	OpFmsubs
	OpFnmadd
	OpFnmadds
	OpFnmsub
	OpFnmsubs
	OpFmr
	OpFneg
	OpFabs
	OpFnabs
	OpFrsp
	OpFcmpu
	OpFcmpo
	OpFctiwz
	OpMffs
	OpMtfsf
	OpLfs
	OpLfsu
	OpLfsx
	OpLfsux
	OpLfd
	OpLfdu
	OpLfdx
	OpLfdux
	OpStfs
	OpStfsu
	OpStfsx
	OpStfsux
	OpStfd
	OpStfdu
	OpStfdx
	OpStfdux

	// barriers and cache management (mostly no-ops at this level)
	OpSync
	OpIsync
	OpEieio
	OpIcbi
	OpDcbSomething // dcbf/dcbst/dcbt/dcbtst: hints, no architectural effect here
	OpDcbz
)

// Special-purpose register numbers the core models directly.
const (
	SprXER  = 1
	SprLR   = 8
	SprCTR  = 9
	SprDEC  = 22
	SprSRR0 = 26
	SprSRR1 = 27
)

// MSR bits the core cares about.
const (
	MsrEE = 1 << 15 // external interrupts enabled
	MsrFP = 1 << 13 // floating point available
)

// Ins is one decoded instruction. Field use depends on the opcode: D doubles
// as rD, rS, frD or frS; CRF holds crfD for compares.
type Ins struct {
	Word uint32
	Op   Opcode

	D, A, B, C int
	CRF        int
	Imm        int32
	SH, MB, ME int
	BO, BI     int
	SPR        int
	CRM        int

	Rc, OE, LK, AA bool
}

func (i Ins) String() string {
	return fmt.Sprintf("ins{%v %08x}", i.Op, i.Word)
}

// IsBranch reports whether the instruction transfers control.
func (i Ins) IsBranch() bool {
	switch i.Op {
	case OpB, OpBc, OpBclr, OpBcctr, OpSc, OpRfi:
		return true
	}
	return false
}

// IsTerminal reports whether the instruction must end a translation unit:
// branches, exception generators, and context-synchronizing barriers.
func (i Ins) IsTerminal() bool {
	return i.IsBranch() || i.Op == OpIsync || i.Op == OpSync || i.Op == OpIllegal
}

func sext16(v uint32) int32 {
	return int32(int16(v))
}

// Decode translates one big-endian instruction word.
func Decode(w uint32) Ins {
	ins := Ins{
		Word: w,
		Op:   OpIllegal,
		D:    int(w >> 21 & 31),
		A:    int(w >> 16 & 31),
		B:    int(w >> 11 & 31),
		C:    int(w >> 6 & 31),
		CRF:  int(w >> 23 & 7),
		BO:   int(w >> 21 & 31),
		BI:   int(w >> 16 & 31),
		SH:   int(w >> 11 & 31),
		MB:   int(w >> 6 & 31),
		ME:   int(w >> 1 & 31),
		Rc:   w&1 != 0,
		OE:   w>>10&1 != 0,
		LK:   w&1 != 0,
		AA:   w>>1&1 != 0,
	}

	switch w >> 26 {
	case 7:
		ins.Op, ins.Imm = OpMulli, sext16(w)
	case 8:
		ins.Op, ins.Imm = OpSubfic, sext16(w)
	case 10:
		ins.Op, ins.Imm = OpCmpli, int32(w&0xffff)
	case 11:
		ins.Op, ins.Imm = OpCmpi, sext16(w)
	case 12:
		ins.Op, ins.Imm = OpAddic, sext16(w)
	case 13:
		ins.Op, ins.Imm = OpAddicRc, sext16(w)
	case 14:
		ins.Op, ins.Imm = OpAddi, sext16(w)
	case 15:
		ins.Op, ins.Imm = OpAddis, sext16(w)
	case 16:
		ins.Op = OpBc
		ins.Imm = int32(int16(w&0xfffc)) &^ 3
	case 17:
		if w>>1&1 == 1 {
			ins.Op = OpSc
		}
	case 18:
		ins.Op = OpB
		li := w & 0x03fffffc
		if li&0x02000000 != 0 {
			li |= 0xfc000000
		}
		ins.Imm = int32(li)
	case 19:
		switch w >> 1 & 0x3ff {
		case 0:
			ins.Op = OpMcrf
		case 16:
			ins.Op = OpBclr
		case 33:
			ins.Op = OpCrnor
		case 50:
			ins.Op = OpRfi
		case 129:
			ins.Op = OpCrandc
		case 150:
			ins.Op = OpIsync
		case 193:
			ins.Op = OpCrxor
		case 225:
			ins.Op = OpCrnand
		case 257:
			ins.Op = OpCrand
		case 289:
			ins.Op = OpCreqv
		case 417:
			ins.Op = OpCrorc
		case 449:
			ins.Op = OpCror
		case 528:
			ins.Op = OpBcctr
		}
	case 20:
		ins.Op = OpRlwimi
	case 21:
		ins.Op = OpRlwinm
	case 23:
		ins.Op = OpRlwnm
	case 24:
		ins.Op, ins.Imm = OpOri, int32(w&0xffff)
	case 25:
		ins.Op, ins.Imm = OpOris, int32(w&0xffff)
	case 26:
		ins.Op, ins.Imm = OpXori, int32(w&0xffff)
	case 27:
		ins.Op, ins.Imm = OpXoris, int32(w&0xffff)
	case 28:
		ins.Op, ins.Imm = OpAndiRc, int32(w&0xffff)
	case 29:
		ins.Op, ins.Imm = OpAndisRc, int32(w&0xffff)
	case 31:
		decode31(&ins, w)
	case 32:
		ins.Op, ins.Imm = OpLwz, sext16(w)
	case 33:
		ins.Op, ins.Imm = OpLwzu, sext16(w)
	case 34:
		ins.Op, ins.Imm = OpLbz, sext16(w)
	case 35:
		ins.Op, ins.Imm = OpLbzu, sext16(w)
	case 36:
		ins.Op, ins.Imm = OpStw, sext16(w)
	case 37:
		ins.Op, ins.Imm = OpStwu, sext16(w)
	case 38:
		ins.Op, ins.Imm = OpStb, sext16(w)
	case 39:
		ins.Op, ins.Imm = OpStbu, sext16(w)
	case 40:
		ins.Op, ins.Imm = OpLhz, sext16(w)
	case 41:
		ins.Op, ins.Imm = OpLhzu, sext16(w)
	case 42:
		ins.Op, ins.Imm = OpLha, sext16(w)
	case 43:
		ins.Op, ins.Imm = OpLhau, sext16(w)
	case 44:
		ins.Op, ins.Imm = OpSth, sext16(w)
	case 45:
		ins.Op, ins.Imm = OpSthu, sext16(w)
	case 46:
		ins.Op, ins.Imm = OpLmw, sext16(w)
	case 47:
		ins.Op, ins.Imm = OpStmw, sext16(w)
	case 48:
		ins.Op, ins.Imm = OpLfs, sext16(w)
	case 49:
		ins.Op, ins.Imm = OpLfsu, sext16(w)
	case 50:
		ins.Op, ins.Imm = OpLfd, sext16(w)
	case 51:
		ins.Op, ins.Imm = OpLfdu, sext16(w)
	case 52:
		ins.Op, ins.Imm = OpStfs, sext16(w)
	case 53:
		ins.Op, ins.Imm = OpStfsu, sext16(w)
	case 54:
		ins.Op, ins.Imm = OpStfd, sext16(w)
	case 55:
		ins.Op, ins.Imm = OpStfdu, sext16(w)
	case 59:
		switch w >> 1 & 31 {
		case 18:
			ins.Op = OpFdivs
		case 20:
			ins.Op = OpFsubs
		case 21:
			ins.Op = OpFadds
		case 25:
			ins.Op = OpFmuls
		case 28:
			ins.Op = OpFmsubs
		case 29:
			ins.Op = OpFmadds
		case 30:
			ins.Op = OpFnmsubs
		case 31:
			ins.Op = OpFnmadds
		}
	case 63:
		decode63(&ins, w)
	}
	return ins
}

func decode31(ins *Ins, w uint32) {
	ins.SPR = int(w>>16&31 | w>>11&31<<5)
	ins.CRM = int(w >> 12 & 0xff)
	// XO-form arithmetic carries the OE bit inside the 10-bit field, so it
	// decodes on the low 9 bits. None of the 9-bit values alias an assigned
	// 10-bit opcode.
	switch w >> 1 & 0x1ff {
	case 8:
		ins.Op = OpSubfc
		return
	case 10:
		ins.Op = OpAddc
		return
	case 40:
		ins.Op = OpSubf
		return
	case 104:
		ins.Op = OpNeg
		return
	case 136:
		ins.Op = OpSubfe
		return
	case 138:
		ins.Op = OpAdde
		return
	case 200:
		ins.Op = OpSubfze
		return
	case 202:
		ins.Op = OpAddze
		return
	case 232:
		ins.Op = OpSubfme
		return
	case 234:
		ins.Op = OpAddme
		return
	case 235:
		ins.Op = OpMullw
		return
	case 266:
		ins.Op = OpAdd
		return
	case 459:
		ins.Op = OpDivwu
		return
	case 491:
		ins.Op = OpDivw
		return
	}
	switch w >> 1 & 0x3ff {
	case 0:
		ins.Op = OpCmp
	case 11:
		ins.Op = OpMulhwu
	case 19:
		ins.Op = OpMfcr
	case 20:
		ins.Op = OpLwarx
	case 23:
		ins.Op = OpLwzx
	case 24:
		ins.Op = OpSlw
	case 26:
		ins.Op = OpCntlzw
	case 28:
		ins.Op = OpAnd
	case 32:
		ins.Op = OpCmpl
	case 54:
		ins.Op = OpDcbSomething // dcbst
	case 55:
		ins.Op = OpLwzux
	case 60:
		ins.Op = OpAndc
	case 75:
		ins.Op = OpMulhw
	case 83:
		ins.Op = OpMfmsr
	case 86:
		ins.Op = OpDcbSomething // dcbf
	case 87:
		ins.Op = OpLbzx
	case 119:
		ins.Op = OpLbzux
	case 124:
		ins.Op = OpNor
	case 144:
		ins.Op = OpMtcrf
	case 146:
		ins.Op = OpMtmsr
	case 150:
		ins.Op = OpStwcxRc
	case 151:
		ins.Op = OpStwx
	case 183:
		ins.Op = OpStwux
	case 215:
		ins.Op = OpStbx
	case 246:
		ins.Op = OpDcbSomething // dcbtst
	case 247:
		ins.Op = OpStbux
	case 278:
		ins.Op = OpDcbSomething // dcbt
	case 279:
		ins.Op = OpLhzx
	case 284:
		ins.Op = OpEqv
	case 311:
		ins.Op = OpLhzux
	case 316:
		ins.Op = OpXor
	case 339:
		ins.Op = OpMfspr
	case 343:
		ins.Op = OpLhax
	case 375:
		ins.Op = OpLhaux
	case 407:
		ins.Op = OpSthx
	case 412:
		ins.Op = OpOrc
	case 439:
		ins.Op = OpSthux
	case 444:
		ins.Op = OpOr
	case 467:
		ins.Op = OpMtspr
	case 476:
		ins.Op = OpNand
	case 534:
		ins.Op = OpLwbrx
	case 535:
		ins.Op = OpLfsx
	case 536:
		ins.Op = OpSrw
	case 567:
		ins.Op = OpLfsux
	case 598:
		ins.Op = OpSync
	case 599:
		ins.Op = OpLfdx
	case 631:
		ins.Op = OpLfdux
	case 662:
		ins.Op = OpStwbrx
	case 663:
		ins.Op = OpStfsx
	case 695:
		ins.Op = OpStfsux
	case 727:
		ins.Op = OpStfdx
	case 759:
		ins.Op = OpStfdux
	case 790:
		ins.Op = OpLhbrx
	case 792:
		ins.Op = OpSraw
	case 824:
		ins.Op = OpSrawi
	case 854:
		ins.Op = OpEieio
	case 918:
		ins.Op = OpSthbrx
	case 922:
		ins.Op = OpExtsh
	case 954:
		ins.Op = OpExtsb
	case 982:
		ins.Op = OpIcbi
	case 1014:
		ins.Op = OpDcbz
	}
}

func decode63(ins *Ins, w uint32) {
	// the 5-bit extended opcodes (A-form arithmetic) alias the low bits of
	// the 10-bit space, so check them first
	switch w >> 1 & 31 {
	case 18:
		ins.Op = OpFdiv
		return
	case 20:
		ins.Op = OpFsub
		return
	case 21:
		ins.Op = OpFadd
		return
	case 25:
		ins.Op = OpFmul
		return
	case 28:
		ins.Op = OpFmsub
		return
	case 29:
		ins.Op = OpFmadd
		return
	case 30:
		ins.Op = OpFnmsub
		return
	case 31:
		ins.Op = OpFnmadd
		return
	}
	switch w >> 1 & 0x3ff {
	case 0:
		ins.Op = OpFcmpu
	case 12:
		ins.Op = OpFrsp
	case 15:
		ins.Op = OpFctiwz
	case 32:
		ins.Op = OpFcmpo
	case 40:
		ins.Op = OpFneg
	case 72:
		ins.Op = OpFmr
	case 136:
		ins.Op = OpFnabs
	case 264:
		ins.Op = OpFabs
	case 583:
		ins.Op = OpMffs
	case 711:
		ins.Op = OpMtfsf
	}
}
