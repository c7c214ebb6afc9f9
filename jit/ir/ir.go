// Package ir is the intermediate representation shared by the PowerPC
// front-end and the code-generation backends. Ops name architectural
// registers directly; a translation unit is straight-line (branches are only
// ever terminal), so lowering never needs intra-unit control flow.
package ir

import "github.com/flipper-emu/flipper/arch"

type Kind uint8

const (
	KNop Kind = iota

	// integer
	KLoadImm // rd = imm
	KAddImm  // rd = ra + imm
	KAdd     // rd = ra + rb
	KAddC    // rd = ra + rb, sets CA
	KAddCImm // rd = ra + imm, sets CA
	KAddE    // rd = ra + rb + CA, sets CA
	KAddME   // rd = ra + CA - 1, sets CA
	KAddZE   // rd = ra + CA, sets CA
	KSubf    // rd = rb - ra
	KSubfC   // rd = rb - ra, sets CA
	KSubfImm // rd = imm - ra, sets CA (subfic)
	KSubfE   // rd = rb + ^ra + CA, sets CA
	KSubfME  // rd = ^ra + CA - 1, sets CA
	KSubfZE  // rd = ^ra + CA, sets CA
	KNeg     // rd = -ra
	KMullw
	KMullwImm
	KMulhw
	KMulhwu
	KDivw
	KDivwu
	KAnd
	KAndImm
	KAndc
	KOr
	KOrImm
	KOrc
	KXor
	KXorImm
	KNand
	KNor
	KEqv
	KSlw
	KSrw
	KSraw    // sets CA
	KSrawImm // sets CA
	KExtsb
	KExtsh
	KCntlzw
	KRlwinm // rd = rot(ra, SH) & mask(MB,ME)
	KRlwimi // rd = rd&^mask | rot(ra,SH)&mask
	KRlwnm  // rd = rot(ra, rb&31) & mask(MB,ME)

	// condition register; these are the explicit flag ops the dead-flag
	// pass reasons about
	KUpdCR0  // CR0 = compare(rd as signed, 0) with SO
	KCmpS    // CRF = signed compare ra, rb
	KCmpSImm // CRF = signed compare ra, imm
	KCmpU    // CRF = unsigned compare ra, rb
	KCmpUImm // CRF = unsigned compare ra, imm
	KCrOp    // CR[bd] = op(CR[ba], CR[bb]); sub-op in Imm
	KMcrf    // CRF(rd) = CRF(ra)
	KMfcr    // rd = CR
	KMtcrf   // CR fields selected by Imm mask = rd

	// special registers
	KMfspr // rd = LR/CTR/XER (selector in Imm)
	KMtspr // LR/CTR/XER = rd

	// memory; Size in bytes, flags on the op. All of these can raise a
	// DSI exit mid-unit, so they are barriers for the dead-flag pass.
	KLoad   // rd = mem[ea]
	KStore  // mem[ea] = rd
	KLoadFS // frd = float64(f32 at ea)
	KLoadFD
	KStoreFS
	KStoreFD
	KLmw
	KStmw
	KDcbz // zero the 32-byte cache line containing ea

	// floating point (double unless Single)
	KFAdd
	KFSub
	KFMul
	KFDiv
	KFMadd  // frd = ra*rc + rb
	KFMsub  // frd = ra*rc - rb
	KFNmadd // frd = -(ra*rc + rb)
	KFNmsub // frd = -(ra*rc - rb)
	KFMr
	KFNeg
	KFAbs
	KFNabs
	KFRsp
	KFCmpu // CRF = unordered compare
	KFCtiwz

	// terminal ops; exactly one ends every sequence
	KBranch     // exit Branch(Imm); SetLR flag for bl
	KBranchCond // BO/BI; taken exit Branch(Imm), else Fallthrough(Imm2)
	KBranchLR   // BO/BI; taken exit Branch(LR&^3), else Fallthrough(Imm2)
	KBranchCTR  // BO/BI; taken exit Branch(CTR&^3), else Fallthrough(Imm2)
	KSyscall    // exit Exception(syscall) resuming at Imm
	KRfi        // restore MSR from SRR1, exit Branch(SRR0&^3)
	KFallback   // exit Fallback(Imm)
	KEnd        // exit Fallthrough(Imm); max-count or forced boundary
)

// CrOp sub-operations, stored in Op.Imm.
const (
	CrAnd = iota
	CrAndc
	CrEqv
	CrNand
	CrNor
	CrOr
	CrOrc
	CrXor
)

// Op is one IR operation. PC is the guest address of the originating
// instruction, used for precise exception exits.
type Op struct {
	Kind Kind
	PC   uint32

	RD, RA, RB, RC int
	CRF            int
	BO, BI         int
	SH, MB, ME     int
	Imm            uint32
	Imm2           uint32

	Size   int
	Signed bool
	Update bool // write EA back to RA after access
	Rev    bool // byte-reversed access
	Single bool // round FP result to single precision
	SetLR  bool
}

// terminal reports whether the op ends the unit.
func (o *Op) terminal() bool {
	return o.Kind >= KBranch
}

// barrier reports whether the op can leave the unit mid-sequence via an
// exception exit. Flag definitions may not be eliminated across a barrier:
// the exit-state contract requires flags to be committed at every exit point.
func (o *Op) barrier() bool {
	switch o.Kind {
	case KLoad, KStore, KLoadFS, KLoadFD, KStoreFS, KStoreFD, KLmw, KStmw, KDcbz:
		return true
	}
	return o.terminal()
}

// defCRF returns the CR field the op defines, or -1.
func (o *Op) defCRF() int {
	switch o.Kind {
	case KUpdCR0:
		return 0
	case KCmpS, KCmpSImm, KCmpU, KCmpUImm, KFCmpu:
		return o.CRF
	}
	return -1
}

// readsCR reports whether the op observes any CR bits.
func (o *Op) readsCR() bool {
	switch o.Kind {
	case KCrOp, KMcrf, KMfcr, KMtcrf, KBranchCond, KBranchLR, KBranchCTR:
		return true
	}
	return false
}

// ExitKind tags a unit exit descriptor.
type ExitKind uint8

const (
	ExitFallthrough ExitKind = iota
	ExitBranch
	ExitException
	ExitFallback
)

func (k ExitKind) String() string {
	switch k {
	case ExitFallthrough:
		return "fallthrough"
	case ExitBranch:
		return "branch"
	case ExitException:
		return "exception"
	case ExitFallback:
		return "fallback"
	}
	return "exit?"
}

// ExitDesc describes one declared exit of a unit. Exception exits carry the
// cause; address exits carry the static target (0 for computed targets such
// as bclr).
type ExitDesc struct {
	Kind   ExitKind
	Target uint32
	Cause  arch.Exception
}

// Sequence is the IR for one translation unit.
type Sequence struct {
	Start  uint32
	NumIns int
	Ops    []Op
	Exits  []ExitDesc
}

// Len returns the guest byte length covered by the unit.
func (s *Sequence) Len() uint32 {
	return uint32(s.NumIns) * 4
}
