// Package frontend turns guest PowerPC code into IR translation units.
package frontend

import (
	"fmt"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
	"github.com/flipper-emu/flipper/ppc"
)

// Config bounds unit construction.
type Config struct {
	// MaxIns caps instructions per unit, bounding compile latency and
	// invalidation granularity.
	MaxIns int
}

const DefaultMaxIns = 128

type Frontend struct {
	cfg Config
}

func New(cfg Config) *Frontend {
	if cfg.MaxIns <= 0 {
		cfg.MaxIns = DefaultMaxIns
	}
	return &Frontend{cfg: cfg}
}

// FetchError reports an instruction fetch fault at the first address of a
// would-be unit. The dispatcher surfaces it as a guest ISI exception.
type FetchError struct {
	Addr uint32
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("instruction fetch fault at %#x", e.Addr)
}

// Build decodes a translation unit starting at start. boundary forces a unit
// split before the given address (breakpoints are compiled as forced exit
// boundaries); it may be nil.
//
// The result is never empty: an unsupported first instruction produces a
// one-op fallback unit rather than a silent skip.
func (f *Frontend) Build(bus *mem.Bus, start uint32, boundary func(uint32) bool) (*ir.Sequence, error) {
	seq := &ir.Sequence{Start: start}
	pc := start

	for seq.NumIns < f.cfg.MaxIns {
		if boundary != nil && pc != start && boundary(pc) {
			endUnit(seq, pc)
			return seq, nil
		}
		word, err := bus.ReadU32(pc)
		if err != nil {
			if seq.NumIns == 0 {
				return nil, &FetchError{Addr: pc}
			}
			endUnit(seq, pc)
			return seq, nil
		}

		ins := ppc.Decode(word)
		ops, ok := translate(ins, pc)
		if !ok {
			if seq.NumIns == 0 {
				fallbackUnit(seq, pc)
				return seq, nil
			}
			endUnit(seq, pc)
			return seq, nil
		}
		seq.Ops = append(seq.Ops, ops...)
		seq.NumIns++
		if ins.IsTerminal() {
			finishExits(seq)
			return seq, nil
		}
		pc += 4
	}

	endUnit(seq, pc)
	return seq, nil
}

// fallbackUnit builds the degenerate unit for an address the front-end cannot
// compile: it exits immediately to the interpreter.
func fallbackUnit(seq *ir.Sequence, pc uint32) {
	seq.Ops = append(seq.Ops, ir.Op{Kind: ir.KFallback, PC: pc, Imm: pc})
	seq.NumIns = 0
	seq.Exits = []ir.ExitDesc{{Kind: ir.ExitFallback, Target: pc}}
}

func endUnit(seq *ir.Sequence, next uint32) {
	seq.Ops = append(seq.Ops, ir.Op{Kind: ir.KEnd, PC: next - 4, Imm: next})
	finishExits(seq)
}

// finishExits derives the unit's declared exit descriptors from its terminal
// op plus an exception exit if any op can fault.
func finishExits(seq *ir.Sequence) {
	last := &seq.Ops[len(seq.Ops)-1]
	switch last.Kind {
	case ir.KBranch:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitBranch, Target: last.Imm})
	case ir.KBranchCond, ir.KBranchLR, ir.KBranchCTR:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitBranch, Target: last.Imm})
		if mayFallthrough(last.BO) {
			seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitFallthrough, Target: last.Imm2})
		}
	case ir.KSyscall:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitException, Cause: arch.ExcSyscall})
	case ir.KRfi:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitBranch})
	case ir.KFallback:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitFallback, Target: last.Imm})
	case ir.KEnd:
		seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitFallthrough, Target: last.Imm})
	}
	for i := range seq.Ops {
		switch seq.Ops[i].Kind {
		case ir.KLoad, ir.KStore, ir.KLoadFS, ir.KLoadFD, ir.KStoreFS, ir.KStoreFD,
			ir.KLmw, ir.KStmw, ir.KDcbz:
			seq.Exits = append(seq.Exits, ir.ExitDesc{Kind: ir.ExitException, Cause: arch.ExcDSI})
			return
		}
	}
}

// mayFallthrough reports whether a bc-family encoding can fail its test.
func mayFallthrough(bo int) bool {
	return bo&0x10 == 0 || bo&4 == 0
}

// translate lowers one decoded instruction. ok is false when the instruction
// must run on the interpreter: unknown words, privileged or reservation ops,
// FPSCR manipulation, and the OE-form arithmetic the backend does not model.
func translate(ins ppc.Ins, pc uint32) ([]ir.Op, bool) {
	op := ir.Op{PC: pc, RD: ins.D, RA: ins.A, RB: ins.B, RC: ins.C,
		CRF: ins.CRF, BO: ins.BO, BI: ins.BI,
		SH: ins.SH, MB: ins.MB, ME: ins.ME, Imm: uint32(ins.Imm)}
	var ops []ir.Op
	emit := func(k ir.Kind) *ir.Op {
		op.Kind = k
		ops = append(ops, op)
		return &ops[len(ops)-1]
	}
	rc := func() {
		if ins.Rc {
			ops = append(ops, ir.Op{Kind: ir.KUpdCR0, PC: pc, RD: ins.D})
		}
	}

	if ins.OE {
		switch ins.Op {
		case ppc.OpAdd, ppc.OpAddc, ppc.OpAdde, ppc.OpAddme, ppc.OpAddze,
			ppc.OpSubf, ppc.OpSubfc, ppc.OpSubfe, ppc.OpSubfme, ppc.OpSubfze,
			ppc.OpNeg, ppc.OpMullw, ppc.OpDivw, ppc.OpDivwu:
			return nil, false
		}
	}

	switch ins.Op {
	case ppc.OpAddi:
		if ins.A == 0 {
			op.RA = -1
			emit(ir.KLoadImm)
		} else {
			emit(ir.KAddImm)
		}
	case ppc.OpAddis:
		op.Imm = uint32(ins.Imm) << 16
		if ins.A == 0 {
			op.RA = -1
			emit(ir.KLoadImm)
		} else {
			emit(ir.KAddImm)
		}
	case ppc.OpAddic:
		emit(ir.KAddCImm)
	case ppc.OpAddicRc:
		emit(ir.KAddCImm)
		ops = append(ops, ir.Op{Kind: ir.KUpdCR0, PC: pc, RD: ins.D})
	case ppc.OpSubfic:
		emit(ir.KSubfImm)
	case ppc.OpMulli:
		emit(ir.KMullwImm)
	case ppc.OpAdd:
		emit(ir.KAdd)
		rc()
	case ppc.OpAddc:
		emit(ir.KAddC)
		rc()
	case ppc.OpAdde:
		emit(ir.KAddE)
		rc()
	case ppc.OpAddme:
		emit(ir.KAddME)
		rc()
	case ppc.OpAddze:
		emit(ir.KAddZE)
		rc()
	case ppc.OpSubf:
		emit(ir.KSubf)
		rc()
	case ppc.OpSubfc:
		emit(ir.KSubfC)
		rc()
	case ppc.OpSubfe:
		emit(ir.KSubfE)
		rc()
	case ppc.OpSubfme:
		emit(ir.KSubfME)
		rc()
	case ppc.OpSubfze:
		emit(ir.KSubfZE)
		rc()
	case ppc.OpNeg:
		emit(ir.KNeg)
		rc()
	case ppc.OpMullw:
		emit(ir.KMullw)
		rc()
	case ppc.OpMulhw:
		emit(ir.KMulhw)
		rc()
	case ppc.OpMulhwu:
		emit(ir.KMulhwu)
		rc()
	case ppc.OpDivw:
		emit(ir.KDivw)
		rc()
	case ppc.OpDivwu:
		emit(ir.KDivwu)
		rc()

	case ppc.OpCmpi:
		emit(ir.KCmpSImm)
	case ppc.OpCmpli:
		emit(ir.KCmpUImm)
	case ppc.OpCmp:
		emit(ir.KCmpS)
	case ppc.OpCmpl:
		emit(ir.KCmpU)

	case ppc.OpAndiRc:
		emit(ir.KAndImm)
		ops = append(ops, ir.Op{Kind: ir.KUpdCR0, PC: pc, RD: ins.A})
	case ppc.OpAndisRc:
		op.Imm = uint32(ins.Imm) << 16
		emit(ir.KAndImm)
		ops = append(ops, ir.Op{Kind: ir.KUpdCR0, PC: pc, RD: ins.A})
	case ppc.OpOri:
		emit(ir.KOrImm)
	case ppc.OpOris:
		op.Imm = uint32(ins.Imm) << 16
		emit(ir.KOrImm)
	case ppc.OpXori:
		emit(ir.KXorImm)
	case ppc.OpXoris:
		op.Imm = uint32(ins.Imm) << 16
		emit(ir.KXorImm)
	case ppc.OpAnd:
		emit(ir.KAnd)
		rcRA(&ops, ins, pc)
	case ppc.OpAndc:
		emit(ir.KAndc)
		rcRA(&ops, ins, pc)
	case ppc.OpOr:
		emit(ir.KOr)
		rcRA(&ops, ins, pc)
	case ppc.OpOrc:
		emit(ir.KOrc)
		rcRA(&ops, ins, pc)
	case ppc.OpXor:
		emit(ir.KXor)
		rcRA(&ops, ins, pc)
	case ppc.OpNand:
		emit(ir.KNand)
		rcRA(&ops, ins, pc)
	case ppc.OpNor:
		emit(ir.KNor)
		rcRA(&ops, ins, pc)
	case ppc.OpEqv:
		emit(ir.KEqv)
		rcRA(&ops, ins, pc)
	case ppc.OpSlw:
		emit(ir.KSlw)
		rcRA(&ops, ins, pc)
	case ppc.OpSrw:
		emit(ir.KSrw)
		rcRA(&ops, ins, pc)
	case ppc.OpSraw:
		emit(ir.KSraw)
		rcRA(&ops, ins, pc)
	case ppc.OpSrawi:
		emit(ir.KSrawImm)
		rcRA(&ops, ins, pc)
	case ppc.OpExtsb:
		emit(ir.KExtsb)
		rcRA(&ops, ins, pc)
	case ppc.OpExtsh:
		emit(ir.KExtsh)
		rcRA(&ops, ins, pc)
	case ppc.OpCntlzw:
		emit(ir.KCntlzw)
		rcRA(&ops, ins, pc)
	case ppc.OpRlwinm:
		emit(ir.KRlwinm)
		rcRA(&ops, ins, pc)
	case ppc.OpRlwimi:
		emit(ir.KRlwimi)
		rcRA(&ops, ins, pc)
	case ppc.OpRlwnm:
		emit(ir.KRlwnm)
		rcRA(&ops, ins, pc)

	case ppc.OpCrand:
		crop(&op, ir.CrAnd, &ops)
	case ppc.OpCrandc:
		crop(&op, ir.CrAndc, &ops)
	case ppc.OpCreqv:
		crop(&op, ir.CrEqv, &ops)
	case ppc.OpCrnand:
		crop(&op, ir.CrNand, &ops)
	case ppc.OpCrnor:
		crop(&op, ir.CrNor, &ops)
	case ppc.OpCror:
		crop(&op, ir.CrOr, &ops)
	case ppc.OpCrorc:
		crop(&op, ir.CrOrc, &ops)
	case ppc.OpCrxor:
		crop(&op, ir.CrXor, &ops)
	case ppc.OpMcrf:
		op.RA = ins.A >> 2
		emit(ir.KMcrf)
	case ppc.OpMfcr:
		emit(ir.KMfcr)
	case ppc.OpMtcrf:
		op.Imm = uint32(ins.CRM)
		emit(ir.KMtcrf)

	case ppc.OpMfspr:
		switch ins.SPR {
		case ppc.SprLR, ppc.SprCTR, ppc.SprXER:
			op.Imm = uint32(ins.SPR)
			emit(ir.KMfspr)
		default:
			return nil, false
		}
	case ppc.OpMtspr:
		switch ins.SPR {
		case ppc.SprLR, ppc.SprCTR, ppc.SprXER:
			op.Imm = uint32(ins.SPR)
			emit(ir.KMtspr)
		default:
			return nil, false
		}

	case ppc.OpB:
		target := uint32(ins.Imm)
		if !ins.AA {
			target += pc
		}
		op.Imm = target
		op.SetLR = ins.LK
		emit(ir.KBranch)
	case ppc.OpBc:
		target := uint32(ins.Imm)
		if !ins.AA {
			target += pc
		}
		op.Imm = target
		op.Imm2 = pc + 4
		op.SetLR = ins.LK
		emit(ir.KBranchCond)
	case ppc.OpBclr:
		op.Imm2 = pc + 4
		op.SetLR = ins.LK
		emit(ir.KBranchLR)
	case ppc.OpBcctr:
		if ins.BO&4 == 0 {
			// decrementing CTR while branching through it is invalid
			return nil, false
		}
		op.Imm2 = pc + 4
		op.SetLR = ins.LK
		emit(ir.KBranchCTR)
	case ppc.OpSc:
		op.Imm = pc + 4
		emit(ir.KSyscall)
	case ppc.OpRfi:
		emit(ir.KRfi)

	case ppc.OpLbz, ppc.OpLbzu, ppc.OpLbzx, ppc.OpLbzux:
		loadStore(&op, ins, 1, false, false, ir.KLoad, &ops)
	case ppc.OpLhz, ppc.OpLhzu, ppc.OpLhzx, ppc.OpLhzux:
		loadStore(&op, ins, 2, false, false, ir.KLoad, &ops)
	case ppc.OpLha, ppc.OpLhau, ppc.OpLhax, ppc.OpLhaux:
		loadStore(&op, ins, 2, true, false, ir.KLoad, &ops)
	case ppc.OpLwz, ppc.OpLwzu, ppc.OpLwzx, ppc.OpLwzux:
		loadStore(&op, ins, 4, false, false, ir.KLoad, &ops)
	case ppc.OpStb, ppc.OpStbu, ppc.OpStbx, ppc.OpStbux:
		loadStore(&op, ins, 1, false, false, ir.KStore, &ops)
	case ppc.OpSth, ppc.OpSthu, ppc.OpSthx, ppc.OpSthux:
		loadStore(&op, ins, 2, false, false, ir.KStore, &ops)
	case ppc.OpStw, ppc.OpStwu, ppc.OpStwx, ppc.OpStwux:
		loadStore(&op, ins, 4, false, false, ir.KStore, &ops)
	case ppc.OpLwbrx:
		loadStore(&op, ins, 4, false, true, ir.KLoad, &ops)
	case ppc.OpLhbrx:
		loadStore(&op, ins, 2, false, true, ir.KLoad, &ops)
	case ppc.OpStwbrx:
		loadStore(&op, ins, 4, false, true, ir.KStore, &ops)
	case ppc.OpSthbrx:
		loadStore(&op, ins, 2, false, true, ir.KStore, &ops)
	case ppc.OpLmw:
		emit(ir.KLmw)
	case ppc.OpStmw:
		emit(ir.KStmw)
	case ppc.OpDcbz:
		op.RA = eaBase(ins.A)
		emit(ir.KDcbz)
	case ppc.OpLfs, ppc.OpLfsu, ppc.OpLfsx, ppc.OpLfsux:
		loadStore(&op, ins, 4, false, false, ir.KLoadFS, &ops)
	case ppc.OpLfd, ppc.OpLfdu, ppc.OpLfdx, ppc.OpLfdux:
		loadStore(&op, ins, 8, false, false, ir.KLoadFD, &ops)
	case ppc.OpStfs, ppc.OpStfsu, ppc.OpStfsx, ppc.OpStfsux:
		loadStore(&op, ins, 4, false, false, ir.KStoreFS, &ops)
	case ppc.OpStfd, ppc.OpStfdu, ppc.OpStfdx, ppc.OpStfdux:
		loadStore(&op, ins, 8, false, false, ir.KStoreFD, &ops)

	case ppc.OpFadd, ppc.OpFadds:
		fp(&op, ins, ir.KFAdd, ins.Op == ppc.OpFadds, &ops)
	case ppc.OpFsub, ppc.OpFsubs:
		fp(&op, ins, ir.KFSub, ins.Op == ppc.OpFsubs, &ops)
	case ppc.OpFmul, ppc.OpFmuls:
		fp(&op, ins, ir.KFMul, ins.Op == ppc.OpFmuls, &ops)
	case ppc.OpFdiv, ppc.OpFdivs:
		fp(&op, ins, ir.KFDiv, ins.Op == ppc.OpFdivs, &ops)
	case ppc.OpFmadd, ppc.OpFmadds:
		fp(&op, ins, ir.KFMadd, ins.Op == ppc.OpFmadds, &ops)
	case ppc.OpFmsub, ppc.OpFmsubs:
		fp(&op, ins, ir.KFMsub, ins.Op == ppc.OpFmsubs, &ops)
	case ppc.OpFnmadd, ppc.OpFnmadds:
		fp(&op, ins, ir.KFNmadd, ins.Op == ppc.OpFnmadds, &ops)
	case ppc.OpFnmsub, ppc.OpFnmsubs:
		fp(&op, ins, ir.KFNmsub, ins.Op == ppc.OpFnmsubs, &ops)
	case ppc.OpFmr:
		fp(&op, ins, ir.KFMr, false, &ops)
	case ppc.OpFneg:
		fp(&op, ins, ir.KFNeg, false, &ops)
	case ppc.OpFabs:
		fp(&op, ins, ir.KFAbs, false, &ops)
	case ppc.OpFnabs:
		fp(&op, ins, ir.KFNabs, false, &ops)
	case ppc.OpFrsp:
		fp(&op, ins, ir.KFRsp, false, &ops)
	case ppc.OpFctiwz:
		fp(&op, ins, ir.KFCtiwz, false, &ops)
	case ppc.OpFcmpu:
		emit(ir.KFCmpu)

	case ppc.OpSync, ppc.OpIsync:
		// context-synchronizing: terminal no-op, unit ends here
		op.Imm = pc + 4
		emit(ir.KEnd)
	case ppc.OpEieio, ppc.OpIcbi, ppc.OpDcbSomething:
		emit(ir.KNop)

	default:
		// OpIllegal, privileged state (mfmsr/mtmsr), reservations
		// (lwarx/stwcx.), FPSCR ops (mffs/mtfsf), fcmpo: interpreter
		// territory
		return nil, false
	}
	if ops == nil {
		return nil, false
	}
	return ops, true
}

// rcRA appends the CR0 update for ops whose record form compares rA (the
// logical and shift group writes rA, not rD).
func rcRA(ops *[]ir.Op, ins ppc.Ins, pc uint32) {
	if ins.Rc {
		*ops = append(*ops, ir.Op{Kind: ir.KUpdCR0, PC: pc, RD: ins.A})
	}
}

func crop(op *ir.Op, sub int, ops *[]ir.Op) {
	op.Kind = ir.KCrOp
	op.Imm = uint32(sub)
	*ops = append(*ops, *op)
}

func eaBase(a int) int {
	if a == 0 {
		return -1
	}
	return a
}

// loadStore fills the access form: D-form when the opcode carries an
// immediate, X-form (indexed) otherwise; update forms write the EA back.
func loadStore(op *ir.Op, ins ppc.Ins, size int, signed, rev bool, k ir.Kind, ops *[]ir.Op) {
	op.Size = size
	op.Signed = signed
	op.Rev = rev
	op.Update = isUpdate(ins.Op)
	if indexed(ins.Op) {
		op.Imm = 0
	} else {
		op.RB = -1
	}
	if !op.Update && ins.A == 0 {
		op.RA = -1
	}
	op.Kind = k
	*ops = append(*ops, *op)
}

func isUpdate(o ppc.Opcode) bool {
	switch o {
	case ppc.OpLbzu, ppc.OpLbzux, ppc.OpLhzu, ppc.OpLhzux, ppc.OpLhau, ppc.OpLhaux,
		ppc.OpLwzu, ppc.OpLwzux, ppc.OpStbu, ppc.OpStbux, ppc.OpSthu, ppc.OpSthux,
		ppc.OpStwu, ppc.OpStwux, ppc.OpLfsu, ppc.OpLfsux, ppc.OpLfdu, ppc.OpLfdux,
		ppc.OpStfsu, ppc.OpStfsux, ppc.OpStfdu, ppc.OpStfdux:
		return true
	}
	return false
}

func indexed(o ppc.Opcode) bool {
	switch o {
	case ppc.OpLbzx, ppc.OpLbzux, ppc.OpLhzx, ppc.OpLhzux, ppc.OpLhax, ppc.OpLhaux,
		ppc.OpLwzx, ppc.OpLwzux, ppc.OpStbx, ppc.OpStbux, ppc.OpSthx, ppc.OpSthux,
		ppc.OpStwx, ppc.OpStwux, ppc.OpLwbrx, ppc.OpLhbrx, ppc.OpStwbrx, ppc.OpSthbrx,
		ppc.OpLfsx, ppc.OpLfsux, ppc.OpLfdx, ppc.OpLfdux,
		ppc.OpStfsx, ppc.OpStfsux, ppc.OpStfdx, ppc.OpStfdux:
		return true
	}
	return false
}

// fp emits a floating-point op; record forms (copying FPSCR exception bits to
// CR1) go to the interpreter, as does anything else touching FPSCR directly.
func fp(op *ir.Op, ins ppc.Ins, k ir.Kind, single bool, ops *[]ir.Op) {
	if ins.Rc {
		*ops = nil
		return
	}
	op.Kind = k
	op.Single = single
	*ops = append(*ops, *op)
}
