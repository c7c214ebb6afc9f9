// Package threaded is the portable code-generation backend: IR ops are
// lowered to a flat list of step functions executed by a tight loop. Units
// are straight-line, so a step either continues to the next or produces the
// unit's exit.
package threaded

import (
	"math"

	"github.com/pkg/errors"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/ppc"
)

type step func(*backend.Env) *backend.Exit

type Backend struct{}

func New() *Backend {
	return &Backend{}
}

// Lower compiles the sequence. A nil return from a step means fall through to
// the next; the terminal op always returns an exit, so the runner cannot walk
// off the end.
func (b *Backend) Lower(seq *ir.Sequence) (*backend.Code, error) {
	steps := make([]step, 0, len(seq.Ops))
	for i := range seq.Ops {
		s, err := lower(&seq.Ops[i])
		if err != nil {
			return nil, err
		}
		if s != nil {
			steps = append(steps, s)
		}
	}
	if len(steps) == 0 {
		return nil, errors.New("empty unit")
	}

	entry := func(env *backend.Env) backend.Exit {
		for _, s := range steps {
			if x := s(env); x != nil {
				return *x
			}
		}
		// unreachable: sequences are terminated by construction
		return backend.Exit{Kind: ir.ExitFallthrough, Addr: env.State.PC}
	}
	return backend.NewCode(entry, seq.Exits, len(steps)), nil
}

// fault converts a bus error into the precise-exception exit: PC points at
// the faulting instruction and all prior effects are already committed.
func fault(env *backend.Env, pc uint32) *backend.Exit {
	env.State.PC = pc
	return &backend.Exit{Kind: ir.ExitException, Addr: pc, Cause: arch.ExcDSI}
}

// fpGuard bails to the interpreter when the guest runs with a non-default
// rounding mode; the threaded lowering only reproduces round-to-nearest
// losslessly. The interpreter currently rounds to nearest too, so the bail
// keeps the two paths identical rather than buying directed rounding.
func fpGuard(env *backend.Env, pc uint32) *backend.Exit {
	if env.State.FPSCR&3 != 0 {
		env.State.PC = pc
		return &backend.Exit{Kind: ir.ExitFallback, Addr: pc}
	}
	return nil
}

func lower(op *ir.Op) (step, error) {
	o := *op // capture by value

	switch o.Kind {
	case ir.KNop:
		return nil, nil

	case ir.KLoadImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = o.Imm
			return nil
		}, nil
	case ir.KAddImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.GPR[o.RA] + o.Imm
			return nil
		}, nil
	case ir.KAdd:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.GPR[o.RA] + e.State.GPR[o.RB]
			return nil
		}, nil
	case ir.KAddC:
		return func(e *backend.Env) *backend.Exit {
			a, b := e.State.GPR[o.RA], e.State.GPR[o.RB]
			e.State.GPR[o.RD] = a + b
			e.State.SetCA(ppc.CarryAdd(a, b))
			return nil
		}, nil
	case ir.KAddCImm:
		return func(e *backend.Env) *backend.Exit {
			a := e.State.GPR[o.RA]
			e.State.GPR[o.RD] = a + o.Imm
			e.State.SetCA(ppc.CarryAdd(a, o.Imm))
			return nil
		}, nil
	case ir.KAddE:
		return func(e *backend.Env) *backend.Exit {
			a, b, ca := e.State.GPR[o.RA], e.State.GPR[o.RB], carry(e.State)
			e.State.GPR[o.RD] = a + b + ca
			e.State.SetCA(ppc.CarryAdd3(a, b, ca))
			return nil
		}, nil
	case ir.KAddME:
		return func(e *backend.Env) *backend.Exit {
			a, ca := e.State.GPR[o.RA], carry(e.State)
			e.State.GPR[o.RD] = a + 0xffffffff + ca
			e.State.SetCA(ppc.CarryAdd3(a, 0xffffffff, ca))
			return nil
		}, nil
	case ir.KAddZE:
		return func(e *backend.Env) *backend.Exit {
			a, ca := e.State.GPR[o.RA], carry(e.State)
			e.State.GPR[o.RD] = a + ca
			e.State.SetCA(ppc.CarryAdd(a, ca))
			return nil
		}, nil
	case ir.KSubf:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.GPR[o.RB] - e.State.GPR[o.RA]
			return nil
		}, nil
	case ir.KSubfC:
		return func(e *backend.Env) *backend.Exit {
			a, b := e.State.GPR[o.RA], e.State.GPR[o.RB]
			e.State.GPR[o.RD] = b - a
			e.State.SetCA(ppc.CarryAdd3(^a, b, 1))
			return nil
		}, nil
	case ir.KSubfImm:
		return func(e *backend.Env) *backend.Exit {
			a := e.State.GPR[o.RA]
			e.State.GPR[o.RD] = o.Imm - a
			e.State.SetCA(ppc.CarryAdd3(^a, o.Imm, 1))
			return nil
		}, nil
	case ir.KSubfE:
		return func(e *backend.Env) *backend.Exit {
			a, b, ca := e.State.GPR[o.RA], e.State.GPR[o.RB], carry(e.State)
			e.State.GPR[o.RD] = ^a + b + ca
			e.State.SetCA(ppc.CarryAdd3(^a, b, ca))
			return nil
		}, nil
	case ir.KSubfME:
		return func(e *backend.Env) *backend.Exit {
			a, ca := e.State.GPR[o.RA], carry(e.State)
			e.State.GPR[o.RD] = ^a + 0xffffffff + ca
			e.State.SetCA(ppc.CarryAdd3(^a, 0xffffffff, ca))
			return nil
		}, nil
	case ir.KSubfZE:
		return func(e *backend.Env) *backend.Exit {
			a, ca := e.State.GPR[o.RA], carry(e.State)
			e.State.GPR[o.RD] = ^a + ca
			e.State.SetCA(ppc.CarryAdd(^a, ca))
			return nil
		}, nil
	case ir.KNeg:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = -e.State.GPR[o.RA]
			return nil
		}, nil
	case ir.KMullw:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.GPR[o.RA] * e.State.GPR[o.RB]
			return nil
		}, nil
	case ir.KMullwImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.GPR[o.RA] * o.Imm
			return nil
		}, nil
	case ir.KMulhw:
		return func(e *backend.Env) *backend.Exit {
			p := int64(int32(e.State.GPR[o.RA])) * int64(int32(e.State.GPR[o.RB]))
			e.State.GPR[o.RD] = uint32(uint64(p) >> 32)
			return nil
		}, nil
	case ir.KMulhwu:
		return func(e *backend.Env) *backend.Exit {
			p := uint64(e.State.GPR[o.RA]) * uint64(e.State.GPR[o.RB])
			e.State.GPR[o.RD] = uint32(p >> 32)
			return nil
		}, nil
	case ir.KDivw:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = ppc.Divw(e.State.GPR[o.RA], e.State.GPR[o.RB])
			return nil
		}, nil
	case ir.KDivwu:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = ppc.Divwu(e.State.GPR[o.RA], e.State.GPR[o.RB])
			return nil
		}, nil

	case ir.KAnd:
		return logical(o, func(a, b uint32) uint32 { return a & b }), nil
	case ir.KAndc:
		return logical(o, func(a, b uint32) uint32 { return a &^ b }), nil
	case ir.KOr:
		return logical(o, func(a, b uint32) uint32 { return a | b }), nil
	case ir.KOrc:
		return logical(o, func(a, b uint32) uint32 { return a | ^b }), nil
	case ir.KXor:
		return logical(o, func(a, b uint32) uint32 { return a ^ b }), nil
	case ir.KNand:
		return logical(o, func(a, b uint32) uint32 { return ^(a & b) }), nil
	case ir.KNor:
		return logical(o, func(a, b uint32) uint32 { return ^(a | b) }), nil
	case ir.KEqv:
		return logical(o, func(a, b uint32) uint32 { return ^(a ^ b) }), nil
	case ir.KAndImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = e.State.GPR[o.RD] & o.Imm
			return nil
		}, nil
	case ir.KOrImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = e.State.GPR[o.RD] | o.Imm
			return nil
		}, nil
	case ir.KXorImm:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = e.State.GPR[o.RD] ^ o.Imm
			return nil
		}, nil
	case ir.KSlw:
		return logical(o, func(a, b uint32) uint32 {
			if b&63 > 31 {
				return 0
			}
			return a << (b & 63)
		}), nil
	case ir.KSrw:
		return logical(o, func(a, b uint32) uint32 {
			if b&63 > 31 {
				return 0
			}
			return a >> (b & 63)
		}), nil
	case ir.KSraw:
		return func(e *backend.Env) *backend.Exit {
			res, ca := ppc.Sraw(e.State.GPR[o.RD], e.State.GPR[o.RB]&63)
			e.State.GPR[o.RA] = res
			e.State.SetCA(ca)
			return nil
		}, nil
	case ir.KSrawImm:
		return func(e *backend.Env) *backend.Exit {
			res, ca := ppc.Sraw(e.State.GPR[o.RD], uint32(o.SH))
			e.State.GPR[o.RA] = res
			e.State.SetCA(ca)
			return nil
		}, nil
	case ir.KExtsb:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = uint32(int32(int8(e.State.GPR[o.RD])))
			return nil
		}, nil
	case ir.KExtsh:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = uint32(int32(int16(e.State.GPR[o.RD])))
			return nil
		}, nil
	case ir.KCntlzw:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = ppc.Cntlzw(e.State.GPR[o.RD])
			return nil
		}, nil
	case ir.KRlwinm:
		mask := ppc.RotMask(uint32(o.MB), uint32(o.ME))
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RA] = ppc.Rotl32(e.State.GPR[o.RD], uint32(o.SH)) & mask
			return nil
		}, nil
	case ir.KRlwimi:
		mask := ppc.RotMask(uint32(o.MB), uint32(o.ME))
		return func(e *backend.Env) *backend.Exit {
			r := ppc.Rotl32(e.State.GPR[o.RD], uint32(o.SH))
			e.State.GPR[o.RA] = e.State.GPR[o.RA]&^mask | r&mask
			return nil
		}, nil
	case ir.KRlwnm:
		mask := ppc.RotMask(uint32(o.MB), uint32(o.ME))
		return func(e *backend.Env) *backend.Exit {
			r := ppc.Rotl32(e.State.GPR[o.RD], e.State.GPR[o.RB]&31)
			e.State.GPR[o.RA] = r & mask
			return nil
		}, nil

	case ir.KUpdCR0:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, 0, ppc.CompareS(int32(s.GPR[o.RD]), 0, s.SO()))
			return nil
		}, nil
	case ir.KCmpS:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, o.CRF, ppc.CompareS(int32(s.GPR[o.RA]), int32(s.GPR[o.RB]), s.SO()))
			return nil
		}, nil
	case ir.KCmpSImm:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, o.CRF, ppc.CompareS(int32(s.GPR[o.RA]), int32(o.Imm), s.SO()))
			return nil
		}, nil
	case ir.KCmpU:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, o.CRF, ppc.CompareU(s.GPR[o.RA], s.GPR[o.RB], s.SO()))
			return nil
		}, nil
	case ir.KCmpUImm:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, o.CRF, ppc.CompareU(s.GPR[o.RA], o.Imm, s.SO()))
			return nil
		}, nil
	case ir.KCrOp:
		sub := int(o.Imm)
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			a := ppc.CRBit(s.CR, o.RA)
			b := ppc.CRBit(s.CR, o.RB)
			s.CR = ppc.SetCRBit(s.CR, o.RD, crEval(sub, a, b))
			return nil
		}, nil
	case ir.KMcrf:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			s.CR = ppc.SetCRF(s.CR, o.CRF, ppc.GetCRF(s.CR, o.RA))
			return nil
		}, nil
	case ir.KMfcr:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = e.State.CR
			return nil
		}, nil
	case ir.KMtcrf:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			for f := 0; f < 8; f++ {
				if o.Imm>>(7-f)&1 != 0 {
					s.CR = ppc.SetCRF(s.CR, f, ppc.GetCRF(s.GPR[o.RD], f))
				}
			}
			return nil
		}, nil

	case ir.KMfspr:
		return func(e *backend.Env) *backend.Exit {
			e.State.GPR[o.RD] = readSPR(e.State, int(o.Imm))
			return nil
		}, nil
	case ir.KMtspr:
		return func(e *backend.Env) *backend.Exit {
			writeSPR(e.State, int(o.Imm), e.State.GPR[o.RD])
			return nil
		}, nil

	case ir.KLoad:
		return lowerLoad(o), nil
	case ir.KStore:
		return lowerStore(o), nil
	case ir.KLoadFS:
		return func(e *backend.Env) *backend.Exit {
			ea := effectiveAddr(e.State, o)
			f, err := e.Bus.ReadF32(ea)
			if err != nil {
				return fault(e, o.PC)
			}
			e.State.FPR[o.RD] = float64(f)
			writeback(e.State, o, ea)
			return nil
		}, nil
	case ir.KLoadFD:
		return func(e *backend.Env) *backend.Exit {
			ea := effectiveAddr(e.State, o)
			f, err := e.Bus.ReadF64(ea)
			if err != nil {
				return fault(e, o.PC)
			}
			e.State.FPR[o.RD] = f
			writeback(e.State, o, ea)
			return nil
		}, nil
	case ir.KStoreFS:
		return func(e *backend.Env) *backend.Exit {
			ea := effectiveAddr(e.State, o)
			if err := e.Bus.WriteF32(ea, float32(e.State.FPR[o.RD])); err != nil {
				return fault(e, o.PC)
			}
			writeback(e.State, o, ea)
			return nil
		}, nil
	case ir.KStoreFD:
		return func(e *backend.Env) *backend.Exit {
			ea := effectiveAddr(e.State, o)
			if err := e.Bus.WriteF64(ea, e.State.FPR[o.RD]); err != nil {
				return fault(e, o.PC)
			}
			writeback(e.State, o, ea)
			return nil
		}, nil
	case ir.KLmw:
		return func(e *backend.Env) *backend.Exit {
			ea := o.Imm
			if o.RA != 0 {
				ea += e.State.GPR[o.RA]
			}
			for r := o.RD; r < 32; r++ {
				v, err := e.Bus.ReadUint(ea, 4)
				if err != nil {
					return fault(e, o.PC)
				}
				e.State.GPR[r] = uint32(v)
				ea += 4
			}
			return nil
		}, nil
	case ir.KStmw:
		return func(e *backend.Env) *backend.Exit {
			ea := o.Imm
			if o.RA != 0 {
				ea += e.State.GPR[o.RA]
			}
			for r := o.RD; r < 32; r++ {
				if err := e.Bus.WriteUint(ea, 4, uint64(e.State.GPR[r])); err != nil {
					return fault(e, o.PC)
				}
				ea += 4
			}
			return nil
		}, nil
	case ir.KDcbz:
		return func(e *backend.Env) *backend.Exit {
			ea := e.State.GPR[o.RB]
			if o.RA >= 0 {
				ea += e.State.GPR[o.RA]
			}
			ea &^= 31
			for i := uint32(0); i < 32; i += 8 {
				if err := e.Bus.WriteUint(ea+i, 8, 0); err != nil {
					return fault(e, o.PC)
				}
			}
			return nil
		}, nil

	case ir.KFAdd:
		return fpBinary(o, func(a, b float64) float64 { return a + b }), nil
	case ir.KFSub:
		return fpBinary(o, func(a, b float64) float64 { return a - b }), nil
	case ir.KFDiv:
		return fpBinary(o, func(a, b float64) float64 { return a / b }), nil
	case ir.KFMul:
		return func(e *backend.Env) *backend.Exit {
			if x := fpGuard(e, o.PC); x != nil {
				return x
			}
			res := e.State.FPR[o.RA] * e.State.FPR[o.RC]
			e.State.FPR[o.RD] = round(res, o.Single)
			return nil
		}, nil
	case ir.KFMadd, ir.KFMsub, ir.KFNmadd, ir.KFNmsub:
		kind := o.Kind
		return func(e *backend.Env) *backend.Exit {
			if x := fpGuard(e, o.PC); x != nil {
				return x
			}
			s := e.State
			res := ppc.FusedMadd(s.FPR[o.RA], s.FPR[o.RC], s.FPR[o.RB],
				kind == ir.KFMsub || kind == ir.KFNmsub,
				kind == ir.KFNmadd || kind == ir.KFNmsub)
			s.FPR[o.RD] = round(res, o.Single)
			return nil
		}, nil
	case ir.KFMr:
		return func(e *backend.Env) *backend.Exit {
			e.State.FPR[o.RD] = e.State.FPR[o.RB]
			return nil
		}, nil
	case ir.KFNeg:
		return func(e *backend.Env) *backend.Exit {
			e.State.FPR[o.RD] = negZeroSafe(e.State.FPR[o.RB])
			return nil
		}, nil
	case ir.KFAbs:
		return func(e *backend.Env) *backend.Exit {
			e.State.FPR[o.RD] = math.Abs(e.State.FPR[o.RB])
			return nil
		}, nil
	case ir.KFNabs:
		return func(e *backend.Env) *backend.Exit {
			e.State.FPR[o.RD] = negZeroSafe(math.Abs(e.State.FPR[o.RB]))
			return nil
		}, nil
	case ir.KFRsp:
		return func(e *backend.Env) *backend.Exit {
			if x := fpGuard(e, o.PC); x != nil {
				return x
			}
			e.State.FPR[o.RD] = float64(float32(e.State.FPR[o.RB]))
			return nil
		}, nil
	case ir.KFCmpu:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			c := ppc.FloatCompare(s.FPR[o.RA], s.FPR[o.RB])
			s.CR = ppc.SetCRF(s.CR, o.CRF, c)
			s.FPSCR = s.FPSCR&^(0xf<<12) | c<<12
			return nil
		}, nil
	case ir.KFCtiwz:
		return func(e *backend.Env) *backend.Exit {
			e.State.FPR[o.RD] = ppc.ConvertToIntWord(e.State.FPR[o.RB])
			return nil
		}, nil

	case ir.KBranch:
		return func(e *backend.Env) *backend.Exit {
			if o.SetLR {
				e.State.LR = o.PC + 4
			}
			e.State.PC = o.Imm
			return &backend.Exit{Kind: ir.ExitBranch, Addr: o.Imm}
		}, nil
	case ir.KBranchCond:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			ctr, taken := ppc.BranchTaken(o.BO, o.BI, s.CR, s.CTR)
			s.CTR = ctr
			if o.SetLR {
				s.LR = o.PC + 4
			}
			if taken {
				s.PC = o.Imm
				return &backend.Exit{Kind: ir.ExitBranch, Addr: o.Imm}
			}
			s.PC = o.Imm2
			return &backend.Exit{Kind: ir.ExitFallthrough, Addr: o.Imm2}
		}, nil
	case ir.KBranchLR:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			target := s.LR &^ 3
			ctr, taken := ppc.BranchTaken(o.BO, o.BI, s.CR, s.CTR)
			s.CTR = ctr
			if o.SetLR {
				s.LR = o.PC + 4
			}
			if taken {
				s.PC = target
				return &backend.Exit{Kind: ir.ExitBranch, Addr: target}
			}
			s.PC = o.Imm2
			return &backend.Exit{Kind: ir.ExitFallthrough, Addr: o.Imm2}
		}, nil
	case ir.KBranchCTR:
		return func(e *backend.Env) *backend.Exit {
			s := e.State
			target := s.CTR &^ 3
			_, taken := ppc.BranchTaken(o.BO, o.BI, s.CR, s.CTR)
			if o.SetLR {
				s.LR = o.PC + 4
			}
			if taken {
				s.PC = target
				return &backend.Exit{Kind: ir.ExitBranch, Addr: target}
			}
			s.PC = o.Imm2
			return &backend.Exit{Kind: ir.ExitFallthrough, Addr: o.Imm2}
		}, nil
	case ir.KSyscall:
		return func(e *backend.Env) *backend.Exit {
			e.State.PC = o.Imm
			return &backend.Exit{Kind: ir.ExitException, Addr: o.Imm, Cause: arch.ExcSyscall}
		}, nil
	case ir.KRfi:
		return func(e *backend.Env) *backend.Exit {
			e.State.Rfi()
			return &backend.Exit{Kind: ir.ExitBranch, Addr: e.State.PC}
		}, nil
	case ir.KFallback:
		return func(e *backend.Env) *backend.Exit {
			e.State.PC = o.Imm
			return &backend.Exit{Kind: ir.ExitFallback, Addr: o.Imm}
		}, nil
	case ir.KEnd:
		return func(e *backend.Env) *backend.Exit {
			e.State.PC = o.Imm
			return &backend.Exit{Kind: ir.ExitFallthrough, Addr: o.Imm}
		}, nil
	}
	return nil, errors.Errorf("cannot lower op kind %d", op.Kind)
}

func carry(s *arch.State) uint32 {
	if s.CA() {
		return 1
	}
	return 0
}

// logical covers the rS/rA register-form group: result goes to rA.
func logical(o ir.Op, f func(a, b uint32) uint32) step {
	return func(e *backend.Env) *backend.Exit {
		e.State.GPR[o.RA] = f(e.State.GPR[o.RD], e.State.GPR[o.RB])
		return nil
	}
}

func fpBinary(o ir.Op, f func(a, b float64) float64) step {
	return func(e *backend.Env) *backend.Exit {
		if x := fpGuard(e, o.PC); x != nil {
			return x
		}
		res := f(e.State.FPR[o.RA], e.State.FPR[o.RB])
		e.State.FPR[o.RD] = round(res, o.Single)
		return nil
	}
}

func round(v float64, single bool) float64 {
	if single {
		return float64(float32(v))
	}
	return v
}

func negZeroSafe(v float64) float64 {
	return math.Copysign(v, -math.Copysign(1, v))
}

func crEval(sub int, a, b uint32) uint32 {
	switch sub {
	case ir.CrAnd:
		return a & b
	case ir.CrAndc:
		return a &^ b
	case ir.CrEqv:
		return ^(a ^ b) & 1
	case ir.CrNand:
		return ^(a & b) & 1
	case ir.CrNor:
		return ^(a | b) & 1
	case ir.CrOr:
		return a | b
	case ir.CrOrc:
		return (a | ^b) & 1
	case ir.CrXor:
		return a ^ b
	}
	return 0
}

func readSPR(s *arch.State, spr int) uint32 {
	switch spr {
	case ppc.SprLR:
		return s.LR
	case ppc.SprCTR:
		return s.CTR
	case ppc.SprXER:
		return s.XER
	}
	return 0
}

func writeSPR(s *arch.State, spr int, v uint32) {
	switch spr {
	case ppc.SprLR:
		s.LR = v
	case ppc.SprCTR:
		s.CTR = v
	case ppc.SprXER:
		s.XER = v
	}
}

func effectiveAddr(s *arch.State, o ir.Op) uint32 {
	var ea uint32
	if o.RA >= 0 {
		ea = s.GPR[o.RA]
	}
	if o.RB >= 0 {
		ea += s.GPR[o.RB]
	} else {
		ea += o.Imm
	}
	return ea
}

func writeback(s *arch.State, o ir.Op, ea uint32) {
	if o.Update {
		s.GPR[o.RA] = ea
	}
}

func lowerLoad(o ir.Op) step {
	return func(e *backend.Env) *backend.Exit {
		ea := effectiveAddr(e.State, o)
		v, err := e.Bus.ReadUint(ea, o.Size)
		if err != nil {
			return fault(e, o.PC)
		}
		val := uint32(v)
		if o.Rev {
			val = byteRev(val, o.Size)
		}
		if o.Signed {
			switch o.Size {
			case 1:
				val = uint32(int32(int8(val)))
			case 2:
				val = uint32(int32(int16(val)))
			}
		}
		e.State.GPR[o.RD] = val
		writeback(e.State, o, ea)
		return nil
	}
}

func lowerStore(o ir.Op) step {
	return func(e *backend.Env) *backend.Exit {
		ea := effectiveAddr(e.State, o)
		val := e.State.GPR[o.RD]
		if o.Rev {
			val = byteRev(val, o.Size)
		}
		if err := e.Bus.WriteUint(ea, o.Size, uint64(val)); err != nil {
			return fault(e, o.PC)
		}
		writeback(e.State, o, ea)
		return nil
	}
}

func byteRev(v uint32, size int) uint32 {
	if size == 2 {
		return v>>8&0xff | v&0xff<<8
	}
	return v>>24 | v>>8&0xff00 | v<<8&0xff0000 | v<<24
}
