package threaded

import (
	"math"
	"testing"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/frontend"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
)

const base = 0x80003000

func compile(t *testing.T, bus *mem.Bus, start uint32) *backend.Code {
	t.Helper()
	seq, err := frontend.New(frontend.Config{}).Build(bus, start, nil)
	if err != nil {
		t.Fatal(err)
	}
	ir.EliminateDeadFlags(seq)
	code, err := New().Lower(seq)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func newBus(t *testing.T, words ...uint32) *mem.Bus {
	t.Helper()
	bus := mem.NewBus()
	if err := bus.Map(base, 0x1000, "ram"); err != nil {
		t.Fatal(err)
	}
	for i, w := range words {
		if err := bus.WriteUint(base+uint32(i)*4, 4, uint64(w)); err != nil {
			t.Fatal(err)
		}
	}
	return bus
}

func run(t *testing.T, bus *mem.Bus, st *arch.State) backend.Exit {
	t.Helper()
	code := compile(t, bus, st.PC)
	return code.Run(&backend.Env{State: st, Bus: bus})
}

func TestCarryChain(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|0xffff,      // li r3, -1
		12<<26|4<<21|3<<16|1,     // addic r4, r3, 1
		31<<26|5<<21|6<<16|202<<1, // addze r5, r6
		18<<26|12,                // b
	)
	st := &arch.State{PC: base}
	st.GPR[6] = 41
	run(t, bus, st)
	if st.GPR[3] != 0xffffffff || st.GPR[4] != 0 {
		t.Errorf("r3=%#x r4=%#x", st.GPR[3], st.GPR[4])
	}
	if st.GPR[5] != 42 {
		t.Errorf("addze must consume the carry: r5=%d", st.GPR[5])
	}
	if st.CA() {
		t.Error("addze of a small value clears carry")
	}
}

func TestBranchAndLinkCommitsLR(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|1, // li r3, 1
		18<<26|0x40|1,  // bl +0x40
	)
	st := &arch.State{PC: base}
	exit := run(t, bus, st)
	if exit.Kind != ir.ExitBranch || st.PC != base+4+0x40 {
		t.Errorf("exit %v pc %#x", exit.Kind, st.PC)
	}
	if st.LR != base+8 {
		t.Errorf("lr = %#x, want the return address", st.LR)
	}
}

func TestStoreFaultIsPrecise(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|7,       // li r3, 7
		14<<26|4<<21|0x100,   // li r4, 0x100 (unmapped)
		36<<26|3<<21|4<<16|0, // stw r3, 0(r4)
	)
	st := &arch.State{PC: base}
	exit := run(t, bus, st)
	if exit.Kind != ir.ExitException || exit.Cause != arch.ExcDSI {
		t.Fatalf("exit = %+v", exit)
	}
	if st.PC != base+8 {
		t.Errorf("pc = %#x, want the faulting store", st.PC)
	}
	if st.GPR[3] != 7 || st.GPR[4] != 0x100 {
		t.Error("effects before the fault must be committed")
	}
}

func TestLoadUpdateWritesBack(t *testing.T) {
	bus := newBus(t,
		33<<26|5<<21|4<<16|4, // lwzu r5, 4(r4)
		18<<26|4,
	)
	bus.WriteUint(base+0x104, 4, 0xdeadbeef)
	st := &arch.State{PC: base}
	st.GPR[4] = base + 0x100
	run(t, bus, st)
	if st.GPR[5] != 0xdeadbeef {
		t.Errorf("r5 = %#x", st.GPR[5])
	}
	if st.GPR[4] != base+0x104 {
		t.Errorf("update form must write the EA back: r4 = %#x", st.GPR[4])
	}
}

func TestConditionalFallthrough(t *testing.T) {
	bus := newBus(t,
		11<<26|3<<16|5,        // cmpwi r3, 5
		16<<26|12<<21|2<<16|8, // beq +8
	)
	st := &arch.State{PC: base}
	st.GPR[3] = 4
	exit := run(t, bus, st)
	if exit.Kind != ir.ExitFallthrough || st.PC != base+8 {
		t.Errorf("exit %v pc %#x", exit.Kind, st.PC)
	}

	st = &arch.State{PC: base}
	st.GPR[3] = 5
	exit = run(t, bus, st)
	if exit.Kind != ir.ExitBranch || st.PC != base+4+8 {
		t.Errorf("taken: exit %v pc %#x", exit.Kind, st.PC)
	}
}

func TestSyscallExit(t *testing.T) {
	bus := newBus(t, 17<<26|2)
	st := &arch.State{PC: base}
	exit := run(t, bus, st)
	if exit.Kind != ir.ExitException || exit.Cause != arch.ExcSyscall {
		t.Fatalf("exit = %+v", exit)
	}
	if st.PC != base+4 {
		t.Errorf("syscall resumes after the instruction: pc = %#x", st.PC)
	}
}

func TestFctiwzBitPattern(t *testing.T) {
	bus := newBus(t,
		50<<26|1<<21|3<<16|0x100,  // lfd f1, 0x100(r3)
		63<<26|2<<21|1<<11|15<<1,  // fctiwz f2, f1
		54<<26|2<<21|3<<16|0x108,  // stfd f2, 0x108(r3)
		18<<26|12,
	)
	bus.WriteF64(base+0x100, -3.75)
	st := &arch.State{PC: base}
	st.GPR[3] = base
	run(t, bus, st)
	v, err := bus.ReadUint(base+0x108, 8)
	if err != nil {
		t.Fatal(err)
	}
	neg3 := int32(-3)
	if v != 0xfff8000000000000|uint64(uint32(neg3)) {
		t.Errorf("fctiwz stored %#x", v)
	}
}

func TestNonDefaultRoundingFallsBack(t *testing.T) {
	bus := newBus(t,
		63<<26|1<<21|2<<16|3<<11|21<<1, // fadd f1, f2, f3
	)
	st := &arch.State{PC: base, FPSCR: 1} // round toward zero
	st.FPR[2], st.FPR[3] = 1, 2
	exit := run(t, bus, st)
	if exit.Kind != ir.ExitFallback || st.PC != base {
		t.Errorf("exit %v pc %#x, want interpreter fallback at the op", exit.Kind, st.PC)
	}
	if st.FPR[1] != 0 {
		t.Error("the guarded op must not commit a result")
	}
}

func TestFloatCompareUnordered(t *testing.T) {
	bus := newBus(t,
		63<<26|2<<23|1<<16|2<<11, // fcmpu cr2, f1, f2
		18<<26|4,
	)
	st := &arch.State{PC: base}
	st.FPR[1] = math.NaN()
	st.FPR[2] = 1
	run(t, bus, st)
	if got := st.CR >> 20 & 0xf; got != 1 {
		t.Errorf("cr2 = %x, want FU for a NaN operand", got)
	}
	if got := st.FPSCR >> 12 & 0xf; got != 1 {
		t.Errorf("fpscr fpcc = %x, want the compare result mirrored", got)
	}
}
