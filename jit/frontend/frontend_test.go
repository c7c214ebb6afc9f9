package frontend

import (
	"testing"

	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
)

const base = 0x80003000

func newBus(t *testing.T, words ...uint32) *mem.Bus {
	t.Helper()
	bus := mem.NewBus()
	if err := bus.Map(base, 0x1000, "text"); err != nil {
		t.Fatal(err)
	}
	for i, w := range words {
		if err := bus.WriteUint(base+uint32(i)*4, 4, uint64(w)); err != nil {
			t.Fatal(err)
		}
	}
	return bus
}

func opI(op, d, a uint32, imm uint16) uint32 {
	return op<<26 | d<<21 | a<<16 | uint32(imm)
}

func TestUnitEndsAtBranch(t *testing.T) {
	bus := newBus(t,
		opI(14, 3, 0, 7),  // li r3, 7
		opI(14, 4, 3, 1),  // addi r4, r3, 1
		18<<26|0x20,       // b +0x20
		opI(14, 5, 0, 99), // unreachable
	)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seq.NumIns != 3 {
		t.Errorf("unit covers %d instructions, want 3", seq.NumIns)
	}
	last := seq.Ops[len(seq.Ops)-1]
	if last.Kind != ir.KBranch || last.Imm != base+8+0x20 {
		t.Errorf("terminal %v target %#x", last.Kind, last.Imm)
	}
	if len(seq.Exits) != 1 || seq.Exits[0].Kind != ir.ExitBranch || seq.Exits[0].Target != base+8+0x20 {
		t.Errorf("exits = %+v", seq.Exits)
	}
}

func TestConditionalBranchHasTwoExits(t *testing.T) {
	bus := newBus(t,
		opI(11, 0, 3, 0),      // cmpwi r3, 0
		16<<26|12<<21|2<<16|8, // beq +8
	)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq.Exits) != 2 {
		t.Fatalf("exits = %+v", seq.Exits)
	}
	if seq.Exits[0].Kind != ir.ExitBranch || seq.Exits[0].Target != base+4+8 {
		t.Errorf("taken exit = %+v", seq.Exits[0])
	}
	if seq.Exits[1].Kind != ir.ExitFallthrough || seq.Exits[1].Target != base+8 {
		t.Errorf("fallthrough exit = %+v", seq.Exits[1])
	}
}

func TestMaxInsBoundary(t *testing.T) {
	words := make([]uint32, 8)
	for i := range words {
		words[i] = opI(14, 3, 3, 1) // addi r3, r3, 1
	}
	bus := newBus(t, words...)
	seq, err := New(Config{MaxIns: 4}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seq.NumIns != 4 {
		t.Errorf("unit covers %d instructions, want 4", seq.NumIns)
	}
	last := seq.Ops[len(seq.Ops)-1]
	if last.Kind != ir.KEnd || last.Imm != base+16 {
		t.Errorf("terminal %v next %#x", last.Kind, last.Imm)
	}
}

func TestBreakpointForcesBoundary(t *testing.T) {
	bus := newBus(t,
		opI(14, 3, 3, 1),
		opI(14, 3, 3, 1),
		opI(14, 3, 3, 1),
		18<<26|4, // b
	)
	bp := uint32(base + 8)
	seq, err := New(Config{}).Build(bus, base, func(a uint32) bool { return a == bp })
	if err != nil {
		t.Fatal(err)
	}
	if seq.NumIns != 2 {
		t.Errorf("unit covers %d instructions, want a split before the breakpoint", seq.NumIns)
	}
	if seq.Exits[0].Kind != ir.ExitFallthrough || seq.Exits[0].Target != bp {
		t.Errorf("exit = %+v", seq.Exits[0])
	}
}

func TestUnsupportedFirstInstructionFallsBack(t *testing.T) {
	// mfmsr runs on the interpreter only
	bus := newBus(t, 31<<26|3<<21|83<<1)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(seq.Ops) != 1 || seq.Ops[0].Kind != ir.KFallback {
		t.Fatalf("ops = %+v", seq.Ops)
	}
	if len(seq.Exits) != 1 || seq.Exits[0].Kind != ir.ExitFallback || seq.Exits[0].Target != base {
		t.Errorf("exits = %+v", seq.Exits)
	}
}

func TestUnsupportedMidUnitEndsBefore(t *testing.T) {
	bus := newBus(t,
		opI(14, 3, 0, 7),
		31<<26|3<<21|83<<1, // mfmsr
	)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seq.NumIns != 1 {
		t.Errorf("unit covers %d instructions, want 1", seq.NumIns)
	}
	if seq.Exits[0].Kind != ir.ExitFallthrough || seq.Exits[0].Target != base+4 {
		t.Errorf("exit = %+v", seq.Exits[0])
	}
}

func TestFetchFaultAtStart(t *testing.T) {
	bus := mem.NewBus()
	_, err := New(Config{}).Build(bus, 0xdead0000, nil)
	fe, ok := err.(*FetchError)
	if !ok || fe.Addr != 0xdead0000 {
		t.Errorf("err = %v", err)
	}
}

func TestMemoryOpDeclaresExceptionExit(t *testing.T) {
	bus := newBus(t,
		opI(32, 5, 3, 0), // lwz r5, 0(r3)
		18<<26|4,
	)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, x := range seq.Exits {
		if x.Kind == ir.ExitException {
			found = true
		}
	}
	if !found {
		t.Errorf("exits %+v lack the fault exit", seq.Exits)
	}
}

func TestLoadImmediateWithRZero(t *testing.T) {
	bus := newBus(t, opI(14, 3, 0, 42), 18<<26|4)
	seq, err := New(Config{}).Build(bus, base, nil)
	if err != nil {
		t.Fatal(err)
	}
	if seq.Ops[0].Kind != ir.KLoadImm || seq.Ops[0].Imm != 42 {
		t.Errorf("addi with rA=0 lowered to %+v", seq.Ops[0])
	}
}
