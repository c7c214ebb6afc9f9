package jit

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/backend/threaded"
	"github.com/flipper-emu/flipper/jit/frontend"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
)

const base = 0x80003000

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

func TestGetCompilesOnMiss(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|7, // li r3, 7
		18<<26|8,       // b +8
	)
	e := New(bus, threaded.New(), Config{})
	defer e.Close()

	u, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if u.Start != base || u.Length != 8 {
		t.Errorf("unit %#x+%d", u.Start, u.Length)
	}
	again, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if again != u {
		t.Error("second get should hit the cache")
	}
}

func TestGuestWriteInvalidates(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|7,
		18<<26|8,
	)
	e := New(bus, threaded.New(), Config{})
	defer e.Close()

	u, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	// the write path must invalidate before it completes
	if err := bus.WriteUint(base, 4, uint64(14<<26|3<<21|9)); err != nil {
		t.Fatal(err)
	}
	u2, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if u2 == u {
		t.Error("stale unit survived a guest write")
	}

	// recompilation over identical bytes is idempotent
	st := &arch.State{}
	env := &backend.Env{State: st, Bus: bus}
	u2.Code.Run(env)
	if st.GPR[3] != 9 {
		t.Errorf("recompiled unit sees r3=%d, want the new immediate", st.GPR[3])
	}
}

func TestFetchFaultSurfaces(t *testing.T) {
	bus := mem.NewBus()
	e := New(bus, threaded.New(), Config{})
	defer e.Close()
	_, err := e.Get(0xdead0000)
	if _, ok := err.(*frontend.FetchError); !ok {
		t.Errorf("err = %v, want a fetch fault", err)
	}
}

type refusingBackend struct{}

func (refusingBackend) Lower(seq *ir.Sequence) (*backend.Code, error) {
	if len(seq.Ops) == 1 && seq.Ops[0].Kind == ir.KFallback {
		return threaded.New().Lower(seq)
	}
	return nil, errors.New("no can do")
}

func TestCodegenFailureDegradesToFallback(t *testing.T) {
	bus := newBus(t, 14<<26|3<<21|7, 18<<26|8)
	e := New(bus, refusingBackend{}, Config{})
	defer e.Close()

	u, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	st := &arch.State{PC: base}
	exit := u.Code.Run(&backend.Env{State: st, Bus: bus})
	if exit.Kind != ir.ExitFallback || exit.Addr != base {
		t.Errorf("degraded unit exit = %+v", exit)
	}
}

func TestBoundaryPredicate(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|1,
		14<<26|3<<21|2,
		18<<26|8,
	)
	e := New(bus, threaded.New(), Config{})
	defer e.Close()
	e.SetBoundary(func(a uint32) bool { return a == base+4 })

	u, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if u.Length != 4 {
		t.Errorf("unit length %d, want a split at the boundary", u.Length)
	}
}

// TestStaleSpeculativeCompileIsDiscarded pins down the race between a
// background compile and a boundary change: a unit built against the old
// predicate must not publish after the set mutates.
func TestStaleSpeculativeCompileIsDiscarded(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|1,
		14<<26|3<<21|2,
		18<<26|8,
	)
	e := New(bus, threaded.New(), Config{})
	defer e.Close()

	// the worker snapshots the generation and builds without the boundary
	gen := e.boundaryGen()
	u, err := e.compile(base)
	if err != nil {
		t.Fatal(err)
	}
	// a breakpoint lands before the unit publishes
	e.SetBoundary(func(a uint32) bool { return a == base+4 })
	if e.publishSpeculative(u, gen) {
		t.Fatal("unit compiled under the old boundary must not publish")
	}
	if n := e.cache.Len(); n != 0 {
		t.Errorf("cache holds %d units", n)
	}

	u2, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if u2.Length != 4 {
		t.Errorf("unit length %d, want a split at the armed boundary", u2.Length)
	}
}

func TestRecompilationIsIdempotent(t *testing.T) {
	bus := newBus(t,
		14<<26|3<<21|7,       // li r3, 7
		12<<26|4<<21|3<<16|1, // addic r4, r3, 1
		18<<26|8,
	)
	e := New(bus, threaded.New(), Config{})
	defer e.Close()

	first, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	s1 := arch.State{PC: base}
	x1 := first.Code.Run(&backend.Env{State: &s1, Bus: bus})

	// no intervening writes: a second compile of the same bytes must be
	// indistinguishable from the first
	e.Cache().Clear()
	second, err := e.Get(base)
	if err != nil {
		t.Fatal(err)
	}
	if second == first {
		t.Fatal("expected a fresh compilation after the clear")
	}
	if second.Length != first.Length || second.Fingerprint != first.Fingerprint {
		t.Errorf("unit identity differs: %d/%#x vs %d/%#x",
			second.Length, second.Fingerprint, first.Length, first.Fingerprint)
	}
	s2 := arch.State{PC: base}
	x2 := second.Code.Run(&backend.Env{State: &s2, Bus: bus})
	if x1 != x2 {
		t.Errorf("exits differ: %+v vs %+v", x2, x1)
	}
	if s1 != s2 {
		t.Errorf("recompiled unit behaves differently\n got %+v\nwant %+v", s2, s1)
	}
}
