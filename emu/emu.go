// Package emu is the execution dispatcher: it owns the architectural state,
// the guest bus, the translation engine, and the interpreter fallback, and
// routes every unit exit.
package emu

import (
	"sync"
	"sync/atomic"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/interp"
	"github.com/flipper-emu/flipper/jit"
	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/backend/threaded"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
	"github.com/flipper-emu/flipper/ppc"
	"github.com/flipper-emu/flipper/vtx"
)

// StopKind tags why ExecuteUntil returned.
type StopKind uint8

const (
	StopStepped StopKind = iota
	StopBreakpoint
	StopReached
	StopPaused
)

func (k StopKind) String() string {
	switch k {
	case StopStepped:
		return "stepped"
	case StopBreakpoint:
		return "breakpoint"
	case StopReached:
		return "reached"
	case StopPaused:
		return "paused"
	}
	return "stop?"
}

// ExitReason reports how a dispatch run ended. Addr is the guest PC at the
// stop point.
type ExitReason struct {
	Kind StopKind
	Addr uint32
}

// StopCondition selects how long ExecuteUntil runs. The zero value runs
// forever (until Pause or a breakpoint).
type StopCondition struct {
	step     bool
	until    uint32
	hasUntil bool
}

// StepOnce stops after one dispatch iteration: one unit run, or one
// interpreted instruction after a fallback exit.
func StepOnce() StopCondition { return StopCondition{step: true} }

// RunUntil stops when the PC reaches addr.
func RunUntil(addr uint32) StopCondition { return StopCondition{until: addr, hasUntil: true} }

// RunForever runs until Pause or a breakpoint.
func RunForever() StopCondition { return StopCondition{} }

type Config struct {
	Jit jit.Config
	// Backend overrides the code generator; nil selects the threaded one.
	Backend backend.Backend
}

// Emu is the dispatcher. State and Bus are owned by Emu; exactly one
// execution context mutates State at a time.
type Emu struct {
	State  *arch.State
	Bus    *mem.Bus
	Engine *jit.Engine
	// Vertex shares the translation cache's budget.
	Vertex *vtx.Cache

	interp *interp.Interp
	tracer *Tracer

	bpMu   sync.Mutex
	breaks map[uint32]bool

	pause int32
	irq   int32
}

func New(cfg Config) *Emu {
	bus := mem.NewBus()
	be := cfg.Backend
	if be == nil {
		be = threaded.New()
	}
	engine := jit.New(bus, be, cfg.Jit)
	e := &Emu{
		State:  &arch.State{},
		Bus:    bus,
		Engine: engine,
		Vertex: vtx.NewCache(engine.Budget()),
		interp: interp.New(bus),
		breaks: make(map[uint32]bool),
	}
	engine.SetBoundary(e.isBreakpoint)
	return e
}

// SetTracer installs the trace facility; nil disables it.
func (e *Emu) SetTracer(t *Tracer) {
	e.tracer = t
}

func (e *Emu) isBreakpoint(addr uint32) bool {
	e.bpMu.Lock()
	ok := e.breaks[addr]
	e.bpMu.Unlock()
	return ok
}

// AddBreakpoint arms a breakpoint. Breakpoints are forced unit boundaries, so
// the cache is cleared: units compiled without the boundary could run past it.
// BoundaryChanged also discards in-flight speculative compiles that read the
// set before it grew.
func (e *Emu) AddBreakpoint(addr uint32) {
	e.bpMu.Lock()
	e.breaks[addr] = true
	e.bpMu.Unlock()
	e.Engine.BoundaryChanged()
}

func (e *Emu) RemoveBreakpoint(addr uint32) {
	e.bpMu.Lock()
	delete(e.breaks, addr)
	e.bpMu.Unlock()
	e.Engine.BoundaryChanged()
}

// Breakpoints returns the armed set.
func (e *Emu) Breakpoints() []uint32 {
	e.bpMu.Lock()
	defer e.bpMu.Unlock()
	out := make([]uint32, 0, len(e.breaks))
	for a := range e.breaks {
		out = append(out, a)
	}
	return out
}

// Pause requests a cooperative stop. Safe from any thread; the dispatcher
// honors it at the next unit boundary, never mid-unit.
func (e *Emu) Pause() {
	atomic.StoreInt32(&e.pause, 1)
}

// RaiseExternal latches a pending external interrupt. It is delivered at the
// next dispatch iteration where MSR[EE] is set.
func (e *Emu) RaiseExternal() {
	atomic.StoreInt32(&e.irq, 1)
}

// HandleException vectors the CPU: SRR0/SRR1 are committed, MSR is masked,
// and the PC moves to the architectural vector. The caller guarantees the
// state is fully committed, which every unit exit already promises.
func (e *Emu) HandleException(cause arch.Exception, resume uint32) {
	e.State.Raise(cause, resume)
	if e.tracer != nil {
		e.tracer.Exception(cause, resume)
	}
}

// ExecuteUntil dispatches translation units until the stop condition is met.
// Every return happens at a unit boundary with the state fully committed.
func (e *Emu) ExecuteUntil(cond StopCondition) ExitReason {
	env := &backend.Env{State: e.State, Bus: e.Bus}
	first := true
	for {
		pc := e.State.PC
		if atomic.CompareAndSwapInt32(&e.pause, 1, 0) {
			return ExitReason{Kind: StopPaused, Addr: pc}
		}
		if cond.hasUntil && pc == cond.until {
			return ExitReason{Kind: StopReached, Addr: pc}
		}
		if !first && e.isBreakpoint(pc) {
			return ExitReason{Kind: StopBreakpoint, Addr: pc}
		}
		first = false

		if atomic.LoadInt32(&e.irq) == 1 && e.State.MSR&ppc.MsrEE != 0 {
			atomic.StoreInt32(&e.irq, 0)
			e.HandleException(arch.ExcExternal, pc)
			continue
		}

		e.step(env, pc)

		if cond.step {
			return ExitReason{Kind: StopStepped, Addr: e.State.PC}
		}
	}
}

// step runs one dispatch iteration: lookup or compile the unit at pc, run it,
// route the exit.
func (e *Emu) step(env *backend.Env, pc uint32) {
	u, err := e.Engine.Get(pc)
	if err != nil {
		// only instruction fetch can fail here
		e.HandleException(arch.ExcISI, pc)
		return
	}

	cache := e.Engine.Cache()
	cache.Pin(u)
	exit := u.Code.Run(env)
	cache.Unpin(u)
	cache.EvictToBudget()

	if e.tracer != nil {
		e.tracer.Block(pc, u.Length, exit)
	}

	switch exit.Kind {
	case ir.ExitFallthrough, ir.ExitBranch:
		// state committed, next iteration re-probes the cache
	case ir.ExitException:
		e.HandleException(exit.Cause, exit.Addr)
	case ir.ExitFallback:
		e.interpretOne()
	}
}

// interpretOne runs the single-instruction interpreter fallback, then control
// returns to the dispatch loop to re-probe the cache.
func (e *Emu) interpretOne() {
	if exc := e.interp.Step(e.State); exc != arch.ExcNone {
		e.HandleException(exc, e.State.PC)
	}
}

// Step executes one dispatch iteration.
func (e *Emu) Step() ExitReason {
	return e.ExecuteUntil(StepOnce())
}

// Close tears the engine down.
func (e *Emu) Close() {
	e.Engine.Close()
	e.Vertex.Clear()
}

// LoadState restores a savestate image into the architectural state. The
// translation cache survives: units are revalidated by fingerprint on the
// next lookup anyway.
func (e *Emu) LoadState(data []byte) error {
	return e.State.Load(data)
}

// SaveState serializes the architectural state.
func (e *Emu) SaveState() ([]byte, error) {
	return e.State.Save()
}
