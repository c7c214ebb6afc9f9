// Package backend defines the code-generation collaborator boundary and the
// calling convention compiled units must honor.
package backend

import (
	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/ir"
)

// Env is what compiled code receives for one execution slice: a mutable view
// of the architectural state and the guest bus. The unit must commit every
// register it modified, and the PC, before each return.
type Env struct {
	State *arch.State
	Bus   Bus
}

// Bus is the memory surface compiled code runs against. MMIO side effects
// are resolved inside the implementation.
type Bus interface {
	ReadUint(addr uint32, size int) (uint64, error)
	WriteUint(addr uint32, size int, val uint64) error
	ReadF64(addr uint32) (float64, error)
	WriteF64(addr uint32, f float64) error
	ReadF32(addr uint32) (float32, error)
	WriteF32(addr uint32, f float32) error
}

// ExitKind mirrors ir.ExitKind for runtime exits.
type ExitKind = ir.ExitKind

// Exit is the tagged result of running a unit. Kind selects which fields are
// meaningful: Addr for fallthrough/branch/fallback targets (and the resume
// address for exceptions), Cause for exceptions.
type Exit struct {
	Kind  ExitKind
	Addr  uint32
	Cause arch.Exception
}

// Code is one lowered unit: an entry point plus the declared exits. The
// translation cache owns Code values; nothing else may retain one across a
// cache removal.
type Code struct {
	Exits []ir.ExitDesc
	entry func(*Env) Exit
	steps int
}

func NewCode(entry func(*Env) Exit, exits []ir.ExitDesc, steps int) *Code {
	return &Code{Exits: exits, entry: entry, steps: steps}
}

// Run transfers control into the unit. On return the architectural state is
// internally consistent: registers committed, PC at the exit target (or the
// faulting instruction for exception exits).
func (c *Code) Run(env *Env) Exit {
	return c.entry(env)
}

// Steps reports the lowered op count, used for cache cost accounting.
func (c *Code) Steps() int {
	return c.steps
}

// Backend lowers IR sequences to runnable code. Implementations may be
// replaced wholesale (the threaded backend is the portable one); the Env
// contract above is owned by the dispatcher, not the backend.
type Backend interface {
	Lower(seq *ir.Sequence) (*Code, error)
}
