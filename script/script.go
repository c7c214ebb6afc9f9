// Package script exposes the emulator to Lua. The bindings cover what an
// automation script needs: registers, memory, breakpoints, and stepping.
package script

import (
	"github.com/pkg/errors"
	lua "github.com/yuin/gopher-lua"

	"github.com/flipper-emu/flipper/emu"
)

type Script struct {
	L *lua.LState
	e *emu.Emu
}

// New builds a Lua state with the emulator bound as globals.
func New(e *emu.Emu) *Script {
	s := &Script{L: lua.NewState(), e: e}
	s.register()
	return s
}

func (s *Script) Close() {
	s.L.Close()
}

// Run executes a chunk of Lua source.
func (s *Script) Run(code string) error {
	return errors.Wrap(s.L.DoString(code), "lua")
}

// RunFile executes a Lua file.
func (s *Script) RunFile(path string) error {
	return errors.Wrapf(s.L.DoFile(path), "lua %s", path)
}

func (s *Script) register() {
	L := s.L
	e := s.e

	set := func(name string, fn lua.LGFunction) {
		L.SetGlobal(name, L.NewFunction(fn))
	}

	set("gpr", func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n < 0 || n > 31 {
			L.ArgError(1, "register number 0..31")
		}
		L.Push(lua.LNumber(e.State.GPR[n]))
		return 1
	})
	set("setgpr", func(L *lua.LState) int {
		n := L.CheckInt(1)
		if n < 0 || n > 31 {
			L.ArgError(1, "register number 0..31")
		}
		e.State.GPR[n] = uint32(L.CheckInt64(2))
		return 0
	})
	set("pc", func(L *lua.LState) int {
		L.Push(lua.LNumber(e.State.PC))
		return 1
	})
	set("setpc", func(L *lua.LState) int {
		e.State.PC = uint32(L.CheckInt64(1))
		return 0
	})
	set("read", func(L *lua.LState) int {
		addr := uint32(L.CheckInt64(1))
		size := L.CheckInt(2)
		buf := make([]byte, size)
		if err := e.Bus.Read(addr, buf); err != nil {
			L.RaiseError("read %#x: %v", addr, err)
		}
		L.Push(lua.LString(buf))
		return 1
	})
	set("write", func(L *lua.LState) int {
		addr := uint32(L.CheckInt64(1))
		data := L.CheckString(2)
		if err := e.Bus.Write(addr, []byte(data)); err != nil {
			L.RaiseError("write %#x: %v", addr, err)
		}
		return 0
	})
	set("step", func(L *lua.LState) int {
		n := 1
		if L.GetTop() >= 1 {
			n = L.CheckInt(1)
		}
		for i := 0; i < n; i++ {
			e.Step()
		}
		L.Push(lua.LNumber(e.State.PC))
		return 1
	})
	set("run_until", func(L *lua.LState) int {
		addr := uint32(L.CheckInt64(1))
		r := e.ExecuteUntil(emu.RunUntil(addr))
		L.Push(lua.LString(r.Kind.String()))
		L.Push(lua.LNumber(r.Addr))
		return 2
	})
	set("brk", func(L *lua.LState) int {
		e.AddBreakpoint(uint32(L.CheckInt64(1)))
		return 0
	})
	set("unbrk", func(L *lua.LState) int {
		e.RemoveBreakpoint(uint32(L.CheckInt64(1)))
		return 0
	})
}
