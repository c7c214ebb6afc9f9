// Package monitor is the interactive debugger REPL: stepping, registers,
// memory, breakpoints, savestates, and Lua one-liners.
package monitor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/flipper-emu/flipper/emu"
	"github.com/flipper-emu/flipper/script"
)

type Monitor struct {
	e      *emu.Emu
	rl     *readline.Instance
	lua    *script.Script
	tracer *emu.Tracer
}

func New(e *emu.Emu) (*Monitor, error) {
	configDirs := configdir.New("flipper", "monitor")
	historyPath := ""
	cacheDir := configDirs.QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err == nil {
		historyPath = filepath.Join(cacheDir.Path, "history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "flipper> ",
		InterruptPrompt: "\n",
		HistoryFile:     historyPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "starting monitor")
	}
	return &Monitor{
		e:      e,
		rl:     rl,
		lua:    script.New(e),
		tracer: emu.NewTracer(rl.Stderr()),
	}, nil
}

func (m *Monitor) Close() {
	m.lua.Close()
	m.rl.Close()
}

// Run reads commands until quit or EOF.
func (m *Monitor) Run() error {
	for {
		line, err := m.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "q" {
			return nil
		}
		if err := m.dispatch(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(m.rl.Stderr(), "error: %v\n", err)
		}
	}
}

func (m *Monitor) dispatch(cmd string, args []string) error {
	out := m.rl.Stderr()
	switch cmd {
	case "s", "step":
		n := 1
		if len(args) > 0 {
			v, err := parseNum(args[0])
			if err != nil {
				return err
			}
			n = int(v)
		}
		for i := 0; i < n; i++ {
			m.e.Step()
		}
		m.tracer.Regs(m.e.State)
	case "c", "continue":
		r := m.e.ExecuteUntil(emu.RunForever())
		fmt.Fprintf(out, "%v at %08x\n", r.Kind, r.Addr)
	case "until":
		if len(args) != 1 {
			return errors.New("usage: until <addr>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return err
		}
		r := m.e.ExecuteUntil(emu.RunUntil(uint32(addr)))
		fmt.Fprintf(out, "%v at %08x\n", r.Kind, r.Addr)
	case "r", "regs":
		m.tracer.Regs(m.e.State)
	case "m", "mem":
		if len(args) < 1 {
			return errors.New("usage: mem <addr> [len]")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return err
		}
		size := uint64(64)
		if len(args) > 1 {
			if size, err = parseNum(args[1]); err != nil {
				return err
			}
		}
		buf := make([]byte, size)
		if err := m.e.Bus.Read(uint32(addr), buf); err != nil {
			return err
		}
		dump(out, uint32(addr), buf)
	case "b", "break":
		if len(args) != 1 {
			return errors.New("usage: break <addr>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return err
		}
		m.e.AddBreakpoint(uint32(addr))
	case "d", "delete":
		if len(args) != 1 {
			return errors.New("usage: delete <addr>")
		}
		addr, err := parseNum(args[0])
		if err != nil {
			return err
		}
		m.e.RemoveBreakpoint(uint32(addr))
	case "breaks":
		for _, a := range m.e.Breakpoints() {
			fmt.Fprintf(out, "%08x\n", a)
		}
	case "save":
		if len(args) != 1 {
			return errors.New("usage: save <file>")
		}
		data, err := m.e.SaveState()
		if err != nil {
			return err
		}
		return os.WriteFile(args[0], data, 0o644)
	case "load":
		if len(args) != 1 {
			return errors.New("usage: load <file>")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		return m.e.LoadState(data)
	case "lua":
		if len(args) == 0 {
			return errors.New("usage: lua <code> | lua @file")
		}
		if strings.HasPrefix(args[0], "@") {
			return m.lua.RunFile(strings.TrimPrefix(args[0], "@"))
		}
		return m.lua.Run(strings.Join(args, " "))
	case "stats":
		st := m.e.Engine.Cache().Stats()
		fmt.Fprintf(out, "units %d  hits %d  misses %d  stale %d  invalidated %d  evicted %d\n",
			m.e.Engine.Cache().Len(), st.Hits, st.Misses, st.Stale, st.Invalidations, st.Evictions)
		vh, vm := m.e.Vertex.Stats()
		fmt.Fprintf(out, "vertex parsers %d  hits %d  misses %d  budget %d/%d\n",
			m.e.Vertex.Len(), vh, vm, m.e.Engine.Budget().Used(), m.e.Engine.Budget().Max())
	case "help", "h", "?":
		fmt.Fprint(out, helpText)
	default:
		return errors.Errorf("unknown command %q (try help)", cmd)
	}
	return nil
}

const helpText = `commands:
  step [n]        execute n dispatch steps (default 1)
  continue        run until breakpoint or pause
  until <addr>    run until the PC reaches addr
  regs            show registers (changes highlighted)
  mem <addr> [n]  hex dump n bytes (default 64)
  break <addr>    set breakpoint
  delete <addr>   clear breakpoint
  breaks          list breakpoints
  save <file>     write savestate
  load <file>     restore savestate
  lua <code>      run lua (lua @file runs a script)
  stats           cache statistics
  quit
`

func parseNum(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Errorf("bad number %q", s)
	}
	return v, nil
}

func dump(w io.Writer, addr uint32, buf []byte) {
	for i := 0; i < len(buf); i += 16 {
		end := i + 16
		if end > len(buf) {
			end = len(buf)
		}
		row := buf[i:end]
		fmt.Fprintf(w, "%08x  ", addr+uint32(i))
		for j, b := range row {
			fmt.Fprintf(w, "%02x ", b)
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprintln(w)
	}
}
