package emu

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"github.com/flipper-emu/flipper/arch"
	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/ir"
)

var (
	chSame = ansi.ColorCode("default:default")
	chNew  = ansi.ColorCode("default+bu:default")
)

// Tracer prints block-level execution traces and register diffs. Output is
// colored when attached to a terminal.
type Tracer struct {
	out   io.Writer
	color bool
	prev  *arch.State
}

// NewTracer traces to w. Pass os.Stderr for interactive use; color engages
// automatically on a tty.
func NewTracer(w io.Writer) *Tracer {
	t := &Tracer{out: w}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		t.out = colorable.NewColorable(f)
		t.color = true
	}
	return t
}

// Block logs one executed unit and its exit.
func (t *Tracer) Block(start, length uint32, exit backend.Exit) {
	if exit.Kind == ir.ExitException {
		fmt.Fprintf(t.out, "block %08x+%x exit %v %v\n", start, length, exit.Kind, exit.Cause)
		return
	}
	fmt.Fprintf(t.out, "block %08x+%x exit %v -> %08x\n", start, length, exit.Kind, exit.Addr)
}

// Exception logs an exception being vectored.
func (t *Tracer) Exception(cause arch.Exception, resume uint32) {
	fmt.Fprintf(t.out, "exception %v resume %08x\n", cause, resume)
}

// Regs prints the register file, highlighting values changed since the last
// call.
func (t *Tracer) Regs(s *arch.State) {
	prev := t.prev
	if prev == nil {
		prev = &arch.State{}
	}
	var cells []string
	for i := 0; i < 32; i++ {
		cells = append(cells, t.cell(fmt.Sprintf("r%d", i), s.GPR[i], prev.GPR[i]))
	}
	cells = append(cells,
		t.cell("pc", s.PC, prev.PC),
		t.cell("lr", s.LR, prev.LR),
		t.cell("ctr", s.CTR, prev.CTR),
		t.cell("cr", s.CR, prev.CR),
		t.cell("xer", s.XER, prev.XER),
		t.cell("msr", s.MSR, prev.MSR),
	)
	for i, c := range cells {
		fmt.Fprint(t.out, c)
		if i%4 == 3 {
			fmt.Fprintln(t.out)
		} else {
			fmt.Fprint(t.out, "  ")
		}
	}
	fmt.Fprintln(t.out)
	t.prev = s.Snapshot()
}

// cell formats one register, coloring the changed hex digits.
func (t *Tracer) cell(name string, val, old uint32) string {
	pad := strings.Repeat(" ", 4-min(4, len(name)))
	if val == old || !t.color {
		mark := " "
		if val != old {
			mark = "+"
		}
		return fmt.Sprintf("%s%s%s 0x%08x", mark, pad, name, val)
	}
	cur, was := fmt.Sprintf("%08x", val), fmt.Sprintf("%08x", old)
	var b strings.Builder
	fmt.Fprintf(&b, " %s%s%s%s 0x", pad, chNew, name, ansi.Reset)
	run := cur[0] == was[0]
	pos := 0
	for i := 1; i <= len(cur); i++ {
		if i == len(cur) || (cur[i] == was[i]) != run {
			col := chNew
			if run {
				col = chSame
			}
			b.WriteString(col + cur[pos:i])
			pos = i
			run = !run
		}
	}
	b.WriteString(ansi.Reset)
	return b.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
