package arch

import "fmt"

// Exception names a guest exception cause. The numeric value is the
// architectural vector offset.
type Exception uint32

const (
	ExcNone          Exception = 0
	ExcDSI           Exception = 0x300
	ExcISI           Exception = 0x400
	ExcExternal      Exception = 0x500
	ExcProgram       Exception = 0x700
	ExcFPUnavailable Exception = 0x800
	ExcDecrementer   Exception = 0x900
	ExcSyscall       Exception = 0xc00
)

func (e Exception) String() string {
	switch e {
	case ExcNone:
		return "none"
	case ExcDSI:
		return "dsi"
	case ExcISI:
		return "isi"
	case ExcExternal:
		return "external"
	case ExcProgram:
		return "program"
	case ExcFPUnavailable:
		return "fp-unavailable"
	case ExcDecrementer:
		return "decrementer"
	case ExcSyscall:
		return "syscall"
	}
	return fmt.Sprintf("exception(%#x)", uint32(e))
}

// Vector is the guest address execution resumes at when the exception is
// taken.
func (e Exception) Vector() uint32 {
	return uint32(e)
}

// MSR bits cleared when an exception is taken, and the SRR1 bits that
// preserve MSR state across it.
const (
	msrExcClear = 0x0004ef36
	srr1MsrMask = 0x87c0ffff
)

// Raise takes the exception: SRR0 receives the resume address, SRR1 captures
// the MSR, interrupts and FP are masked, and the PC moves to the vector.
// Callers guarantee the rest of the state is already committed.
func (s *State) Raise(e Exception, resume uint32) {
	s.SRR0 = resume
	s.SRR1 = s.MSR & srr1MsrMask
	s.MSR &^= msrExcClear
	s.PC = e.Vector()
}

// Rfi returns from interrupt: the captured MSR bits are restored and
// execution resumes at SRR0.
func (s *State) Rfi() {
	s.MSR = s.MSR&^srr1MsrMask | s.SRR1&srr1MsrMask
	s.PC = s.SRR0 &^ 3
}
