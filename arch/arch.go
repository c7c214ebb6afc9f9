package arch

// State is the complete PowerPC-visible register file. It is owned by the
// dispatcher; exactly one execution context (compiled unit or interpreter)
// holds a mutable reference at a time, so no locking happens on the hot path.
type State struct {
	GPR [32]uint32
	FPR [32]float64

	PC    uint32
	CR    uint32
	LR    uint32
	CTR   uint32
	XER   uint32
	FPSCR uint32
	MSR   uint32
	SRR0  uint32
	SRR1  uint32

	// Reservation tracks lwarx/stwcx. on the single emulated core.
	Reservation     bool
	ReservationAddr uint32
}

// XER bit positions.
const (
	XerSO = 1 << 31
	XerOV = 1 << 30
	XerCA = 1 << 29
)

func (s *State) CA() bool { return s.XER&XerCA != 0 }

func (s *State) SetCA(v bool) {
	if v {
		s.XER |= XerCA
	} else {
		s.XER &^= XerCA
	}
}

func (s *State) SO() bool { return s.XER&XerSO != 0 }

// SetOV sets the overflow bit and accumulates summary overflow.
func (s *State) SetOV(v bool) {
	if v {
		s.XER |= XerOV | XerSO
	} else {
		s.XER &^= XerOV
	}
}

// Snapshot returns a deep copy of the architectural state.
func (s *State) Snapshot() *State {
	c := *s
	return &c
}

// Restore overwrites the state with a previously taken snapshot.
func (s *State) Restore(snap *State) {
	*s = *snap
}
