package ir

// EliminateDeadFlags removes flag-definition ops whose result is overwritten
// by a later definition of the same CR field before any reader, exit, or
// exception-capable op. This is the standard dead-flag pass: record-form
// instruction pairs like `add. ; subf.` only need the second CR0 update.
//
// Barriers are conservative: any op that can exit the unit keeps earlier flag
// defs alive, because the exit-state contract promises fully committed flags
// at every exit point.
func EliminateDeadFlags(s *Sequence) int {
	dead := make([]bool, len(s.Ops))
	// pending[f] is the index of the most recent unconsumed def of field f
	var pending [8]int
	for i := range pending {
		pending[i] = -1
	}
	flush := func() {
		for i := range pending {
			pending[i] = -1
		}
	}

	for i := range s.Ops {
		op := &s.Ops[i]
		if op.readsCR() || op.barrier() {
			flush()
			continue
		}
		if f := op.defCRF(); f >= 0 {
			if prev := pending[f]; prev >= 0 {
				dead[prev] = true
			}
			pending[f] = i
		}
	}

	removed := 0
	out := s.Ops[:0]
	for i := range s.Ops {
		if dead[i] {
			removed++
			continue
		}
		out = append(out, s.Ops[i])
	}
	s.Ops = out
	return removed
}
