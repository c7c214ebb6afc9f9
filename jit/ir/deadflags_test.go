package ir

import "testing"

func seqOf(ops ...Op) *Sequence {
	return &Sequence{Start: 0x1000, NumIns: len(ops), Ops: ops}
}

func kinds(s *Sequence) []Kind {
	out := make([]Kind, len(s.Ops))
	for i := range s.Ops {
		out[i] = s.Ops[i].Kind
	}
	return out
}

func TestOverwrittenFlagDefIsRemoved(t *testing.T) {
	s := seqOf(
		Op{Kind: KAdd, RD: 3, RA: 4, RB: 5},
		Op{Kind: KUpdCR0, RD: 3},
		Op{Kind: KSubf, RD: 6, RA: 3, RB: 4},
		Op{Kind: KUpdCR0, RD: 6},
		Op{Kind: KEnd, Imm: 0x1010},
	)
	if removed := EliminateDeadFlags(s); removed != 1 {
		t.Fatalf("removed %d defs, want 1", removed)
	}
	want := []Kind{KAdd, KSubf, KUpdCR0, KEnd}
	got := kinds(s)
	if len(got) != len(want) {
		t.Fatalf("ops after pass: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ops after pass: %v, want %v", got, want)
		}
	}
}

func TestMemoryOpIsBarrier(t *testing.T) {
	// the store can fault and exit mid-unit, so the first CR0 def is live
	// at that exit and must survive
	s := seqOf(
		Op{Kind: KUpdCR0, RD: 3},
		Op{Kind: KStore, RD: 3, RA: 4, RB: -1, Size: 4},
		Op{Kind: KUpdCR0, RD: 5},
		Op{Kind: KEnd, Imm: 0x1010},
	)
	if removed := EliminateDeadFlags(s); removed != 0 {
		t.Errorf("removed %d defs across a barrier", removed)
	}
}

func TestReaderKeepsDef(t *testing.T) {
	s := seqOf(
		Op{Kind: KCmpSImm, CRF: 0, RA: 3},
		Op{Kind: KBranchCond, BO: 12, BI: 2, Imm: 0x2000, Imm2: 0x100c},
	)
	if removed := EliminateDeadFlags(s); removed != 0 {
		t.Errorf("removed %d defs with a reader present", removed)
	}
}

func TestIndependentFieldsDoNotClash(t *testing.T) {
	s := seqOf(
		Op{Kind: KCmpSImm, CRF: 0, RA: 3},
		Op{Kind: KCmpSImm, CRF: 1, RA: 4},
		Op{Kind: KEnd, Imm: 0x1008},
	)
	if removed := EliminateDeadFlags(s); removed != 0 {
		t.Errorf("removed %d defs of distinct fields", removed)
	}
}

func TestFinalDefSurvives(t *testing.T) {
	s := seqOf(
		Op{Kind: KAdd, RD: 3, RA: 4, RB: 5},
		Op{Kind: KUpdCR0, RD: 3},
		Op{Kind: KEnd, Imm: 0x1008},
	)
	EliminateDeadFlags(s)
	found := false
	for i := range s.Ops {
		if s.Ops[i].Kind == KUpdCR0 {
			found = true
		}
	}
	if !found {
		t.Error("the last CR0 def before an exit must survive")
	}
}
