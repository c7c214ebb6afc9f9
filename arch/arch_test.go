package arch

import (
	"bytes"
	"testing"
)

func sample() *State {
	s := &State{PC: 0x80003100, CR: 0x20000000, LR: 0x80003000, CTR: 7}
	for i := range s.GPR {
		s.GPR[i] = uint32(i) * 0x1111
	}
	for i := range s.FPR {
		s.FPR[i] = float64(i) * 1.5
	}
	s.MSR = 0x8000 | 0x2000
	s.XER = XerCA | XerSO
	s.FPSCR = 0x3
	return s
}

func TestSavestateRoundtrip(t *testing.T) {
	s := sample()
	data, err := s.Save()
	if err != nil {
		t.Fatal(err)
	}
	var got State
	if err := got.Load(data); err != nil {
		t.Fatal(err)
	}
	want := *s
	want.Reservation = false
	if got != want {
		t.Errorf("state did not roundtrip:\n got %+v\nwant %+v", got, want)
	}
}

func TestSavestateRejectsCorruption(t *testing.T) {
	s := sample()
	data, err := s.Save()
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff
	var got State
	if err := got.Load(data); err == nil {
		t.Error("corrupted body should fail the checksum")
	}

	bad := bytes.Clone(data)
	bad[3] = 99 // version
	if err := got.Load(bad); err == nil {
		t.Error("unknown version should be rejected")
	}
}

func TestRaiseAndRfi(t *testing.T) {
	s := &State{PC: 0x80001234, MSR: 0x8000 | 0x2000}
	s.Raise(ExcSyscall, 0x80001238)
	if s.PC != 0xc00 {
		t.Errorf("pc = %#x, want the syscall vector", s.PC)
	}
	if s.SRR0 != 0x80001238 {
		t.Errorf("srr0 = %#x", s.SRR0)
	}
	if s.MSR&0x8000 != 0 {
		t.Error("EE must be masked while handling an exception")
	}
	if s.SRR1&0x8000 == 0 {
		t.Error("srr1 must capture EE")
	}

	s.Rfi()
	if s.PC != 0x80001238 {
		t.Errorf("rfi resumed at %#x", s.PC)
	}
	if s.MSR&0x8000 == 0 {
		t.Error("rfi must restore EE")
	}
}

func TestSnapshotIsDeep(t *testing.T) {
	s := sample()
	snap := s.Snapshot()
	s.GPR[5] = 0xdead
	s.FPR[2] = -1
	if snap.GPR[5] == 0xdead || snap.FPR[2] == -1 {
		t.Error("snapshot aliases the live state")
	}
	s.Restore(snap)
	if s.GPR[5] != 5*0x1111 {
		t.Error("restore did not bring the old value back")
	}
}
