package mem

import (
	"bytes"
	"testing"
)

func TestMapReadWrite(t *testing.T) {
	b := NewBus()
	if err := b.Map(0x80000000, 0x1000, "ram"); err != nil {
		t.Fatal(err)
	}
	want := []byte{1, 2, 3, 4}
	if err := b.Write(0x80000100, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := b.Read(0x80000100, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read %v, want %v", got, want)
	}
}

func TestMapRejectsOverlap(t *testing.T) {
	b := NewBus()
	if err := b.Map(0x1000, 0x1000, "a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Map(0x1800, 0x1000, "b"); err == nil {
		t.Error("overlapping mapping should fail")
	}
}

func TestBigEndianValues(t *testing.T) {
	b := NewBus()
	if err := b.Map(0, 0x100, "ram"); err != nil {
		t.Fatal(err)
	}
	if err := b.WriteUint(0x10, 4, 0x12345678); err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 4)
	b.Read(0x10, raw)
	if !bytes.Equal(raw, []byte{0x12, 0x34, 0x56, 0x78}) {
		t.Errorf("words are stored big-endian, got %x", raw)
	}
	v, err := b.ReadUint(0x10, 2)
	if err != nil || v != 0x1234 {
		t.Errorf("halfword read = %x, %v", v, err)
	}
	if err := b.WriteF64(0x20, 1.5); err != nil {
		t.Fatal(err)
	}
	f, err := b.ReadF64(0x20)
	if err != nil || f != 1.5 {
		t.Errorf("float roundtrip = %v, %v", f, err)
	}
}

func TestFaultKinds(t *testing.T) {
	b := NewBus()
	b.Map(0x1000, 0x100, "ram")

	err := b.Read(0x5000, make([]byte, 4))
	f, ok := err.(*FaultError)
	if !ok || f.Access != AccessRead {
		t.Errorf("unmapped read fault = %v", err)
	}
	err = b.Fetch(0x5000, make([]byte, 4))
	if f, ok = err.(*FaultError); !ok || f.Access != AccessFetch {
		t.Errorf("unmapped fetch fault = %v", err)
	}
	// a write straddling the end of the region faults
	err = b.Write(0x10fe, []byte{1, 2, 3, 4})
	if f, ok = err.(*FaultError); !ok || f.Access != AccessWrite {
		t.Errorf("straddling write fault = %v", err)
	}
}

func TestWriteObserverRuns(t *testing.T) {
	b := NewBus()
	b.Map(0, 0x100, "ram")
	var gotAddr, gotSize uint32
	calls := 0
	b.Observe(func(addr, size uint32) {
		gotAddr, gotSize = addr, size
		calls++
	})
	if err := b.Write(0x40, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || gotAddr != 0x40 || gotSize != 8 {
		t.Errorf("observer saw %d calls, %#x(%d)", calls, gotAddr, gotSize)
	}
	// a failed write notifies nobody
	b.Write(0x5000, []byte{1})
	if calls != 1 {
		t.Error("faulted write must not notify")
	}
}

type testDevice struct {
	last uint32
	val  uint32
}

func (d *testDevice) MMIORead(addr uint32, size int) uint32 {
	return d.val
}

func (d *testDevice) MMIOWrite(addr uint32, size int, val uint32) {
	d.last = val
}

func TestMMIORouting(t *testing.T) {
	b := NewBus()
	dev := &testDevice{val: 0xcafe}
	b.MapMMIO(0xcc000000, 0x100, dev)

	v, err := b.ReadUint(0xcc000010, 4)
	if err != nil || v != 0xcafe {
		t.Errorf("mmio read = %x, %v", v, err)
	}
	if err := b.WriteUint(0xcc000010, 4, 0xbeef); err != nil {
		t.Fatal(err)
	}
	if dev.last != 0xbeef {
		t.Errorf("mmio write reached %x", dev.last)
	}
}

func TestCrossRegionAccess(t *testing.T) {
	b := NewBus()
	b.Map(0x1000, 0x10, "lo")
	b.Map(0x1010, 0x10, "hi")
	want := []byte{9, 8, 7, 6}
	if err := b.Write(0x100e, want); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 4)
	if err := b.Read(0x100e, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("cross-region read %v, want %v", got, want)
	}
}
