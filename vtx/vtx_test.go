package vtx

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/flipper-emu/flipper/jit/cache"
)

// posNrmClr is the common draw layout: three float32 positions, three s16
// shift-normalized normals, four u8 color channels, padded to the stride.
func posNrmClr() Descriptor {
	return Describe(24,
		Attr{Type: F32, Count: 3, Offset: 0},
		Attr{Type: S16, Count: 3, Shift: 14, Offset: 12},
		Attr{Type: U8, Count: 4, Offset: 18},
	)
}

func putF32(b []byte, off int, v float32) {
	binary.BigEndian.PutUint32(b[off:], math.Float32bits(v))
}

func putS16(b []byte, off int, v int16) {
	binary.BigEndian.PutUint16(b[off:], uint16(v))
}

func record(pos [3]float32, nrm [3]int16, clr [4]byte) []byte {
	b := make([]byte, 24)
	for i, v := range pos {
		putF32(b, i*4, v)
	}
	for i, v := range nrm {
		putS16(b, 12+i*2, v)
	}
	copy(b[18:], clr[:])
	return b
}

func TestParserMatchesScenario(t *testing.T) {
	desc := posNrmClr()
	src := record(
		[3]float32{1, -2.5, 3.25},
		[3]int16{0x4000, -0x4000, 0x2000},
		[4]byte{255, 128, 0, 64},
	)
	p, err := Compile(desc)
	if err != nil {
		t.Fatal(err)
	}
	got := p.Run(src)
	want := []float32{
		1, -2.5, 3.25,
		1, -1, 0.5,
		255, 128, 0, 64,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parsed record mismatch (-want +got):\n%s", diff)
	}
}

func TestCompileMatchesReference(t *testing.T) {
	desc := posNrmClr()
	var src []byte
	src = append(src, record([3]float32{0.5, 100, -0.125}, [3]int16{1, -1, 0x7fff}, [4]byte{1, 2, 3, 4})...)
	src = append(src, record([3]float32{-1e20, 0, 2}, [3]int16{-0x8000, 0, 0x123}, [4]byte{0, 0, 255, 255})...)
	// trailing partial record must be ignored
	src = append(src, 0xde, 0xad)

	p, err := Compile(desc)
	if err != nil {
		t.Fatal(err)
	}
	got := p.Run(src)
	want, err := Reference(desc, src)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("compiled parser diverges from the reference (-want +got):\n%s", diff)
	}
	if len(got) != 2*desc.Comps() {
		t.Errorf("parsed %d floats, want two whole records", len(got))
	}
}

func TestAllComponentTypes(t *testing.T) {
	desc := Describe(10,
		Attr{Type: U8, Count: 1, Shift: 2, Offset: 0},
		Attr{Type: S8, Count: 1, Shift: 2, Offset: 1},
		Attr{Type: U16, Count: 1, Shift: 4, Offset: 2},
		Attr{Type: S16, Count: 1, Shift: 4, Offset: 4},
		Attr{Type: F32, Count: 1, Offset: 6},
	)
	b := make([]byte, 10)
	b[0] = 6               // 6/4
	b[1] = 0x80            // -128/4
	putS16(b, 2, 0x100)    // 256/16
	putS16(b, 4, -0x100)   // -256/16
	putF32(b, 6, 3.5)

	p, err := Compile(desc)
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{1.5, -32, 16, -16, 3.5}
	if diff := cmp.Diff(want, p.Run(b)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestValidateRejects(t *testing.T) {
	bad := []Descriptor{
		Describe(0, Attr{Type: F32, Count: 1}),                        // no stride
		Describe(8),                                                   // no attributes
		Describe(8, Attr{Type: F32, Count: 0}),                        // zero count
		Describe(8, Attr{Type: F32, Count: 3, Offset: 0}),             // overruns stride
		Describe(8, Attr{Type: U8, Count: 1, Shift: 32}),              // shift too wide
		Describe(8, Attr{Type: CompType(9), Count: 1}),                // unknown type
		Describe(8, Attr{Type: U8, Count: 1, Offset: -1}),             // negative offset
	}
	for i, d := range bad {
		if _, err := Compile(d); err == nil {
			t.Errorf("descriptor %d: compile should refuse", i)
		}
	}
}

func TestCacheKeyedByDescriptor(t *testing.T) {
	c := NewCache(cache.NewBudget(1000))
	a, err := c.Get(posNrmClr())
	if err != nil {
		t.Fatal(err)
	}
	// a structurally equal descriptor built independently
	b, err := c.Get(posNrmClr())
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("equal descriptors must share one parser unit")
	}
	if hits, misses := c.Stats(); hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}

	other := posNrmClr()
	other.Attrs[1].Shift = 6
	o, err := c.Get(other)
	if err != nil {
		t.Fatal(err)
	}
	if o == a {
		t.Error("a different shift is a different parser")
	}
}

func TestCacheEvictsToBudget(t *testing.T) {
	desc := posNrmClr() // 10 steps
	budget := cache.NewBudget(15)
	c := NewCache(budget)
	if _, err := c.Get(desc); err != nil {
		t.Fatal(err)
	}
	other := desc
	other.Attrs[0].Count = 2 // 9 steps
	if _, err := c.Get(other); err != nil {
		t.Fatal(err)
	}
	if c.Len() != 1 {
		t.Errorf("cache holds %d parsers, want the older one evicted", c.Len())
	}
	if budget.Used() != 9 {
		t.Errorf("budget used = %d", budget.Used())
	}
	// the freshly compiled parser is never the eviction victim
	if _, err := c.Get(other); err != nil {
		t.Fatal(err)
	}
	if hits, _ := c.Stats(); hits != 1 {
		t.Error("the surviving parser should hit")
	}
}

func TestCacheClear(t *testing.T) {
	budget := cache.NewBudget(1000)
	c := NewCache(budget)
	if _, err := c.Get(posNrmClr()); err != nil {
		t.Fatal(err)
	}
	c.Clear()
	if c.Len() != 0 || budget.Used() != 0 {
		t.Errorf("after clear: len=%d used=%d", c.Len(), budget.Used())
	}
}
