// Package vtx compiles vertex attribute descriptors into parser units that
// turn raw big-endian vertex records into normalized float32 tuples. Parsers
// are pure functions of their descriptor, so the cache keys them by
// structural equality and only ever evicts, never invalidates.
package vtx

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// CompType is a vertex component storage type.
type CompType uint8

const (
	U8 CompType = iota
	S8
	U16
	S16
	F32
)

func (t CompType) size() int {
	switch t {
	case U8, S8:
		return 1
	case U16, S16:
		return 2
	}
	return 4
}

func (t CompType) String() string {
	switch t {
	case U8:
		return "u8"
	case S8:
		return "s8"
	case U16:
		return "u16"
	case S16:
		return "s16"
	case F32:
		return "f32"
	}
	return "comp?"
}

// MaxAttrs bounds attributes per descriptor; the GP pipeline this models has
// far fewer.
const MaxAttrs = 16

// Attr is one attribute of a vertex record.
type Attr struct {
	Type CompType
	// Count is components per attribute, 1 to 4.
	Count int
	// Shift is the fixed-point fraction width: integer components are
	// divided by 1<<Shift. Ignored for F32.
	Shift int
	// Offset is the attribute's byte offset within the record.
	Offset int
}

// Descriptor fully determines a parser. It is a comparable value type; two
// descriptors produce identical parsers iff they are ==.
type Descriptor struct {
	Attrs    [MaxAttrs]Attr
	NumAttrs int
	// Stride is the record size in bytes.
	Stride int
}

// Describe builds a Descriptor from a slice of attributes.
func Describe(stride int, attrs ...Attr) Descriptor {
	var d Descriptor
	d.Stride = stride
	d.NumAttrs = len(attrs)
	copy(d.Attrs[:], attrs)
	return d
}

// Comps is the number of output floats per record.
func (d *Descriptor) Comps() int {
	n := 0
	for i := 0; i < d.NumAttrs; i++ {
		n += d.Attrs[i].Count
	}
	return n
}

func (d *Descriptor) validate() error {
	if d.Stride <= 0 {
		return errors.New("vertex descriptor: stride must be positive")
	}
	if d.NumAttrs < 1 || d.NumAttrs > MaxAttrs {
		return errors.Errorf("vertex descriptor: %d attributes", d.NumAttrs)
	}
	for i := 0; i < d.NumAttrs; i++ {
		a := d.Attrs[i]
		if a.Count < 1 || a.Count > 4 {
			return errors.Errorf("attribute %d: component count %d", i, a.Count)
		}
		if a.Type > F32 {
			return errors.Errorf("attribute %d: unknown component type", i)
		}
		if a.Shift < 0 || a.Shift > 31 {
			return errors.Errorf("attribute %d: shift %d", i, a.Shift)
		}
		end := a.Offset + a.Count*a.Type.size()
		if a.Offset < 0 || end > d.Stride {
			return errors.Errorf("attribute %d: [%d,%d) outside stride %d", i, a.Offset, end, d.Stride)
		}
	}
	return nil
}

// vstep extracts one component from a record into out[at].
type vstep func(rec []byte, out []float32)

// Parser is one compiled parser unit: a flat step list, one step per output
// component, run once per record.
type Parser struct {
	desc  Descriptor
	steps []vstep
	comps int
}

// Compile lowers a descriptor to a parser unit. The step list is the same
// shape the code translation backend uses: straight-line, no branches.
func Compile(desc Descriptor) (*Parser, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	var steps []vstep
	at := 0
	for i := 0; i < desc.NumAttrs; i++ {
		a := desc.Attrs[i]
		for c := 0; c < a.Count; c++ {
			off := a.Offset + c*a.Type.size()
			steps = append(steps, compStep(a.Type, off, a.Shift, at))
			at++
		}
	}
	return &Parser{desc: desc, steps: steps, comps: at}, nil
}

func compStep(t CompType, off, shift, at int) vstep {
	scale := float32(1) / float32(uint64(1)<<shift)
	switch t {
	case U8:
		return func(rec []byte, out []float32) {
			out[at] = float32(rec[off]) * scale
		}
	case S8:
		return func(rec []byte, out []float32) {
			out[at] = float32(int8(rec[off])) * scale
		}
	case U16:
		return func(rec []byte, out []float32) {
			out[at] = float32(binary.BigEndian.Uint16(rec[off:])) * scale
		}
	case S16:
		return func(rec []byte, out []float32) {
			out[at] = float32(int16(binary.BigEndian.Uint16(rec[off:]))) * scale
		}
	}
	return func(rec []byte, out []float32) {
		out[at] = math.Float32frombits(binary.BigEndian.Uint32(rec[off:]))
	}
}

// Desc returns the descriptor the parser was compiled from.
func (p *Parser) Desc() Descriptor {
	return p.desc
}

// Steps reports the step count, used for cache cost accounting.
func (p *Parser) Steps() int {
	return len(p.steps)
}

// Run parses every complete record in src. Buffer exhaustion is the only
// stop condition; a trailing partial record is left unconsumed.
func (p *Parser) Run(src []byte) []float32 {
	n := len(src) / p.desc.Stride
	out := make([]float32, 0, n*p.comps)
	rec := make([]float32, p.comps)
	for i := 0; i < n; i++ {
		raw := src[i*p.desc.Stride:]
		for _, s := range p.steps {
			s(raw, rec)
		}
		out = append(out, rec...)
	}
	return out
}

// Reference is the non-compiled interpretation of a descriptor, used as the
// determinism oracle: Compile(d).Run(src) must equal Reference(d, src).
func Reference(desc Descriptor, src []byte) ([]float32, error) {
	if err := desc.validate(); err != nil {
		return nil, err
	}
	var out []float32
	for len(src) >= desc.Stride {
		rec := src[:desc.Stride]
		for i := 0; i < desc.NumAttrs; i++ {
			a := desc.Attrs[i]
			for c := 0; c < a.Count; c++ {
				off := a.Offset + c*a.Type.size()
				var v float32
				switch a.Type {
				case U8:
					v = float32(rec[off])
				case S8:
					v = float32(int8(rec[off]))
				case U16:
					v = float32(binary.BigEndian.Uint16(rec[off:]))
				case S16:
					v = float32(int16(binary.BigEndian.Uint16(rec[off:])))
				case F32:
					out = append(out, math.Float32frombits(binary.BigEndian.Uint32(rec[off:])))
					continue
				}
				out = append(out, v/float32(uint64(1)<<a.Shift))
			}
		}
		src = src[desc.Stride:]
	}
	return out, nil
}
