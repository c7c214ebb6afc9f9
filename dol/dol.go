// Package dol parses GameCube DOL executable images: up to 7 text and 11
// data sections, a bss range, and an entry point.
package dol

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/flipper-emu/flipper/mem"
)

const (
	numText    = 7
	numData    = 11
	headerSize = 0x100

	offSectionOffsets = 0x00
	offSectionAddrs   = 0x48
	offSectionSizes   = 0x90
	offBssAddr        = 0xd8
	offBssSize        = 0xdc
	offEntry          = 0xe0
)

// Section is one loadable section.
type Section struct {
	Offset uint32 // file offset
	Addr   uint32 // guest load address
	Size   uint32
	Text   bool
}

// Image is a parsed DOL file.
type Image struct {
	Sections []Section
	BssAddr  uint32
	BssSize  uint32
	Entry    uint32

	raw []byte
}

// Parse validates the header and collects the populated sections.
func Parse(data []byte) (*Image, error) {
	if len(data) < headerSize {
		return nil, errors.Errorf("dol: %d bytes is too short for a header", len(data))
	}
	u32 := func(off int) uint32 {
		return binary.BigEndian.Uint32(data[off:])
	}
	img := &Image{
		BssAddr: u32(offBssAddr),
		BssSize: u32(offBssSize),
		Entry:   u32(offEntry),
		raw:     data,
	}
	for i := 0; i < numText+numData; i++ {
		s := Section{
			Offset: u32(offSectionOffsets + 4*i),
			Addr:   u32(offSectionAddrs + 4*i),
			Size:   u32(offSectionSizes + 4*i),
			Text:   i < numText,
		}
		if s.Size == 0 {
			continue
		}
		end := uint64(s.Offset) + uint64(s.Size)
		if end > uint64(len(data)) {
			return nil, errors.Errorf("dol: section %d extends past end of file", i)
		}
		img.Sections = append(img.Sections, s)
	}
	if len(img.Sections) == 0 {
		return nil, errors.New("dol: no sections")
	}
	return img, nil
}

// Load writes every section into the bus and zeroes bss. The caller maps
// guest RAM first; a section landing outside mapped memory is an error.
func (img *Image) Load(bus *mem.Bus) error {
	for i, s := range img.Sections {
		body := img.raw[s.Offset : s.Offset+s.Size]
		if err := bus.Write(s.Addr, body); err != nil {
			return errors.Wrapf(err, "dol: writing section %d at %#x", i, s.Addr)
		}
	}
	if img.BssSize > 0 {
		if err := bus.Write(img.BssAddr, make([]byte, img.BssSize)); err != nil {
			return errors.Wrapf(err, "dol: zeroing bss at %#x", img.BssAddr)
		}
	}
	return nil
}
