package mem

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Access kinds reported in faults and to write observers.
const (
	AccessRead = iota
	AccessWrite
	AccessFetch
)

// FaultError is a guest memory fault. The dispatcher maps it to a guest DSI
// or ISI exception; it is never a host error.
type FaultError struct {
	Addr   uint32
	Size   int
	Access int
}

func (f *FaultError) Error() string {
	kind := "read"
	switch f.Access {
	case AccessWrite:
		kind = "write"
	case AccessFetch:
		kind = "fetch"
	}
	return fmt.Sprintf("unmapped %s at %#x(%d)", kind, f.Addr, f.Size)
}

// WriteObserver is notified of every guest write before the write is
// considered complete from the emulated hardware's perspective. The
// translation cache registers one to invalidate stale units; observers may be
// called from any thread that writes (CPU loop or DMA paths).
type WriteObserver func(addr, size uint32)

// MMIOHandler services reads and writes for a device region. Side effects are
// resolved inside the handler; the caller sees plain values.
type MMIOHandler interface {
	MMIORead(addr uint32, size int) uint32
	MMIOWrite(addr uint32, size int, val uint32)
}

type mmioRegion struct {
	addr, size uint32
	handler    MMIOHandler
}

// Bus is the flat 32-bit big-endian guest address space: RAM regions, MMIO
// regions, and write observation. Mapping and observer registration take the
// lock; the data path is lock-free over the sorted page list, which only
// changes during setup.
type Bus struct {
	mu        sync.Mutex
	pages     Pages
	mmio      []mmioRegion
	observers []WriteObserver
}

func NewBus() *Bus {
	return &Bus{}
}

// Map adds a zeroed RAM region.
func (b *Bus) Map(addr, size uint32, desc string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.pages {
		if p.Overlaps(addr, size) {
			return errors.Errorf("mapping %#x(%#x) overlaps %s", addr, size, p)
		}
	}
	b.pages = append(b.pages, &Page{Addr: addr, Size: size, Data: make([]byte, size), Desc: desc})
	sort.Sort(b.pages)
	return nil
}

// MapMMIO routes the region to a device handler.
func (b *Bus) MapMMIO(addr, size uint32, h MMIOHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mmio = append(b.mmio, mmioRegion{addr, size, h})
}

// Observe registers a write observer. Registration order is notification
// order.
func (b *Bus) Observe(o WriteObserver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Mappings returns the RAM regions, for savestates and the monitor.
func (b *Bus) Mappings() Pages {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(Pages, len(b.pages))
	copy(out, b.pages)
	return out
}

func (b *Bus) mmioFor(addr uint32) *mmioRegion {
	for i := range b.mmio {
		r := &b.mmio[i]
		if addr >= r.addr && addr-r.addr < r.size {
			return r
		}
	}
	return nil
}

func (b *Bus) notify(addr, size uint32) {
	for _, o := range b.observers {
		o(addr, size)
	}
}

// Read copies guest bytes into p, crossing region boundaries as needed.
func (b *Bus) Read(addr uint32, p []byte) error {
	return b.access(addr, p, AccessRead)
}

// Fetch reads instruction bytes. Identical to Read at this layer but faults
// surface as ISI rather than DSI.
func (b *Bus) Fetch(addr uint32, p []byte) error {
	return b.access(addr, p, AccessFetch)
}

func (b *Bus) access(addr uint32, p []byte, access int) error {
	i := b.pages.bsearch(addr)
	if i < 0 {
		return &FaultError{Addr: addr, Size: len(p), Access: access}
	}
	for _, pg := range b.pages[i:] {
		if len(p) == 0 {
			return nil
		}
		if !pg.Contains(addr) {
			return &FaultError{Addr: addr, Size: len(p), Access: access}
		}
		o := addr - pg.Addr
		n := copy(p, pg.Data[o:])
		addr, p = addr+uint32(n), p[n:]
	}
	if len(p) != 0 {
		return &FaultError{Addr: addr, Size: len(p), Access: access}
	}
	return nil
}

// Write copies p into guest memory and notifies observers. The notification
// happens before Write returns, so a racing lookup can never see a stale
// translation once the triggering write completes.
func (b *Bus) Write(addr uint32, p []byte) error {
	i := b.pages.bsearch(addr)
	if i < 0 {
		return &FaultError{Addr: addr, Size: len(p), Access: AccessWrite}
	}
	start, total := addr, uint32(len(p))
	for _, pg := range b.pages[i:] {
		if len(p) == 0 {
			break
		}
		if !pg.Contains(addr) {
			return &FaultError{Addr: addr, Size: len(p), Access: AccessWrite}
		}
		o := addr - pg.Addr
		n := copy(pg.Data[o:], p)
		addr, p = addr+uint32(n), p[n:]
	}
	if len(p) != 0 {
		return &FaultError{Addr: addr, Size: len(p), Access: AccessWrite}
	}
	b.notify(start, total)
	return nil
}

// ReadUint reads a 1, 2, 4 or 8 byte big-endian value, consulting MMIO first.
func (b *Bus) ReadUint(addr uint32, size int) (uint64, error) {
	if r := b.mmioFor(addr); r != nil && size <= 4 {
		return uint64(r.handler.MMIORead(addr, size)), nil
	}
	var buf [8]byte
	if err := b.Read(addr, buf[:size]); err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(buf[:2])), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(buf[:4])), nil
	case 8:
		return binary.BigEndian.Uint64(buf[:8]), nil
	}
	return 0, errors.Errorf("bad read size %d", size)
}

// WriteUint writes a big-endian value, consulting MMIO first.
func (b *Bus) WriteUint(addr uint32, size int, val uint64) error {
	if r := b.mmioFor(addr); r != nil && size <= 4 {
		r.handler.MMIOWrite(addr, size, uint32(val))
		b.notify(addr, uint32(size))
		return nil
	}
	var buf [8]byte
	switch size {
	case 1:
		buf[0] = byte(val)
	case 2:
		binary.BigEndian.PutUint16(buf[:2], uint16(val))
	case 4:
		binary.BigEndian.PutUint32(buf[:4], uint32(val))
	case 8:
		binary.BigEndian.PutUint64(buf[:8], val)
	default:
		return errors.Errorf("bad write size %d", size)
	}
	return b.Write(addr, buf[:size])
}

// ReadU32 is the hot path for instruction fetch and word loads.
func (b *Bus) ReadU32(addr uint32) (uint32, error) {
	v, err := b.ReadUint(addr, 4)
	return uint32(v), err
}

func (b *Bus) ReadF64(addr uint32) (float64, error) {
	v, err := b.ReadUint(addr, 8)
	return math.Float64frombits(v), err
}

func (b *Bus) WriteF64(addr uint32, f float64) error {
	return b.WriteUint(addr, 8, math.Float64bits(f))
}

func (b *Bus) ReadF32(addr uint32) (float32, error) {
	v, err := b.ReadUint(addr, 4)
	return math.Float32frombits(uint32(v)), err
}

func (b *Bus) WriteF32(addr uint32, f float32) error {
	return b.WriteUint(addr, 4, uint64(math.Float32bits(f)))
}
