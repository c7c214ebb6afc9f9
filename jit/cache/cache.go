// Package cache holds compiled translation units keyed by guest address and
// keeps them honest against self-modifying code. A unit is valid only while
// the guest bytes it was compiled from still hash to its fingerprint.
package cache

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/flipper-emu/flipper/jit/backend"
)

const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// Source is the read-only view lookups revalidate against.
type Source interface {
	Fetch(addr uint32, p []byte) error
}

// Fingerprint hashes the guest bytes a unit covers.
func Fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Unit is one compiled translation unit. The cache exclusively owns the Code
// handle; callers may run a Unit only between Pin and Unpin.
type Unit struct {
	Start       uint32
	Length      uint32
	Fingerprint uint64
	Code        *backend.Code

	cost int64
	pins int
	elem *list.Element
	buf  []byte // scratch for revalidation reads
}

// Overlaps reports whether the unit covers any byte of [addr, addr+size).
func (u *Unit) Overlaps(addr, size uint32) bool {
	return addr < u.Start+u.Length && u.Start < addr+size
}

func (u *Unit) firstPage() uint32 { return u.Start >> PageShift }
func (u *Unit) lastPage() uint32  { return (u.Start + u.Length - 1) >> PageShift }

// Stats are cumulative cache counters, exposed for the trace facility.
type Stats struct {
	Hits          uint64
	Misses        uint64
	Stale         uint64
	Invalidations uint64
	Evictions     uint64
}

// Cache is the translation unit index. Safe for concurrent use; guest writes
// arriving from any thread funnel through InvalidateRange.
type Cache struct {
	mu     sync.Mutex
	budget *Budget
	units  map[uint32]*Unit
	// per-page unit counters and buckets. Writes check one counter in the
	// common case and only walk a bucket when it is nonzero.
	count map[uint32]int
	pages map[uint32][]*Unit
	lru   *list.List // front is most recently executed
	stats Stats
}

func New(budget *Budget) *Cache {
	return &Cache{
		budget: budget,
		units:  make(map[uint32]*Unit),
		count:  make(map[uint32]int),
		pages:  make(map[uint32][]*Unit),
		lru:    list.New(),
	}
}

// Lookup returns the unit starting at addr, or nil on a miss. A hit is
// revalidated against src: if the covered bytes no longer hash to the unit's
// fingerprint the unit is dropped and the lookup misses.
func (c *Cache) Lookup(addr uint32, src Source) *Unit {
	c.mu.Lock()
	defer c.mu.Unlock()
	u := c.units[addr]
	if u == nil {
		c.stats.Misses++
		return nil
	}
	if cap(u.buf) < int(u.Length) {
		u.buf = make([]byte, u.Length)
	}
	buf := u.buf[:u.Length]
	if err := src.Fetch(u.Start, buf); err != nil || Fingerprint(buf) != u.Fingerprint {
		c.stats.Stale++
		c.remove(u)
		return nil
	}
	c.stats.Hits++
	c.lru.MoveToFront(u.elem)
	return u
}

// Insert publishes a compiled unit. This is the single publication point: a
// unit is visible to lookups only after Insert returns. An existing unit at
// the same start address is replaced.
func (c *Cache) Insert(u *Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.units[u.Start]; old != nil {
		c.remove(old)
	}
	u.cost = int64(u.Code.Steps())
	c.units[u.Start] = u
	u.elem = c.lru.PushFront(u)
	for p := u.firstPage(); p <= u.lastPage(); p++ {
		c.count[p]++
		c.pages[p] = append(c.pages[p], u)
	}
	c.budget.Reserve(u.cost)
}

// InvalidateRange drops every unit overlapping the written range. Called from
// the bus write path, possibly from a thread that is not the dispatcher.
func (c *Cache) InvalidateRange(addr, size uint32) {
	if size == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	first := addr >> PageShift
	last := (addr + size - 1) >> PageShift
	for p := first; p <= last; p++ {
		if c.count[p] == 0 {
			continue
		}
		// remove mutates the bucket, so collect first
		var hit []*Unit
		for _, u := range c.pages[p] {
			if u.Overlaps(addr, size) {
				hit = append(hit, u)
			}
		}
		for _, u := range hit {
			c.stats.Invalidations++
			c.remove(u)
		}
	}
}

// Pin marks the unit as currently executing; pinned units survive eviction
// (but not invalidation, which only unlinks them from the index).
func (c *Cache) Pin(u *Unit) {
	c.mu.Lock()
	u.pins++
	c.mu.Unlock()
}

func (c *Cache) Unpin(u *Unit) {
	c.mu.Lock()
	u.pins--
	c.mu.Unlock()
}

// EvictToBudget removes least-recently-executed units until the shared budget
// is satisfied. Pinned units are skipped.
func (c *Cache) EvictToBudget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.lru.Back()
	for c.budget.Over() && e != nil {
		u := e.Value.(*Unit)
		e = e.Prev()
		if u.pins > 0 {
			continue
		}
		c.stats.Evictions++
		c.remove(u)
	}
}

// Clear drops every unit.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, u := range c.units {
		c.budget.Release(u.cost)
	}
	c.units = make(map[uint32]*Unit)
	c.count = make(map[uint32]int)
	c.pages = make(map[uint32][]*Unit)
	c.lru.Init()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.units)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// remove unlinks a unit from every index. Caller holds the lock.
func (c *Cache) remove(u *Unit) {
	delete(c.units, u.Start)
	c.lru.Remove(u.elem)
	for p := u.firstPage(); p <= u.lastPage(); p++ {
		bucket := c.pages[p]
		for i, v := range bucket {
			if v == u {
				bucket[i] = bucket[len(bucket)-1]
				c.pages[p] = bucket[:len(bucket)-1]
				break
			}
		}
		if c.count[p]--; c.count[p] == 0 {
			delete(c.count, p)
			delete(c.pages, p)
		}
	}
	c.budget.Release(u.cost)
}
