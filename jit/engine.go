// Package jit is the lookup-or-compile pipeline: it owns the front-end, the
// code-generation backend, and the translation cache, and keeps the cache
// coherent with guest writes.
package jit

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/flipper-emu/flipper/jit/backend"
	"github.com/flipper-emu/flipper/jit/cache"
	"github.com/flipper-emu/flipper/jit/frontend"
	"github.com/flipper-emu/flipper/jit/ir"
	"github.com/flipper-emu/flipper/mem"
)

type Config struct {
	MaxIns int
	// BudgetMax bounds the combined cost of cached translation and vertex
	// parser units, in lowered steps.
	BudgetMax int64
	// Speculative enables the background compile worker for static branch
	// targets.
	Speculative bool
}

const DefaultBudgetMax = 1 << 20

type Engine struct {
	fe     *frontend.Frontend
	be     backend.Backend
	cache  *cache.Cache
	budget *cache.Budget
	bus    *mem.Bus

	mu       sync.Mutex
	boundary func(uint32) bool
	// gen counts boundary changes. A speculative compile started under an
	// older generation is discarded at publication instead of inserted.
	gen uint64

	spec chan uint32
	quit chan struct{}
	wg   sync.WaitGroup
}

// New wires an engine to the bus. Guest writes invalidate overlapping cached
// units before the write completes.
func New(bus *mem.Bus, be backend.Backend, cfg Config) *Engine {
	if cfg.BudgetMax <= 0 {
		cfg.BudgetMax = DefaultBudgetMax
	}
	budget := cache.NewBudget(cfg.BudgetMax)
	e := &Engine{
		fe:     frontend.New(frontend.Config{MaxIns: cfg.MaxIns}),
		be:     be,
		cache:  cache.New(budget),
		budget: budget,
		bus:    bus,
		quit:   make(chan struct{}),
	}
	bus.Observe(e.cache.InvalidateRange)
	if cfg.Speculative {
		e.spec = make(chan uint32, 64)
		e.wg.Add(1)
		go e.specWorker()
	}
	return e
}

func (e *Engine) Cache() *cache.Cache {
	return e.cache
}

func (e *Engine) Budget() *cache.Budget {
	return e.budget
}

// SetBoundary installs the forced unit boundary predicate (the dispatcher's
// breakpoint set) and drops every cached unit: a unit compiled under the old
// predicate could run through a new boundary.
func (e *Engine) SetBoundary(f func(uint32) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.boundary = f
	e.gen++
	e.cache.Clear()
}

// BoundaryChanged drops every cached unit after the set behind the boundary
// predicate mutates. Background compiles already in flight are discarded when
// they try to publish.
func (e *Engine) BoundaryChanged() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.cache.Clear()
}

func (e *Engine) boundaryGen() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// publishSpeculative inserts a background-compiled unit, unless the boundary
// generation moved while it was being built. Holding the lock across the
// insert orders it against SetBoundary's clear: a stale unit either lands
// before the clear and is dropped by it, or is refused here.
func (e *Engine) publishSpeculative(u *cache.Unit, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return false
	}
	e.cache.Insert(u)
	return true
}

// Get returns the valid unit starting at addr, compiling one on a miss.
// Insertion into the cache is the publication point; the returned unit is
// already visible to other threads.
func (e *Engine) Get(addr uint32) (*cache.Unit, error) {
	if u := e.cache.Lookup(addr, e.bus); u != nil {
		return u, nil
	}
	u, err := e.compile(addr)
	if err != nil {
		return nil, err
	}
	e.cache.Insert(u)
	e.speculate(u)
	return u, nil
}

// compile builds and lowers one unit. Codegen failure degrades the unit to a
// fallback unit rather than failing the pipeline; only a fetch fault at the
// start address is an error (the dispatcher turns it into a guest ISI).
func (e *Engine) compile(addr uint32) (*cache.Unit, error) {
	e.mu.Lock()
	boundary := e.boundary
	e.mu.Unlock()

	seq, err := e.fe.Build(e.bus, addr, boundary)
	if err != nil {
		return nil, err
	}
	ir.EliminateDeadFlags(seq)

	code, err := e.be.Lower(seq)
	if err != nil {
		seq = fallbackSequence(addr)
		if code, err = e.be.Lower(seq); err != nil {
			return nil, errors.Wrap(err, "lowering fallback unit")
		}
	}

	length := seq.Len()
	if length == 0 {
		// fallback units still cover their instruction word so that
		// rewriting it in place invalidates them
		length = 4
	}
	buf := make([]byte, length)
	if err := e.bus.Fetch(addr, buf); err != nil {
		return nil, &frontend.FetchError{Addr: addr}
	}
	return &cache.Unit{
		Start:       addr,
		Length:      length,
		Fingerprint: cache.Fingerprint(buf),
		Code:        code,
	}, nil
}

// fallbackSequence is the degraded unit used when codegen refuses a sequence
// the front-end accepted.
func fallbackSequence(addr uint32) *ir.Sequence {
	return &ir.Sequence{
		Start: addr,
		Ops:   []ir.Op{{Kind: ir.KFallback, PC: addr, Imm: addr}},
		Exits: []ir.ExitDesc{{Kind: ir.ExitFallback, Target: addr}},
	}
}

// speculate queues the unit's static exit targets for background compilation.
func (e *Engine) speculate(u *cache.Unit) {
	if e.spec == nil {
		return
	}
	for _, x := range u.Code.Exits {
		if x.Target == 0 {
			continue
		}
		if x.Kind != ir.ExitBranch && x.Kind != ir.ExitFallthrough {
			continue
		}
		select {
		case e.spec <- x.Target:
		default:
			// queue full; demand compilation will catch up
		}
	}
}

func (e *Engine) specWorker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case addr := <-e.spec:
			if e.cache.Lookup(addr, e.bus) != nil {
				continue
			}
			gen := e.boundaryGen()
			u, err := e.compile(addr)
			if err != nil {
				continue
			}
			if e.publishSpeculative(u, gen) {
				e.cache.EvictToBudget()
			}
		}
	}
}

// Close stops the speculative worker and drops the cache.
func (e *Engine) Close() {
	close(e.quit)
	e.wg.Wait()
	e.cache.Clear()
}
