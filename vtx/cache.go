package vtx

import (
	"container/list"
	"sync"

	"github.com/flipper-emu/flipper/jit/cache"
)

// Cache holds compiled parser units keyed by descriptor equality. It draws
// on the same budget as the translation cache; since parsers depend only on
// their descriptor there is no write invalidation, eviction is the only way
// a parser leaves.
type Cache struct {
	mu      sync.Mutex
	budget  *cache.Budget
	parsers map[Descriptor]*list.Element
	lru     *list.List
	hits    uint64
	misses  uint64
}

type centry struct {
	parser *Parser
	cost   int64
}

func NewCache(budget *cache.Budget) *Cache {
	return &Cache{
		budget:  budget,
		parsers: make(map[Descriptor]*list.Element),
		lru:     list.New(),
	}
}

// Get returns the parser for desc, compiling it on first use. Two calls with
// equal descriptors return the same parser for as long as it stays cached.
func (c *Cache) Get(desc Descriptor) (*Parser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.parsers[desc]; ok {
		c.hits++
		c.lru.MoveToFront(e)
		return e.Value.(*centry).parser, nil
	}
	c.misses++
	p, err := Compile(desc)
	if err != nil {
		return nil, err
	}
	ent := &centry{parser: p, cost: int64(p.Steps())}
	c.parsers[desc] = c.lru.PushFront(ent)
	c.budget.Reserve(ent.cost)
	c.evict(ent)
	return p, nil
}

// evict drops least-recently-used parsers until the budget is satisfied,
// sparing the entry just inserted.
func (c *Cache) evict(keep *centry) {
	e := c.lru.Back()
	for c.budget.Over() && e != nil {
		ent := e.Value.(*centry)
		prev := e.Prev()
		if ent != keep {
			delete(c.parsers, ent.parser.desc)
			c.lru.Remove(e)
			c.budget.Release(ent.cost)
		}
		e = prev
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.parsers)
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Clear drops every parser.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lru.Front(); e != nil; e = e.Next() {
		c.budget.Release(e.Value.(*centry).cost)
	}
	c.parsers = make(map[Descriptor]*list.Element)
	c.lru.Init()
}
