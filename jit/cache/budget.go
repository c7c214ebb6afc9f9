package cache

import "sync/atomic"

// Budget is the cost account shared by the translation cache and the vertex
// parser cache. Cost is measured in lowered steps, a rough proxy for the
// memory a unit holds live.
type Budget struct {
	max  int64
	used int64
}

func NewBudget(max int64) *Budget {
	return &Budget{max: max}
}

func (b *Budget) Reserve(n int64) {
	atomic.AddInt64(&b.used, n)
}

func (b *Budget) Release(n int64) {
	atomic.AddInt64(&b.used, -n)
}

func (b *Budget) Over() bool {
	return atomic.LoadInt64(&b.used) > b.max
}

func (b *Budget) Used() int64 {
	return atomic.LoadInt64(&b.used)
}

func (b *Budget) Max() int64 {
	return b.max
}
