package mem

import (
	"fmt"
	"strings"
)

// Page is one contiguous mapped region of guest memory.
type Page struct {
	Addr uint32
	Size uint32
	Data []byte

	Desc string
}

func (p *Page) String() string {
	desc := fmt.Sprintf("0x%08x-0x%08x", p.Addr, p.Addr+p.Size)
	if p.Desc != "" {
		desc += fmt.Sprintf(" [%s]", p.Desc)
	}
	return desc
}

func (p *Page) Contains(addr uint32) bool {
	return addr >= p.Addr && addr-p.Addr < p.Size
}

// Intersect clips (addr, size) against the page, returning the overlap.
func (p *Page) Intersect(addr, size uint32) (uint32, uint32, bool) {
	start := p.Addr
	end := p.Addr + p.Size
	e2 := addr + size
	if end > e2 {
		end = e2
	}
	if start < addr {
		start = addr
	}
	return start, end - start, end > start
}

func (p *Page) Overlaps(addr, size uint32) bool {
	_, _, ok := p.Intersect(addr, size)
	return ok
}

type Pages []*Page

func (p Pages) Len() int           { return len(p) }
func (p Pages) Swap(i, j int)      { p[i], p[j] = p[j], p[i] }
func (p Pages) Less(i, j int) bool { return p[i].Addr < p[j].Addr }

func (p Pages) String() string {
	s := make([]string, len(p))
	for i, v := range p {
		s[i] = v.String()
	}
	return strings.Join(s, "\n")
}

// bsearch finds the index of the region containing addr, or -1.
func (p Pages) bsearch(addr uint32) int {
	l := 0
	r := len(p) - 1
	for l <= r {
		mid := (l + r) / 2
		e := p[mid]
		if addr >= e.Addr {
			if addr-e.Addr < e.Size {
				return mid
			}
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	return -1
}

func (p Pages) Find(addr uint32) *Page {
	if i := p.bsearch(addr); i >= 0 {
		return p[i]
	}
	return nil
}
