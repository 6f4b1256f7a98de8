package allocator

import (
	"fmt"
	"iter"
	"net/netip"
	"slices"
)

// Range is an inclusive span of IPv4 addresses.
type Range struct {
	Start netip.Addr
	End   netip.Addr
}

func (r Range) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	return r.Start.Compare(addr) <= 0 && addr.Compare(r.End) <= 0
}

func (r Range) Size() int {
	s, e := r.Start.As4(), r.End.As4()
	start := uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
	end := uint32(e[0])<<24 | uint32(e[1])<<16 | uint32(e[2])<<8 | uint32(e[3])
	return int(end-start) + 1
}

func (r Range) String() string {
	if r.Start == r.End {
		return r.Start.String()
	}
	return r.Start.String() + "-" + r.End.String()
}

func (r Range) overlaps(o Range) bool {
	return r.Start.Compare(o.End) <= 0 && o.Start.Compare(r.End) <= 0
}

// Pool is an ordered list of ranges minus exclusions. It is immutable once
// built and safe for concurrent reads.
type Pool struct {
	name     string
	network  netip.Prefix
	ranges   []Range
	excluded map[netip.Addr]bool
}

func NewPool(name string, network netip.Prefix, ranges []Range, exclude []netip.Addr) (*Pool, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("pool %s: %w: no ranges", name, ErrInvalidRange)
	}

	p := &Pool{
		name:     name,
		network:  network.Masked(),
		excluded: make(map[netip.Addr]bool, len(exclude)),
	}

	for _, r := range ranges {
		r = Range{Start: r.Start.Unmap(), End: r.End.Unmap()}
		if !r.Start.Is4() || !r.End.Is4() {
			return nil, fmt.Errorf("pool %s: %w: %s is not IPv4", name, ErrInvalidRange, r)
		}
		if r.Start.Compare(r.End) > 0 {
			return nil, fmt.Errorf("pool %s: %w: %s starts after it ends", name, ErrInvalidRange, r)
		}
		if p.network.IsValid() && (!p.network.Contains(r.Start) || !p.network.Contains(r.End)) {
			return nil, fmt.Errorf("pool %s: %w: %s outside %s", name, ErrInvalidRange, r, p.network)
		}
		for _, existing := range p.ranges {
			if existing.overlaps(r) {
				return nil, fmt.Errorf("pool %s: %w: %s overlaps %s", name, ErrInvalidRange, r, existing)
			}
		}
		p.ranges = append(p.ranges, r)
	}

	for _, addr := range exclude {
		p.excluded[addr.Unmap()] = true
	}

	return p, nil
}

func (p *Pool) Name() string { return p.name }

func (p *Pool) Network() netip.Prefix { return p.network }

func (p *Pool) Ranges() []Range { return slices.Clone(p.ranges) }

// Contains reports whether addr is allocatable from the pool.
func (p *Pool) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	if p.excluded[addr] {
		return false
	}
	for _, r := range p.ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

// OnNetwork reports whether addr belongs to the pool's subnet. Without a
// configured network it falls back to Contains.
func (p *Pool) OnNetwork(addr netip.Addr) bool {
	if p.network.IsValid() {
		return p.network.Contains(addr.Unmap())
	}
	return p.Contains(addr)
}

// All yields allocatable addresses in pool order.
func (p *Pool) All() iter.Seq[netip.Addr] {
	return func(yield func(netip.Addr) bool) {
		for _, r := range p.ranges {
			for addr := r.Start; addr.IsValid() && addr.Compare(r.End) <= 0; addr = addr.Next() {
				if p.excluded[addr] {
					continue
				}
				if !yield(addr) {
					return
				}
			}
		}
	}
}

// First returns the first address in pool order accepted by free.
func (p *Pool) First(free func(netip.Addr) bool) (netip.Addr, error) {
	for addr := range p.All() {
		if free(addr) {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrPoolExhausted
}

func (p *Pool) Size() int {
	n := 0
	for _, r := range p.ranges {
		n += r.Size()
		for addr := range p.excluded {
			if r.Contains(addr) {
				n--
			}
		}
	}
	return n
}
