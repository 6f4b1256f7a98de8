package allocator

import (
	"fmt"
	"net/netip"
	"strings"

	"inet.af/netaddr"
)

// ParsePool builds a pool from configuration strings. With no ranges the
// pool spans the usable hosts of network.
func ParsePool(name, network string, ranges, exclude []string) (*Pool, error) {
	var prefix netip.Prefix
	var parsed []Range

	if network != "" {
		np, err := netaddr.ParseIPPrefix(network)
		if err != nil {
			return nil, fmt.Errorf("pool %s: invalid network: %w", name, err)
		}
		prefix, err = netip.ParsePrefix(np.Masked().String())
		if err != nil {
			return nil, fmt.Errorf("pool %s: invalid network: %w", name, err)
		}
		if len(ranges) == 0 {
			parsed = append(parsed, hostRange(np))
		}
	}

	for _, s := range ranges {
		r, err := ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", name, err)
		}
		parsed = append(parsed, r)
	}

	var excludeAddrs []netip.Addr
	for _, s := range exclude {
		r, err := ParseRange(s)
		if err != nil {
			return nil, fmt.Errorf("pool %s: exclude: %w", name, err)
		}
		for addr := r.Start; addr.IsValid() && addr.Compare(r.End) <= 0; addr = addr.Next() {
			excludeAddrs = append(excludeAddrs, addr)
		}
	}

	return NewPool(name, prefix, parsed, excludeAddrs)
}

// ParseRange accepts "a-b", a single address or a prefix. A prefix yields
// its usable host addresses.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)

	if strings.Contains(s, "/") {
		np, err := netaddr.ParseIPPrefix(s)
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
		}
		return hostRange(np), nil
	}

	if idx := strings.Index(s, "-"); idx >= 0 {
		start, err := netip.ParseAddr(strings.TrimSpace(s[:idx]))
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
		}
		end, err := netip.ParseAddr(strings.TrimSpace(s[idx+1:]))
		if err != nil {
			return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
		}
		return Range{Start: start, End: end}, nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil {
		return Range{}, fmt.Errorf("%w: %q: %v", ErrInvalidRange, s, err)
	}
	return Range{Start: addr, End: addr}, nil
}

func hostRange(np netaddr.IPPrefix) Range {
	rng := np.Masked().Range()
	from, to := rng.From(), rng.To()
	if np.Bits() < 31 {
		from, to = from.Next(), to.Prior()
	}
	return Range{
		Start: netip.MustParseAddr(from.String()),
		End:   netip.MustParseAddr(to.String()),
	}
}
