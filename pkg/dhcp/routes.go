package dhcp

import (
	"fmt"
	"net/netip"
)

// ClasslessRoute is one RFC 3442 option 121 entry.
type ClasslessRoute struct {
	Destination netip.Prefix
	NextHop     netip.Addr
}

func (r ClasslessRoute) String() string {
	return fmt.Sprintf("%s via %s", r.Destination, r.NextHop)
}

func EncodeClasslessRoutes(routes []ClasslessRoute) []byte {
	var data []byte
	for _, route := range routes {
		ones := route.Destination.Bits()
		data = append(data, byte(ones))
		dst := route.Destination.Masked().Addr().As4()
		data = append(data, dst[:(ones+7)/8]...)
		hop := route.NextHop.Unmap().As4()
		data = append(data, hop[:]...)
	}
	return data
}

func DecodeClasslessRoutes(data []byte) ([]ClasslessRoute, error) {
	var routes []ClasslessRoute
	for i := 0; i < len(data); {
		ones := int(data[i])
		if ones > 32 {
			return nil, invalidOption(OptionClasslessStaticRoute, "prefix length %d", ones)
		}
		significant := (ones + 7) / 8
		if i+1+significant+4 > len(data) {
			return nil, invalidOption(OptionClasslessStaticRoute, "route at %d truncated", i)
		}

		var dst [4]byte
		copy(dst[:], data[i+1:i+1+significant])
		hop := [4]byte(data[i+1+significant : i+1+significant+4])

		routes = append(routes, ClasslessRoute{
			Destination: netip.PrefixFrom(netip.AddrFrom4(dst), ones),
			NextHop:     netip.AddrFrom4(hop),
		})
		i += 1 + significant + 4
	}
	if len(routes) == 0 {
		return nil, invalidOption(OptionClasslessStaticRoute, "empty")
	}
	return routes, nil
}
