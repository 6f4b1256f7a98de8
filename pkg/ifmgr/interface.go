package ifmgr

import (
	"net"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

type Interface struct {
	Index         int
	Name          string
	Namespace     string
	AdminUp       bool
	LinkUp        bool
	MTU           int
	MAC           net.HardwareAddr
	IPv4Addresses []netip.Prefix
}

func (i *Interface) HasIPv4(addr netip.Addr) bool {
	for _, p := range i.IPv4Addresses {
		if p.Addr() == addr {
			return true
		}
	}
	return false
}

// PrimaryIPv4 is the first IPv4 address configured on the interface.
func (i *Interface) PrimaryIPv4() (netip.Addr, bool) {
	if len(i.IPv4Addresses) == 0 {
		return netip.Addr{}, false
	}
	return i.IPv4Addresses[0].Addr(), true
}

// Binding is what a client lease installs on the host.
type Binding struct {
	Prefix    netip.Prefix
	Broadcast netip.Addr
	Routers   []netip.Addr
	// Routes from option 121 replace the router option (RFC 3442).
	Routes   []dhcp.ClasslessRoute
	Lifetime time.Duration
}

func BindingFromResolved(res *dhcp.ResolvedDHCPv4, lifetime time.Duration) Binding {
	return Binding{
		Prefix:    res.Prefix(),
		Broadcast: res.Broadcast,
		Routers:   res.Routers,
		Routes:    res.ClasslessRoutes,
		Lifetime:  lifetime,
	}
}
