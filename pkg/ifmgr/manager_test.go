package ifmgr

import (
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

type fakeNetlink struct {
	links  []netlink.Link
	addrs  map[int][]netlink.Addr
	routes []netlink.Route
}

func newFakeNetlink() *fakeNetlink {
	eth0 := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{
		Index:        2,
		Name:         "eth0",
		MTU:          1500,
		HardwareAddr: net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01},
		Flags:        net.FlagUp,
		OperState:    netlink.OperUp,
	}}
	eth1 := &netlink.Dummy{LinkAttrs: netlink.LinkAttrs{Index: 3, Name: "eth1", MTU: 9000}}
	return &fakeNetlink{
		links: []netlink.Link{eth1, eth0},
		addrs: map[int][]netlink.Addr{
			2: {{IPNet: &net.IPNet{IP: net.IPv4(10, 0, 0, 1).To4(), Mask: net.CIDRMask(24, 32)}}},
		},
	}
}

func (f *fakeNetlink) LinkByName(name string) (netlink.Link, error) {
	for _, l := range f.links {
		if l.Attrs().Name == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("link %s not found", name)
}

func (f *fakeNetlink) LinkList() ([]netlink.Link, error) { return f.links, nil }

func (f *fakeNetlink) AddrList(link netlink.Link, _ int) ([]netlink.Addr, error) {
	return f.addrs[link.Attrs().Index], nil
}

func (f *fakeNetlink) AddrReplace(link netlink.Link, addr *netlink.Addr) error {
	idx := link.Attrs().Index
	f.addrs[idx] = append(f.addrs[idx], *addr)
	return nil
}

func (f *fakeNetlink) AddrDel(link netlink.Link, addr *netlink.Addr) error {
	idx := link.Attrs().Index
	for i, a := range f.addrs[idx] {
		if a.IPNet.String() == addr.IPNet.String() {
			f.addrs[idx] = append(f.addrs[idx][:i], f.addrs[idx][i+1:]...)
			return nil
		}
	}
	return unix.EADDRNOTAVAIL
}

func (f *fakeNetlink) RouteReplace(route *netlink.Route) error {
	f.routes = append(f.routes, *route)
	return nil
}

func (f *fakeNetlink) RouteDel(route *netlink.Route) error {
	for i, r := range f.routes {
		if r.Dst.String() == route.Dst.String() && r.Gw.Equal(route.Gw) {
			f.routes = append(f.routes[:i], f.routes[i+1:]...)
			return nil
		}
	}
	return unix.ESRCH
}

func TestRefreshAndLookup(t *testing.T) {
	m := NewWithHandle(newFakeNetlink())
	require.NoError(t, m.Refresh(""))

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "eth0", list[0].Name)
	assert.Equal(t, "eth1", list[1].Name)

	eth0 := m.GetByName("", "eth0")
	require.NotNil(t, eth0)
	assert.True(t, eth0.AdminUp)
	assert.True(t, eth0.LinkUp)
	assert.True(t, eth0.HasIPv4(netip.MustParseAddr("10.0.0.1")))
	assert.Equal(t, eth0, m.Get("", 2))
	assert.Nil(t, m.GetByName("blue", "eth0"))

	addr, err := m.ServerAddress("", "eth0")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), addr)

	_, err = m.ServerAddress("", "eth1")
	assert.ErrorIs(t, err, ErrNoAddress)
	_, err = m.Lookup("", "eth9")
	assert.Error(t, err)
}

func TestApplyAndRemoveLease(t *testing.T) {
	nl := newFakeNetlink()
	m := NewWithHandle(nl)

	b := Binding{
		Prefix:    netip.MustParsePrefix("192.0.2.50/24"),
		Broadcast: netip.MustParseAddr("192.0.2.255"),
		Routers:   []netip.Addr{netip.MustParseAddr("192.0.2.1")},
		Lifetime:  time.Hour,
	}
	require.NoError(t, m.ApplyLease("", "eth1", b))

	require.Len(t, nl.addrs[3], 1)
	installed := nl.addrs[3][0]
	assert.Equal(t, "192.0.2.50/24", installed.IPNet.String())
	assert.Equal(t, 3600, installed.ValidLft)
	require.Len(t, nl.routes, 1)
	assert.Nil(t, nl.routes[0].Dst, "router option installs a default route")
	assert.True(t, nl.routes[0].Gw.Equal(net.IPv4(192, 0, 2, 1)))
	assert.Equal(t, netlink.RouteProtocol(unix.RTPROT_DHCP), nl.routes[0].Protocol)
	assert.True(t, m.GetByName("", "eth1").HasIPv4(netip.MustParseAddr("192.0.2.50")))

	require.NoError(t, m.RemoveLease("", "eth1", b))
	assert.Empty(t, nl.addrs[3])
	assert.Empty(t, nl.routes)
	assert.False(t, m.GetByName("", "eth1").HasIPv4(netip.MustParseAddr("192.0.2.50")))

	require.NoError(t, m.RemoveLease("", "eth1", b), "removing twice is harmless")
}

func TestClasslessRoutesReplaceRouters(t *testing.T) {
	b := Binding{
		Prefix:  netip.MustParsePrefix("192.0.2.50/24"),
		Routers: []netip.Addr{netip.MustParseAddr("192.0.2.1")},
		Routes: []dhcp.ClasslessRoute{
			{Destination: netip.MustParsePrefix("198.51.100.0/24"), NextHop: netip.MustParseAddr("192.0.2.254")},
			{Destination: netip.MustParsePrefix("203.0.113.0/25"), NextHop: netip.IPv4Unspecified()},
			{Destination: netip.MustParsePrefix("0.0.0.0/0"), NextHop: netip.MustParseAddr("192.0.2.2")},
		},
	}

	routes := b.routes(7)
	require.Len(t, routes, 3)
	assert.Equal(t, "198.51.100.0/24", routes[0].Dst.String())
	assert.True(t, routes[0].Gw.Equal(net.IPv4(192, 0, 2, 254)))
	assert.Equal(t, netlink.SCOPE_LINK, routes[1].Scope)
	assert.Nil(t, routes[1].Gw)
	assert.Nil(t, routes[2].Dst)
	assert.True(t, routes[2].Gw.Equal(net.IPv4(192, 0, 2, 2)))
	for _, r := range routes {
		assert.Equal(t, 7, r.LinkIndex)
	}
}

func TestBindingFromResolved(t *testing.T) {
	res := &dhcp.ResolvedDHCPv4{
		YourIP:  netip.MustParseAddr("192.0.2.50"),
		Netmask: net.CIDRMask(26, 32),
		Routers: []netip.Addr{netip.MustParseAddr("192.0.2.1")},
	}
	b := BindingFromResolved(res, time.Minute)
	assert.Equal(t, netip.MustParsePrefix("192.0.2.50/26"), b.Prefix)
	assert.Equal(t, time.Minute, b.Lifetime)
	assert.Len(t, b.Routers, 1)
}
