package ifmgr

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/veesix-networks/osvdhcp/pkg/logger"
)

var ErrNoAddress = errors.New("no IPv4 address on interface")

// Netlink is the subset of *netlink.Handle the manager drives.
type Netlink interface {
	LinkByName(name string) (netlink.Link, error)
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	AddrReplace(link netlink.Link, addr *netlink.Addr) error
	AddrDel(link netlink.Link, addr *netlink.Addr) error
	RouteReplace(route *netlink.Route) error
	RouteDel(route *netlink.Route) error
}

type nsHandle struct {
	nl    Netlink
	close func()
}

// Manager caches host interfaces per network namespace and installs client
// leases on them. The empty namespace is the one the process runs in.
type Manager struct {
	mu        sync.RWMutex
	handles   map[string]*nsHandle
	byName    map[string]*Interface
	byIndex   map[string]map[int]*Interface
	newHandle func(ns string) (Netlink, func(), error)
	logger    *slog.Logger
}

func New() *Manager {
	return newManager(openHandle)
}

// NewWithHandle uses h for every namespace.
func NewWithHandle(h Netlink) *Manager {
	return newManager(func(string) (Netlink, func(), error) {
		return h, func() {}, nil
	})
}

func newManager(open func(ns string) (Netlink, func(), error)) *Manager {
	return &Manager{
		handles:   make(map[string]*nsHandle),
		byName:    make(map[string]*Interface),
		byIndex:   make(map[string]map[int]*Interface),
		newHandle: open,
		logger:    logger.Get(logger.Ifmgr),
	}
}

func openHandle(ns string) (Netlink, func(), error) {
	if ns == "" {
		h, err := netlink.NewHandle()
		if err != nil {
			return nil, nil, fmt.Errorf("create netlink handle: %w", err)
		}
		return h, h.Close, nil
	}

	nsh, err := netns.GetFromName(ns)
	if err != nil {
		return nil, nil, fmt.Errorf("get netns %q: %w", ns, err)
	}
	h, err := netlink.NewHandleAt(nsh)
	if err != nil {
		nsh.Close()
		return nil, nil, fmt.Errorf("create netlink handle for netns %q: %w", ns, err)
	}
	return h, func() {
		h.Close()
		nsh.Close()
	}, nil
}

func key(ns, name string) string {
	return ns + "/" + name
}

func (m *Manager) handle(ns string) (Netlink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[ns]; ok {
		return h.nl, nil
	}
	nl, closer, err := m.newHandle(ns)
	if err != nil {
		return nil, err
	}
	m.handles[ns] = &nsHandle{nl: nl, close: closer}
	return nl, nil
}

func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ns, h := range m.handles {
		h.close()
		delete(m.handles, ns)
	}
}

func (m *Manager) describe(nl Netlink, ns string, link netlink.Link) (*Interface, error) {
	attrs := link.Attrs()
	iface := &Interface{
		Index:     attrs.Index,
		Name:      attrs.Name,
		Namespace: ns,
		AdminUp:   attrs.Flags&net.FlagUp != 0,
		LinkUp:    attrs.OperState == netlink.OperUp || attrs.OperState == netlink.OperUnknown,
		MTU:       attrs.MTU,
		MAC:       attrs.HardwareAddr,
	}

	addrs, err := nl.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("list addresses on %s: %w", attrs.Name, err)
	}
	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IPNet.IP.To4())
		if !ok {
			continue
		}
		bits, _ := a.IPNet.Mask.Size()
		iface.IPv4Addresses = append(iface.IPv4Addresses, netip.PrefixFrom(ip, bits))
	}
	return iface, nil
}

func (m *Manager) store(iface *Interface) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byName[key(iface.Namespace, iface.Name)] = iface
	idx, ok := m.byIndex[iface.Namespace]
	if !ok {
		idx = make(map[int]*Interface)
		m.byIndex[iface.Namespace] = idx
	}
	idx[iface.Index] = iface
}

// Refresh reloads every link of a namespace.
func (m *Manager) Refresh(ns string) error {
	nl, err := m.handle(ns)
	if err != nil {
		return err
	}
	links, err := nl.LinkList()
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}

	for _, link := range links {
		iface, err := m.describe(nl, ns, link)
		if err != nil {
			return err
		}
		m.store(iface)
	}
	m.logger.Debug("Interfaces refreshed", "netns", ns, "count", len(links))
	return nil
}

// Lookup reads one interface from the kernel and caches it.
func (m *Manager) Lookup(ns, name string) (*Interface, error) {
	nl, err := m.handle(ns)
	if err != nil {
		return nil, err
	}
	link, err := nl.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", name, err)
	}
	iface, err := m.describe(nl, ns, link)
	if err != nil {
		return nil, err
	}
	m.store(iface)
	return iface, nil
}

func (m *Manager) GetByName(ns, name string) *Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byName[key(ns, name)]
}

func (m *Manager) Get(ns string, index int) *Interface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byIndex[ns][index]
}

func (m *Manager) List() []*Interface {
	m.mu.RLock()
	result := make([]*Interface, 0, len(m.byName))
	for _, iface := range m.byName {
		result = append(result, iface)
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b *Interface) int {
		if a.Namespace != b.Namespace {
			if a.Namespace < b.Namespace {
				return -1
			}
			return 1
		}
		return a.Index - b.Index
	})
	return result
}

// ServerAddress finds the address a server on name answers from.
func (m *Manager) ServerAddress(ns, name string) (netip.Addr, error) {
	iface, err := m.Lookup(ns, name)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, ok := iface.PrimaryIPv4()
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoAddress, name)
	}
	return addr, nil
}

func toIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{IP: p.Addr().AsSlice(), Mask: net.CIDRMask(p.Bits(), 32)}
}

func (b Binding) routes(index int) []*netlink.Route {
	proto := netlink.RouteProtocol(unix.RTPROT_DHCP)

	var out []*netlink.Route
	if len(b.Routes) > 0 {
		for _, r := range b.Routes {
			route := &netlink.Route{LinkIndex: index, Protocol: proto}
			if r.Destination.Bits() > 0 {
				route.Dst = toIPNet(r.Destination.Masked())
			}
			if r.NextHop.IsUnspecified() || !r.NextHop.IsValid() {
				route.Scope = netlink.SCOPE_LINK
			} else {
				route.Gw = r.NextHop.AsSlice()
			}
			out = append(out, route)
		}
		return out
	}

	if len(b.Routers) > 0 {
		out = append(out, &netlink.Route{LinkIndex: index, Gw: b.Routers[0].AsSlice(), Protocol: proto})
	}
	return out
}

func (b Binding) addr() *netlink.Addr {
	a := &netlink.Addr{IPNet: toIPNet(b.Prefix)}
	if b.Broadcast.IsValid() {
		a.Broadcast = b.Broadcast.AsSlice()
	}
	if secs := int(b.Lifetime.Seconds()); secs > 0 {
		a.ValidLft = secs
		a.PreferedLft = secs
	}
	return a
}

// ApplyLease installs the leased address and its routes on the interface.
func (m *Manager) ApplyLease(ns, name string, b Binding) error {
	nl, err := m.handle(ns)
	if err != nil {
		return err
	}
	link, err := nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}

	if err := nl.AddrReplace(link, b.addr()); err != nil {
		return fmt.Errorf("add address %s to %s: %w", b.Prefix, name, err)
	}
	routes := b.routes(link.Attrs().Index)
	for _, r := range routes {
		if err := nl.RouteReplace(r); err != nil {
			return fmt.Errorf("add route %s via %s: %w", r.Dst, r.Gw, err)
		}
	}

	m.logger.Info("Lease applied", "netns", ns, "interface", name, "prefix", b.Prefix, "routes", len(routes))
	_, err = m.Lookup(ns, name)
	return err
}

// RemoveLease withdraws what ApplyLease installed. Missing routes are
// ignored since the kernel drops them with the address.
func (m *Manager) RemoveLease(ns, name string, b Binding) error {
	nl, err := m.handle(ns)
	if err != nil {
		return err
	}
	link, err := nl.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link %s: %w", name, err)
	}

	for _, r := range b.routes(link.Attrs().Index) {
		if err := nl.RouteDel(r); err != nil && !errors.Is(err, unix.ESRCH) {
			m.logger.Debug("Route removal failed", "interface", name, "route", r.Dst, "error", err)
		}
	}
	if err := nl.AddrDel(link, b.addr()); err != nil && !errors.Is(err, unix.EADDRNOTAVAIL) {
		return fmt.Errorf("remove address %s from %s: %w", b.Prefix, name, err)
	}

	m.logger.Info("Lease removed", "netns", ns, "interface", name, "prefix", b.Prefix)
	_, err = m.Lookup(ns, name)
	return err
}
