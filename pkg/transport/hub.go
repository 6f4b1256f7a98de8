package transport

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"sync"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

const hubQueue = 64

// Hub is an in-memory broadcast segment. Endpoints attached to it see
// broadcasts on their port and unicasts to their address or MAC.
type Hub struct {
	mu        sync.RWMutex
	endpoints []*MemConn
	filter    func(from *MemConn, d *Datagram) bool
}

func NewHub() *Hub {
	return &Hub{}
}

// SetFilter installs a predicate; datagrams for which it returns false
// are lost.
func (h *Hub) SetFilter(f func(from *MemConn, d *Datagram) bool) {
	h.mu.Lock()
	h.filter = f
	h.mu.Unlock()
}

type Endpoint struct {
	Interface string
	Addr      netip.Addr
	Port      uint16
	HWAddr    net.HardwareAddr
}

// MemConn is a Conn attached to a Hub.
type MemConn struct {
	hub   *Hub
	inbox chan *Datagram
	done  chan struct{}
	once  sync.Once

	mu sync.RWMutex
	ep Endpoint
}

func (h *Hub) Attach(ep Endpoint) *MemConn {
	c := &MemConn{
		hub:   h,
		inbox: make(chan *Datagram, hubQueue),
		done:  make(chan struct{}),
		ep:    ep,
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, c)
	h.mu.Unlock()
	return c
}

func (c *MemConn) endpoint() Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ep
}

// SetSource changes the endpoint address, as when a client binds a lease.
func (c *MemConn) SetSource(addr netip.Addr) {
	c.mu.Lock()
	c.ep.Addr = addr
	c.mu.Unlock()
}

func (c *MemConn) Receive(ctx context.Context) (*Datagram, error) {
	select {
	case d := <-c.inbox:
		return d, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *MemConn) Send(ctx context.Context, payload []byte, dst dhcp.Destination) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	from := c.endpoint()
	src := from.Addr
	if !src.IsValid() {
		src = netip.IPv4Unspecified()
	}
	d := &Datagram{
		Payload: bytes.Clone(payload),
		Src:     netip.AddrPortFrom(src, from.Port),
		Dst:     dst.Addr,
		SrcMAC:  from.HWAddr,
	}
	c.hub.deliver(c, d, dst)
	return nil
}

func (c *MemConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.hub.detach(c)
	})
	return nil
}

func (h *Hub) detach(c *MemConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ep := range h.endpoints {
		if ep == c {
			h.endpoints = append(h.endpoints[:i], h.endpoints[i+1:]...)
			return
		}
	}
}

func (h *Hub) deliver(from *MemConn, d *Datagram, dst dhcp.Destination) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.filter != nil && !h.filter(from, d) {
		return
	}

	port := dst.Addr.Port()
	for _, to := range h.endpoints {
		if to == from {
			continue
		}
		ep := to.endpoint()
		if ep.Port != port || !matches(ep, dst) {
			continue
		}

		copied := *d
		copied.Payload = bytes.Clone(d.Payload)
		copied.Interface = ep.Interface
		select {
		case to.inbox <- &copied:
		default:
		}
	}
}

func matches(ep Endpoint, dst dhcp.Destination) bool {
	switch {
	case dst.Addr.Addr() == dhcp.Broadcast:
		return true
	case dst.Type == dhcp.TxHardwareAddr:
		return bytes.Equal(ep.HWAddr, dst.HWAddr)
	default:
		return ep.Addr.IsValid() && ep.Addr == dst.Addr.Addr()
	}
}
