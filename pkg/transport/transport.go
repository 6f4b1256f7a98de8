// Package transport moves encoded DHCP messages between the engines and
// the network. Engines never touch sockets; daemons pick a Conn.
package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

var (
	ErrClosed = errors.New("transport closed")
	// ErrHardwareUnicast is returned by transports that cannot address a
	// frame to a MAC without an ARP entry. Callers fall back to broadcast.
	ErrHardwareUnicast = errors.New("hardware unicast not supported")
)

// Datagram is one received UDP payload.
type Datagram struct {
	Payload   []byte
	Src       netip.AddrPort
	Dst       netip.AddrPort
	SrcMAC    net.HardwareAddr
	Interface string
}

type Conn interface {
	// Receive blocks until a datagram arrives, ctx ends or the conn is
	// closed.
	Receive(ctx context.Context) (*Datagram, error)
	Send(ctx context.Context, payload []byte, dst dhcp.Destination) error
	Close() error
}

// SourceSetter is a Conn whose source address follows the client lease.
type SourceSetter interface {
	SetSource(addr netip.Addr)
}

// To is a destination for a plain address, as the client engine produces.
func To(addr netip.AddrPort) dhcp.Destination {
	if addr.Addr() == dhcp.Broadcast {
		return dhcp.Destination{Type: dhcp.TxBroadcast, Addr: addr}
	}
	return dhcp.Destination{Type: dhcp.TxClientAddr, Addr: addr}
}

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
