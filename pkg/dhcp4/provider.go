package dhcp4

import (
	"context"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/provider"
)

// DHCPProvider answers client messages for one pool. Implementations must
// be safe for concurrent HandlePacket calls.
type DHCPProvider interface {
	provider.Provider
	HandlePacket(ctx context.Context, pkt *Packet) (*Packet, error)
	ServerID() netip.Addr
	Store() *lease.Store
	ClearLease(addr netip.Addr) (lease.Lease, error)
}

// Packet carries a message into or out of a provider. An inbound packet
// needs Raw or Msg; a reply has Msg, Raw and Dest set, or a nil Msg when
// the request is answered by silence.
type Packet struct {
	Msg       *dhcp.Message
	Raw       []byte
	Src       netip.AddrPort
	Interface string
	Dest      dhcp.Destination
	// Lease is the binding the request acted on, if any.
	Lease    *lease.Lease
	Received time.Time
}

// Request returns the decoded message, decoding Raw on first use.
func (p *Packet) Request() (*dhcp.Message, error) {
	if p.Msg != nil {
		return p.Msg, nil
	}
	m, err := dhcp.Decode(p.Raw)
	if err != nil {
		return nil, err
	}
	p.Msg = m
	return m, nil
}
