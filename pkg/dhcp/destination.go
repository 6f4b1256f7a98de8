package dhcp

import (
	"net"
	"net/netip"
)

type TxType uint8

const (
	// TxBroadcast sends to 255.255.255.255.
	TxBroadcast TxType = iota
	// TxRelay sends to the relay agent in giaddr on the server port.
	TxRelay
	// TxClientAddr unicasts to ciaddr.
	TxClientAddr
	// TxHardwareAddr unicasts to yiaddr at the client hardware address,
	// without an ARP exchange.
	TxHardwareAddr
)

func (t TxType) String() string {
	switch t {
	case TxBroadcast:
		return "broadcast"
	case TxRelay:
		return "relay"
	case TxClientAddr:
		return "client"
	case TxHardwareAddr:
		return "hwaddr"
	default:
		return "unknown"
	}
}

var Broadcast = netip.AddrFrom4([4]byte{255, 255, 255, 255})

type Destination struct {
	Type   TxType
	Addr   netip.AddrPort
	HWAddr net.HardwareAddr
}

// ReplyDestination picks where a server reply to req goes, per RFC 2131
// section 4.1. A relayed NAK gets the broadcast bit set on reply.
func ReplyDestination(req, reply *Message) Destination {
	if req.GIAddr.IsValid() {
		if reply.Type() == DHCPNak {
			reply.SetBroadcast(true)
		}
		return Destination{Type: TxRelay, Addr: netip.AddrPortFrom(req.GIAddr, ServerPort)}
	}

	bcast := Destination{Type: TxBroadcast, Addr: netip.AddrPortFrom(Broadcast, ClientPort)}
	switch {
	case reply.Type() == DHCPNak:
		return bcast
	case req.CIAddr.IsValid():
		return Destination{Type: TxClientAddr, Addr: netip.AddrPortFrom(req.CIAddr, ClientPort)}
	case req.Broadcast() || !reply.YIAddr.IsValid():
		return bcast
	default:
		return Destination{
			Type:   TxHardwareAddr,
			Addr:   netip.AddrPortFrom(reply.YIAddr, ClientPort),
			HWAddr: req.HardwareAddr(),
		}
	}
}
