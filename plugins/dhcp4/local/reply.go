package local

import (
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

// udpOverhead is the IPv4 and UDP header size subtracted from option 57.
const udpOverhead = 28

// required options survive trimming to the client's maximum message size.
var required = map[dhcp.OptionCode]bool{
	dhcp.OptionDHCPMessageType:       true,
	dhcp.OptionServerIdentifier:      true,
	dhcp.OptionIPAddressLeaseTime:    true,
	dhcp.OptionSubnetMask:            true,
	dhcp.OptionClientIdentifier:      true,
	dhcp.OptionRelayAgentInformation: true,
}

// reply builds an OFFER or ACK for l. A nil lease answers an INFORM.
func (p *Provider) reply(tx *transaction, mt dhcp.MessageType, l *lease.Lease) *dhcp4.Packet {
	req := tx.req
	reply := dhcp.NewReply(req, mt)
	if mt == dhcp.MessageTypeNone {
		reply.Options.Del(dhcp.OptionDHCPMessageType)
	}

	res := *p.settings.Options
	res.ServerID = p.settings.ServerID
	res.LeaseTime, res.RenewalTime, res.RebindingTime = 0, 0, 0

	if l != nil {
		reply.YIAddr = l.Addr
		res.YourIP = l.Addr
		res.LeaseTime = l.Duration
		res.RenewalTime, res.RebindingTime = p.timers(l)
	} else {
		reply.CIAddr = req.CIAddr
	}

	prl, _ := req.ParameterRequestList()
	res.Apply(reply, prl)
	p.fit(req, reply)
	echo(req, reply)
	reply.Pad(dhcp.MinPacketSize)

	return p.packet(tx, reply, l)
}

// nak builds a DHCPNAK carrying only the message type, server identifier,
// an optional message and the echoed identifiers.
func (p *Provider) nak(tx *transaction, text string) *dhcp4.Packet {
	reply := dhcp.NewReply(tx.req, dhcp.DHCPNak)
	reply.SetServerIdentifier(p.settings.ServerID)
	if text != "" {
		reply.SetMessageText(text)
	}
	echo(tx.req, reply)
	reply.Pad(dhcp.MinPacketSize)

	tx.log.Info("Sending NAK", "reason", text)
	return p.packet(tx, reply, nil)
}

func (p *Provider) packet(tx *transaction, reply *dhcp.Message, l *lease.Lease) *dhcp4.Packet {
	dest := dhcp.ReplyDestination(tx.req, reply)
	return &dhcp4.Packet{
		Msg:       reply,
		Raw:       reply.Encode(),
		Interface: tx.pkt.Interface,
		Dest:      dest,
		Lease:     l,
	}
}

// timers returns T1 and T2 relative to the lease start. Offers have no
// deadlines yet, so the configured ratios are applied to the duration.
func (p *Provider) timers(l *lease.Lease) (time.Duration, time.Duration) {
	if !l.T1.IsZero() && !l.T2.IsZero() {
		return l.T1.Sub(l.Start), l.T2.Sub(l.Start)
	}
	d := float64(l.Duration)
	return time.Duration(d * p.settings.RenewalRatio), time.Duration(d * p.settings.RebindingRatio)
}

// echo copies the client identifier (RFC 6842) and relay agent
// information (RFC 3046) into reply. Option 82 stays last.
func echo(req, reply *dhcp.Message) {
	if data, ok := req.Options.Get(dhcp.OptionClientIdentifier); ok {
		reply.Options.Set(dhcp.OptionClientIdentifier, data)
	}
	if data, ok := req.Options.Get(dhcp.OptionRelayAgentInformation); ok {
		reply.Options.Del(dhcp.OptionRelayAgentInformation)
		reply.Options.Add(dhcp.OptionRelayAgentInformation, data)
	}
}

// fit drops trailing optional options until the reply, plus the echoed
// options still to come, fits the client's maximum message size.
func (p *Provider) fit(req, reply *dhcp.Message) {
	limit := dhcp.MinMaxMessageSize
	if size, err := req.MaxMessageSize(); err == nil && int(size) > limit {
		limit = int(size)
	}
	limit -= udpOverhead

	reserve := 0
	for _, code := range []dhcp.OptionCode{dhcp.OptionClientIdentifier, dhcp.OptionRelayAgentInformation} {
		if data, ok := req.Options.Get(code); ok {
			reserve += 2 + len(data)
		}
	}

	for reply.EncodedLen()+reserve > limit {
		i := len(reply.Options) - 1
		for i >= 0 && required[reply.Options[i].Code] {
			i--
		}
		if i < 0 {
			return
		}
		reply.Options = append(reply.Options[:i], reply.Options[i+1:]...)
	}
}
