package dhcp

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Message is one decoded BOOTP/DHCP packet. Unset addresses are the zero
// netip.Addr and encode as 0.0.0.0.
type Message struct {
	Op      OpCode
	HType   uint8
	HLen    uint8
	Hops    uint8
	XID     uint32
	Secs    uint16
	Flags   uint16
	CIAddr  netip.Addr
	YIAddr  netip.Addr
	SIAddr  netip.Addr
	GIAddr  netip.Addr
	CHAddr  [chaddrSize]byte
	SName   [snameSize]byte
	File    [fileSize]byte
	Options Options

	// Padding is the number of zero bytes written after the End option.
	Padding int
}

// NewRequest returns a BOOTREQUEST of the given type for an Ethernet client.
func NewRequest(mt MessageType, xid uint32, hw net.HardwareAddr) *Message {
	m := &Message{
		Op:    OpBootRequest,
		HType: HTypeEthernet,
		XID:   xid,
	}
	m.SetHardwareAddr(hw)
	m.Options.Set(OptionDHCPMessageType, []byte{byte(mt)})
	return m
}

// NewReply starts a BOOTREPLY answering req. Transaction id, flags, relay
// address and client hardware address are copied per RFC 2131 table 3.
func NewReply(req *Message, mt MessageType) *Message {
	m := &Message{
		Op:     OpBootReply,
		HType:  req.HType,
		HLen:   req.HLen,
		XID:    req.XID,
		Flags:  req.Flags,
		GIAddr: req.GIAddr,
		CHAddr: req.CHAddr,
	}
	m.Options.Set(OptionDHCPMessageType, []byte{byte(mt)})
	return m
}

// Type returns the DHCP message type, or MessageTypeNone for plain BOOTP.
func (m *Message) Type() MessageType {
	data, ok := m.Options.Get(OptionDHCPMessageType)
	if !ok || len(data) != 1 {
		return MessageTypeNone
	}
	return MessageType(data[0])
}

func (m *Message) HardwareAddr() net.HardwareAddr {
	n := int(m.HLen)
	if n > chaddrSize {
		n = chaddrSize
	}
	return net.HardwareAddr(bytes.Clone(m.CHAddr[:n]))
}

func (m *Message) SetHardwareAddr(hw net.HardwareAddr) {
	m.CHAddr = [chaddrSize]byte{}
	n := copy(m.CHAddr[:], hw)
	m.HLen = uint8(n)
}

func (m *Message) Broadcast() bool {
	return m.Flags&FlagBroadcast != 0
}

func (m *Message) SetBroadcast(on bool) {
	if on {
		m.Flags |= FlagBroadcast
	} else {
		m.Flags &^= FlagBroadcast
	}
}

func (m *Message) ServerName() string {
	return cString(m.SName[:])
}

func (m *Message) SetServerName(s string) {
	m.SName = [snameSize]byte{}
	copy(m.SName[:snameSize-1], s)
}

func (m *Message) BootFileName() string {
	return cString(m.File[:])
}

func (m *Message) SetBootFileName(s string) {
	m.File = [fileSize]byte{}
	copy(m.File[:fileSize-1], s)
}

// AllOptions returns the option sequence followed by any options carried
// in the file and sname fields when Option Overload (52) is present.
func (m *Message) AllOptions() (Options, error) {
	overload, err := m.Overload()
	if err != nil {
		if errors.Is(err, ErrOptionNotFound) {
			return m.Options, nil
		}
		return nil, err
	}

	all := m.Options.Clone()
	if overload&1 != 0 {
		opts, err := decodeOptions(m.File[:], offFile, false)
		if err != nil {
			return nil, fmt.Errorf("overloaded file field: %w", err)
		}
		all = append(all, opts.options...)
	}
	if overload&2 != 0 {
		opts, err := decodeOptions(m.SName[:], offSName, false)
		if err != nil {
			return nil, fmt.Errorf("overloaded sname field: %w", err)
		}
		all = append(all, opts.options...)
	}
	return all, nil
}

func (m *Message) Clone() *Message {
	c := *m
	c.Options = m.Options.Clone()
	return &c
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s xid=0x%08x chaddr=%s", m.Op, m.Type(), m.XID, m.HardwareAddr())
	if m.CIAddr.IsValid() {
		fmt.Fprintf(&b, " ciaddr=%s", m.CIAddr)
	}
	if m.YIAddr.IsValid() {
		fmt.Fprintf(&b, " yiaddr=%s", m.YIAddr)
	}
	if m.GIAddr.IsValid() {
		fmt.Fprintf(&b, " giaddr=%s", m.GIAddr)
	}
	return b.String()
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
