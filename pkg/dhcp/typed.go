package dhcp

import (
	"encoding/binary"
	"net"
	"net/netip"
	"time"
)

// get returns the value of code after validating it against its rule.
func (m *Message) get(code OptionCode) ([]byte, error) {
	data, ok := m.Options.Get(code)
	if !ok {
		return nil, ErrOptionNotFound
	}
	if err := Validate(code, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Message) addr(code OptionCode) (netip.Addr, error) {
	data, err := m.get(code)
	if err != nil {
		return netip.Addr{}, err
	}
	return netip.AddrFrom4([4]byte(data)), nil
}

func (m *Message) setAddr(code OptionCode, a netip.Addr) {
	b := a.Unmap().As4()
	m.Options.Set(code, b[:])
}

func (m *Message) addrs(code OptionCode) ([]netip.Addr, error) {
	data, err := m.get(code)
	if err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(data)/4)
	for i := 0; i < len(data); i += 4 {
		out = append(out, netip.AddrFrom4([4]byte(data[i:i+4])))
	}
	return out, nil
}

func (m *Message) setAddrs(code OptionCode, addrs []netip.Addr) {
	if len(addrs) == 0 {
		m.Options.Del(code)
		return
	}
	data := make([]byte, 0, len(addrs)*4)
	for _, a := range addrs {
		b := a.Unmap().As4()
		data = append(data, b[:]...)
	}
	m.Options.Set(code, data)
}

func (m *Message) seconds(code OptionCode) (time.Duration, error) {
	data, err := m.get(code)
	if err != nil {
		return 0, err
	}
	return time.Duration(binary.BigEndian.Uint32(data)) * time.Second, nil
}

func (m *Message) setSeconds(code OptionCode, d time.Duration) {
	secs := d / time.Second
	if secs > 0xffffffff {
		secs = 0xffffffff
	}
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, uint32(secs))
	m.Options.Set(code, data)
}

func (m *Message) str(code OptionCode) (string, error) {
	data, err := m.get(code)
	if err != nil {
		return "", err
	}
	return cString(data), nil
}

func (m *Message) setStr(code OptionCode, s string) {
	if s == "" {
		m.Options.Del(code)
		return
	}
	m.Options.Set(code, []byte(s))
}

// MessageType validates option 53. Type is the lenient accessor.
func (m *Message) MessageType() (MessageType, error) {
	data, err := m.get(OptionDHCPMessageType)
	if err != nil {
		return MessageTypeNone, err
	}
	return MessageType(data[0]), nil
}

func (m *Message) SetMessageType(mt MessageType) {
	m.Options.Set(OptionDHCPMessageType, []byte{byte(mt)})
}

func (m *Message) SubnetMask() (net.IPMask, error) {
	data, err := m.get(OptionSubnetMask)
	if err != nil {
		return nil, err
	}
	return net.IPMask(append([]byte(nil), data...)), nil
}

func (m *Message) SetSubnetMask(mask net.IPMask) {
	if len(mask) == 16 {
		mask = mask[12:]
	}
	m.Options.Set(OptionSubnetMask, mask)
}

func (m *Message) Routers() ([]netip.Addr, error) { return m.addrs(OptionRouter) }

func (m *Message) SetRouters(addrs []netip.Addr) { m.setAddrs(OptionRouter, addrs) }

func (m *Message) DNSServers() ([]netip.Addr, error) { return m.addrs(OptionDomainNameServer) }

func (m *Message) SetDNSServers(addrs []netip.Addr) { m.setAddrs(OptionDomainNameServer, addrs) }

func (m *Message) NTPServers() ([]netip.Addr, error) { return m.addrs(OptionNTPServers) }

func (m *Message) SetNTPServers(addrs []netip.Addr) { m.setAddrs(OptionNTPServers, addrs) }

func (m *Message) HostName() (string, error) { return m.str(OptionHostName) }

func (m *Message) SetHostName(s string) { m.setStr(OptionHostName, s) }

func (m *Message) DomainName() (string, error) { return m.str(OptionDomainName) }

func (m *Message) SetDomainName(s string) { m.setStr(OptionDomainName, s) }

func (m *Message) MessageText() (string, error) { return m.str(OptionMessage) }

func (m *Message) SetMessageText(s string) { m.setStr(OptionMessage, s) }

func (m *Message) VendorClass() (string, error) { return m.str(OptionVendorClassIdentifier) }

func (m *Message) SetVendorClass(s string) { m.setStr(OptionVendorClassIdentifier, s) }

func (m *Message) BroadcastAddress() (netip.Addr, error) { return m.addr(OptionBroadcastAddress) }

func (m *Message) SetBroadcastAddress(a netip.Addr) { m.setAddr(OptionBroadcastAddress, a) }

func (m *Message) RequestedIP() (netip.Addr, error) { return m.addr(OptionRequestedIPAddress) }

func (m *Message) SetRequestedIP(a netip.Addr) { m.setAddr(OptionRequestedIPAddress, a) }

func (m *Message) ServerIdentifier() (netip.Addr, error) { return m.addr(OptionServerIdentifier) }

func (m *Message) SetServerIdentifier(a netip.Addr) { m.setAddr(OptionServerIdentifier, a) }

func (m *Message) LeaseTime() (time.Duration, error) { return m.seconds(OptionIPAddressLeaseTime) }

func (m *Message) SetLeaseTime(d time.Duration) { m.setSeconds(OptionIPAddressLeaseTime, d) }

func (m *Message) RenewalTime() (time.Duration, error) { return m.seconds(OptionRenewalTimeValue) }

func (m *Message) SetRenewalTime(d time.Duration) { m.setSeconds(OptionRenewalTimeValue, d) }

func (m *Message) RebindingTime() (time.Duration, error) { return m.seconds(OptionRebindingTimeValue) }

func (m *Message) SetRebindingTime(d time.Duration) { m.setSeconds(OptionRebindingTimeValue, d) }

func (m *Message) InterfaceMTU() (uint16, error) {
	data, err := m.get(OptionInterfaceMTU)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data), nil
}

func (m *Message) SetInterfaceMTU(mtu uint16) {
	m.Options.Set(OptionInterfaceMTU, binary.BigEndian.AppendUint16(nil, mtu))
}

func (m *Message) MaxMessageSize() (uint16, error) {
	data, err := m.get(OptionMaximumMessageSize)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(data), nil
}

func (m *Message) SetMaxMessageSize(n uint16) {
	m.Options.Set(OptionMaximumMessageSize, binary.BigEndian.AppendUint16(nil, n))
}

func (m *Message) Overload() (uint8, error) {
	data, err := m.get(OptionOverload)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

func (m *Message) ParameterRequestList() ([]OptionCode, error) {
	data, err := m.get(OptionParameterRequestList)
	if err != nil {
		return nil, err
	}
	out := make([]OptionCode, len(data))
	for i, b := range data {
		out[i] = OptionCode(b)
	}
	return out, nil
}

func (m *Message) SetParameterRequestList(codes []OptionCode) {
	if len(codes) == 0 {
		m.Options.Del(OptionParameterRequestList)
		return
	}
	data := make([]byte, len(codes))
	for i, c := range codes {
		data[i] = byte(c)
	}
	m.Options.Set(OptionParameterRequestList, data)
}

// ClientIdentifier returns option 61: a type byte followed by the id.
func (m *Message) ClientIdentifier() (byte, []byte, error) {
	data, err := m.get(OptionClientIdentifier)
	if err != nil {
		return 0, nil, err
	}
	return data[0], append([]byte(nil), data[1:]...), nil
}

func (m *Message) SetClientIdentifier(typ byte, id []byte) {
	m.Options.Set(OptionClientIdentifier, append([]byte{typ}, id...))
}

func (m *Message) VendorSpecific() ([]byte, error) {
	data, ok := m.Options.Concat(OptionVendorSpecific)
	if !ok {
		return nil, ErrOptionNotFound
	}
	return data, nil
}

func (m *Message) SetVendorSpecific(data []byte) {
	m.Options.Del(OptionVendorSpecific)
	m.Options.Add(OptionVendorSpecific, data)
}

func (m *Message) RelayAgentInfo() (*RelayAgentInfo, error) {
	data, err := m.get(OptionRelayAgentInformation)
	if err != nil {
		return nil, err
	}
	return ParseRelayAgentInfo(data)
}

func (m *Message) ClasslessStaticRoutes() ([]ClasslessRoute, error) {
	data, ok := m.Options.Concat(OptionClasslessStaticRoute)
	if !ok {
		return nil, ErrOptionNotFound
	}
	return DecodeClasslessRoutes(data)
}

func (m *Message) SetClasslessStaticRoutes(routes []ClasslessRoute) {
	m.Options.Del(OptionClasslessStaticRoute)
	if len(routes) == 0 {
		return
	}
	m.Options.Add(OptionClasslessStaticRoute, EncodeClasslessRoutes(routes))
}
