package dhcp

import (
	"errors"
	"net"
	"net/netip"
	"slices"
	"time"
)

// ResolvedDHCPv4 is the configuration a reply carries to a client.
type ResolvedDHCPv4 struct {
	YourIP        netip.Addr
	Netmask       net.IPMask
	Routers       []netip.Addr
	DNS           []netip.Addr
	NTP           []netip.Addr
	DomainName    string
	Broadcast     netip.Addr
	MTU           uint16
	LeaseTime     time.Duration
	RenewalTime   time.Duration
	RebindingTime time.Duration
	ServerID      netip.Addr

	ClasslessRoutes []ClasslessRoute

	// Extra holds configured options without a typed field.
	Extra Options
}

// Prefix returns YourIP with the netmask length, or a /32.
func (r *ResolvedDHCPv4) Prefix() netip.Prefix {
	bits := 32
	if len(r.Netmask) == 4 {
		bits, _ = r.Netmask.Size()
	}
	return netip.PrefixFrom(r.YourIP, bits)
}

// Apply writes lease timers and configuration options to reply. When prl
// is non-empty only requested configuration options are written, in the
// order requested, except that the subnet mask always precedes the router.
func (r *ResolvedDHCPv4) Apply(reply *Message, prl []OptionCode) {
	if r.ServerID.IsValid() {
		reply.SetServerIdentifier(r.ServerID)
	}
	if r.LeaseTime > 0 {
		reply.SetLeaseTime(r.LeaseTime)
	}
	if r.RenewalTime > 0 {
		reply.SetRenewalTime(r.RenewalTime)
	}
	if r.RebindingTime > 0 {
		reply.SetRebindingTime(r.RebindingTime)
	}

	config := r.configOptions()
	order := make([]OptionCode, 0, len(config))
	if len(prl) > 0 {
		for _, code := range prl {
			if _, ok := config.Get(code); ok && !slices.Contains(order, code) {
				order = append(order, code)
			}
		}
	} else {
		order = config.Codes()
	}

	if i := slices.Index(order, OptionSubnetMask); i > 0 {
		order = slices.Delete(order, i, i+1)
		order = slices.Insert(order, 0, OptionSubnetMask)
	}

	for _, code := range order {
		data, _ := config.Concat(code)
		reply.Options.Add(code, data)
	}
}

func (r *ResolvedDHCPv4) configOptions() Options {
	var m Message
	if len(r.Netmask) > 0 {
		m.SetSubnetMask(r.Netmask)
	}
	m.SetRouters(r.Routers)
	m.SetDNSServers(r.DNS)
	m.SetDomainName(r.DomainName)
	if r.Broadcast.IsValid() {
		m.SetBroadcastAddress(r.Broadcast)
	}
	if r.MTU > 0 {
		m.SetInterfaceMTU(r.MTU)
	}
	m.SetNTPServers(r.NTP)
	m.SetClasslessStaticRoutes(r.ClasslessRoutes)
	for _, opt := range r.Extra {
		if !m.Options.Has(opt.Code) {
			m.Options.Add(opt.Code, opt.Data)
		}
	}
	return m.Options
}

// ResolvedFromMessage extracts configuration from an OFFER or ACK. Invalid
// optional options are skipped; an invalid lease time is an error.
func ResolvedFromMessage(m *Message) (*ResolvedDHCPv4, error) {
	r := &ResolvedDHCPv4{YourIP: m.YIAddr}

	var err error
	if r.LeaseTime, err = m.LeaseTime(); err != nil && !errors.Is(err, ErrOptionNotFound) {
		return nil, err
	}
	if r.ServerID, err = m.ServerIdentifier(); err != nil && !errors.Is(err, ErrOptionNotFound) {
		return nil, err
	}

	r.RenewalTime, _ = m.RenewalTime()
	r.RebindingTime, _ = m.RebindingTime()
	r.Netmask, _ = m.SubnetMask()
	r.Routers, _ = m.Routers()
	r.DNS, _ = m.DNSServers()
	r.NTP, _ = m.NTPServers()
	r.DomainName, _ = m.DomainName()
	r.Broadcast, _ = m.BroadcastAddress()
	r.MTU, _ = m.InterfaceMTU()
	r.ClasslessRoutes, _ = m.ClasslessStaticRoutes()

	return r, nil
}
