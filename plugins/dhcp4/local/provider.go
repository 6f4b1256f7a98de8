package local

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/pkg/provider"
)

func init() {
	dhcp4.Register("local", New)
}

// Settings is the static configuration of a local provider.
type Settings struct {
	ServerID     netip.Addr
	Store        *lease.Store
	LeaseTime    time.Duration
	MinLeaseTime time.Duration
	MaxLeaseTime time.Duration
	// RenewalRatio and RebindingRatio size T1 and T2 in offers.
	RenewalRatio   float64
	RebindingRatio float64
	// Options is the configuration template copied into every reply.
	Options *dhcp.ResolvedDHCPv4
	// ExhaustedPolicy is ip.ExhaustedSilent or ip.ExhaustedNAK.
	ExhaustedPolicy string
	AllowBOOTP      bool
}

type Provider struct {
	settings Settings
	store    *lease.Store
	logger   *slog.Logger
}

func New(cfg *config.Config) (dhcp4.DHCPProvider, error) {
	s := cfg.DHCP.Server
	if s == nil {
		return nil, fmt.Errorf("dhcp server is not configured")
	}

	pool, err := s.BuildPool()
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}

	reservations, err := parseReservations(s.Reservations)
	if err != nil {
		return nil, err
	}

	store, err := lease.NewStore(lease.Config{
		Pool:           pool,
		OfferTimeout:   s.GetOfferTimeout(),
		RenewalRatio:   s.RenewalRatio,
		RebindingRatio: s.RebindingRatio,
		Reservations:   reservations,
	})
	if err != nil {
		return nil, err
	}

	options, err := resolveOptions(pool.Network(), &s.Options)
	if err != nil {
		return nil, fmt.Errorf("options: %w", err)
	}

	serverID, err := resolveServerID(s, options)
	if err != nil {
		return nil, err
	}

	return NewProvider(Settings{
		ServerID:        serverID,
		Store:           store,
		LeaseTime:       s.GetLeaseTime(),
		MinLeaseTime:    s.GetMinLeaseTime(),
		MaxLeaseTime:    s.GetMaxLeaseTime(),
		RenewalRatio:    s.RenewalRatio,
		RebindingRatio:  s.RebindingRatio,
		Options:         options,
		ExhaustedPolicy: s.GetExhaustedPolicy(),
		AllowBOOTP:      s.AllowBOOTP,
	})
}

func NewProvider(settings Settings) (*Provider, error) {
	if !settings.ServerID.Is4() {
		return nil, fmt.Errorf("server identifier %s is not an IPv4 address", settings.ServerID)
	}
	if settings.Store == nil {
		return nil, fmt.Errorf("lease store is required")
	}
	if settings.LeaseTime <= 0 {
		settings.LeaseTime = time.Duration(ip.DefaultLeaseTime) * time.Second
	}
	if settings.MaxLeaseTime < settings.LeaseTime {
		settings.MaxLeaseTime = settings.LeaseTime
	}
	if settings.MinLeaseTime <= 0 || settings.MinLeaseTime > settings.MaxLeaseTime {
		settings.MinLeaseTime = min(time.Duration(ip.DefaultMinLeaseTime)*time.Second, settings.MaxLeaseTime)
	}
	if settings.RenewalRatio <= 0 || settings.RenewalRatio >= 1 {
		settings.RenewalRatio = lease.DefaultRenewalRatio
	}
	if settings.RebindingRatio <= settings.RenewalRatio || settings.RebindingRatio >= 1 {
		settings.RebindingRatio = lease.DefaultRebindingRatio
	}
	if settings.Options == nil {
		settings.Options = &dhcp.ResolvedDHCPv4{}
	}
	if settings.ExhaustedPolicy == "" {
		settings.ExhaustedPolicy = ip.ExhaustedSilent
	}

	return &Provider{
		settings: settings,
		store:    settings.Store,
		logger:   logger.Get(logger.Server),
	}, nil
}

func (p *Provider) Info() provider.Info {
	return provider.Info{
		Name:    "local",
		Version: "1.0.0",
		Author:  "OSVDHCP Core",
	}
}

func (p *Provider) ServerID() netip.Addr {
	return p.settings.ServerID
}

func (p *Provider) Store() *lease.Store {
	return p.store
}

// ClearLease returns a quarantined or stale address to the pool.
func (p *Provider) ClearLease(addr netip.Addr) (lease.Lease, error) {
	l, err := p.store.Clear(addr)
	if err != nil {
		return lease.Lease{}, err
	}
	p.logger.Info("Lease cleared", "address", addr, "state", l.State)
	return l, nil
}

func parseReservations(cfg []ip.Reservation) (map[lease.ClientID]netip.Addr, error) {
	out := make(map[lease.ClientID]netip.Addr, len(cfg))
	for i, r := range cfg {
		addr, err := netip.ParseAddr(r.Address)
		if err != nil {
			return nil, fmt.Errorf("reservation %d: %w", i, err)
		}

		var client lease.ClientID
		if r.MAC != "" {
			hw, err := net.ParseMAC(r.MAC)
			if err != nil {
				return nil, fmt.Errorf("reservation %d: %w", i, err)
			}
			client = lease.HardwareClientID(dhcp.HTypeEthernet, hw)
		} else {
			client, err = lease.ParseClientID(r.ClientID)
			if err != nil {
				return nil, fmt.Errorf("reservation %d: %w", i, err)
			}
		}
		out[client] = addr
	}
	return out, nil
}

// resolveOptions turns the options section into the reply template. The
// netmask always comes from the pool network.
func resolveOptions(network netip.Prefix, o *ip.DHCPOptions) (*dhcp.ResolvedDHCPv4, error) {
	res := &dhcp.ResolvedDHCPv4{
		Netmask:    net.CIDRMask(network.Bits(), 32),
		DomainName: o.DomainName,
		MTU:        o.MTU,
	}

	var err error
	if res.Routers, err = parseAddrs(o.Routers); err != nil {
		return nil, fmt.Errorf("routers: %w", err)
	}
	if res.DNS, err = parseAddrs(o.DNSServers); err != nil {
		return nil, fmt.Errorf("dns_servers: %w", err)
	}
	if res.NTP, err = parseAddrs(o.NTPServers); err != nil {
		return nil, fmt.Errorf("ntp_servers: %w", err)
	}
	if o.Broadcast != "" {
		if res.Broadcast, err = netip.ParseAddr(o.Broadcast); err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
	}

	for _, r := range o.ClasslessRoutes {
		dst, err := netip.ParsePrefix(r.Destination)
		if err != nil {
			return nil, fmt.Errorf("classless_routes: %w", err)
		}
		hop, err := netip.ParseAddr(r.NextHop)
		if err != nil {
			return nil, fmt.Errorf("classless_routes: %w", err)
		}
		res.ClasslessRoutes = append(res.ClasslessRoutes, dhcp.ClasslessRoute{Destination: dst.Masked(), NextHop: hop})
	}

	codes := make([]uint8, 0, len(o.Raw))
	for code := range o.Raw {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		if dhcp.ProtocolOption(dhcp.OptionCode(code)) {
			return nil, fmt.Errorf("raw %d: option cannot be configured", code)
		}
		data, err := ip.DecodeHex(o.Raw[code])
		if err != nil {
			return nil, fmt.Errorf("raw %d: %w", code, err)
		}
		if err := dhcp.Validate(dhcp.OptionCode(code), data); err != nil {
			return nil, fmt.Errorf("raw %d: %w", code, err)
		}
		res.Extra.Add(dhcp.OptionCode(code), data)
	}

	return res, nil
}

func parseAddrs(in []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(in))
	for _, s := range in {
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// resolveServerID uses the configured identifier, else the first router.
func resolveServerID(s *ip.DHCPServer, options *dhcp.ResolvedDHCPv4) (netip.Addr, error) {
	if s.ServerID != "" {
		return netip.ParseAddr(s.ServerID)
	}
	if len(options.Routers) > 0 {
		return options.Routers[0], nil
	}
	return netip.Addr{}, fmt.Errorf("server_id is required when no router option is configured")
}
