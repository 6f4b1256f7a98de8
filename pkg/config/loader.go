package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"gopkg.in/yaml.v3"
)

const (
	DefaultOpDBPath   = "/var/lib/osvdhcp/opdb.sqlite"
	DefaultAPIAddress = "127.0.0.1:8067"
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes a YAML document, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.OpDB.Path == "" {
		c.OpDB.Path = DefaultOpDBPath
	}
	if c.API.Address == "" {
		c.API.Address = DefaultAPIAddress
	}

	if s := c.DHCP.Server; s != nil {
		if s.RenewalRatio == 0 {
			s.RenewalRatio = 0.5
		}
		if s.RebindingRatio == 0 {
			s.RebindingRatio = 0.875
		}
	}
}

func (c *Config) Validate() error {
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unknown format '%s'", c.Logging.Format)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	for name, level := range c.Logging.Components {
		if _, err := logger.ParseLevel(level); err != nil {
			return fmt.Errorf("logging.components.%s: %w", name, err)
		}
	}

	if s := c.DHCP.Server; s != nil {
		if err := validateServer(s); err != nil {
			return fmt.Errorf("dhcp.server.%w", err)
		}
	}

	if cl := c.DHCP.Client; cl != nil {
		if err := validateClient(cl); err != nil {
			return fmt.Errorf("dhcp.client.%w", err)
		}
	}

	return nil
}

func validateServer(s *ip.DHCPServer) error {
	if _, err := s.BuildPool(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	if s.ServerID != "" {
		addr, err := netip.ParseAddr(s.ServerID)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("server_id: '%s' is not an IPv4 address", s.ServerID)
		}
	}

	if _, err := netip.ParseAddrPort(s.GetListen()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	switch s.GetTransport() {
	case ip.TransportUDP, ip.TransportRaw:
	default:
		return fmt.Errorf("transport: unknown transport '%s'", s.Transport)
	}
	if s.GetTransport() == ip.TransportRaw && s.Interface == "" {
		return fmt.Errorf("interface: required for raw transport")
	}

	switch s.GetExhaustedPolicy() {
	case ip.ExhaustedSilent, ip.ExhaustedNAK:
	default:
		return fmt.Errorf("exhausted_policy: unknown policy '%s'", s.ExhaustedPolicy)
	}

	if s.RenewalRatio <= 0 || s.RenewalRatio >= 1 {
		return fmt.Errorf("renewal_ratio: %v not in (0, 1)", s.RenewalRatio)
	}
	if s.RebindingRatio <= s.RenewalRatio || s.RebindingRatio >= 1 {
		return fmt.Errorf("rebinding_ratio: %v not in (renewal_ratio, 1)", s.RebindingRatio)
	}

	if s.GetMinLeaseTime() > s.GetMaxLeaseTime() {
		return fmt.Errorf("min_lease_time: exceeds max_lease_time")
	}

	for i, r := range s.Reservations {
		if (r.MAC == "") == (r.ClientID == "") {
			return fmt.Errorf("reservations[%d]: exactly one of mac or client_id is required", i)
		}
		if r.MAC != "" {
			if _, err := net.ParseMAC(r.MAC); err != nil {
				return fmt.Errorf("reservations[%d].mac: %w", i, err)
			}
		}
		if _, err := netip.ParseAddr(r.Address); err != nil {
			return fmt.Errorf("reservations[%d].address: %w", i, err)
		}
	}

	if err := validateOptions(&s.Options); err != nil {
		return fmt.Errorf("options.%w", err)
	}

	return nil
}

// typedOptions are options with their own configuration field.
var typedOptions = map[dhcp.OptionCode]string{
	dhcp.OptionSubnetMask:           "pool.network",
	dhcp.OptionRouter:               "routers",
	dhcp.OptionDomainNameServer:     "dns_servers",
	dhcp.OptionDomainName:           "domain_name",
	dhcp.OptionInterfaceMTU:         "mtu",
	dhcp.OptionBroadcastAddress:     "broadcast",
	dhcp.OptionNTPServers:           "ntp_servers",
	dhcp.OptionClasslessStaticRoute: "classless_routes",
}

func validateOptions(o *ip.DHCPOptions) error {
	for name, list := range map[string][]string{
		"routers":     o.Routers,
		"dns_servers": o.DNSServers,
		"ntp_servers": o.NTPServers,
	} {
		for i, a := range list {
			addr, err := netip.ParseAddr(a)
			if err != nil || !addr.Is4() {
				return fmt.Errorf("%s[%d]: '%s' is not an IPv4 address", name, i, a)
			}
		}
	}

	if o.Broadcast != "" {
		if _, err := netip.ParseAddr(o.Broadcast); err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}
	}

	if o.MTU != 0 && o.MTU < 68 {
		return fmt.Errorf("mtu: %d below minimum 68", o.MTU)
	}

	for i, r := range o.ClasslessRoutes {
		if _, err := netip.ParsePrefix(r.Destination); err != nil {
			return fmt.Errorf("classless_routes[%d].destination: %w", i, err)
		}
		if _, err := netip.ParseAddr(r.NextHop); err != nil {
			return fmt.Errorf("classless_routes[%d].next_hop: %w", i, err)
		}
	}

	for code, value := range o.Raw {
		if dhcp.ProtocolOption(dhcp.OptionCode(code)) {
			return fmt.Errorf("raw: option %d cannot be configured", code)
		}
		if field, ok := typedOptions[dhcp.OptionCode(code)]; ok {
			return fmt.Errorf("raw: option %d is set with %s", code, field)
		}
		if _, err := ip.DecodeHex(value); err != nil {
			return fmt.Errorf("raw[%d]: %w", code, err)
		}
	}

	return nil
}

func validateClient(c *ip.DHCPClient) error {
	if len(c.Interfaces) == 0 {
		return fmt.Errorf("interfaces: at least one interface is required")
	}

	switch c.GetTransport() {
	case ip.TransportUDP, ip.TransportRaw:
	default:
		return fmt.Errorf("transport: unknown transport '%s'", c.Transport)
	}

	if c.Backoff.GetInitial() > c.Backoff.GetMax() {
		return fmt.Errorf("backoff: initial exceeds max")
	}
	if c.Backoff.Jitter < 0 || c.Backoff.Jitter >= c.Backoff.GetInitial() {
		return fmt.Errorf("backoff.jitter: must be below the initial timeout")
	}

	seen := make(map[string]bool)
	for i, iface := range c.Interfaces {
		if strings.TrimSpace(iface.Name) == "" {
			return fmt.Errorf("interfaces[%d].name: required", i)
		}
		if seen[iface.Name] {
			return fmt.Errorf("interfaces[%d].name: duplicate interface '%s'", i, iface.Name)
		}
		seen[iface.Name] = true

		if iface.PreferredServer != "" {
			if _, err := netip.ParseAddr(iface.PreferredServer); err != nil {
				return fmt.Errorf("interfaces[%d].preferred_server: %w", i, err)
			}
		}
		if iface.ClientID != "" {
			if _, err := ip.DecodeHex(iface.ClientID); err != nil {
				return fmt.Errorf("interfaces[%d].client_id: %w", i, err)
			}
		}
	}

	return nil
}
