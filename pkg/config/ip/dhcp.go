package ip

import "time"

const (
	DefaultLeaseTime     uint32 = 3600
	DefaultMinLeaseTime  uint32 = 60
	DefaultOfferTimeout         = 60 * time.Second
	DefaultSweepInterval        = 10 * time.Second
	DefaultSweepBatch           = 1024
	DefaultCheckpoint           = 30 * time.Second
	DefaultWorkers              = 4

	DefaultBackoffInitial = 4 * time.Second
	DefaultBackoffMax     = 64 * time.Second
	DefaultBackoffRetries = 4
	DefaultBackoffJitter  = time.Second
	DefaultSelectWindow   = 2 * time.Second

	ExhaustedSilent = "silent"
	ExhaustedNAK    = "nak"

	TransportUDP = "udp"
	TransportRaw = "raw"
)

type DHCPConfig struct {
	Server *DHCPServer `json:"server,omitempty" yaml:"server,omitempty"`
	Client *DHCPClient `json:"client,omitempty" yaml:"client,omitempty"`
}

type DHCPServer struct {
	Provider           string        `json:"provider,omitempty" yaml:"provider,omitempty"`
	Interface          string        `json:"interface,omitempty" yaml:"interface,omitempty"`
	Listen             string        `json:"listen,omitempty" yaml:"listen,omitempty"`
	Transport          string        `json:"transport,omitempty" yaml:"transport,omitempty"`
	ServerID           string        `json:"server_id,omitempty" yaml:"server_id,omitempty"`
	Pool               DHCPPool      `json:"pool" yaml:"pool"`
	Reservations       []Reservation `json:"reservations,omitempty" yaml:"reservations,omitempty"`
	LeaseTime          uint32        `json:"lease_time,omitempty" yaml:"lease_time,omitempty"`
	MinLeaseTime       uint32        `json:"min_lease_time,omitempty" yaml:"min_lease_time,omitempty"`
	MaxLeaseTime       uint32        `json:"max_lease_time,omitempty" yaml:"max_lease_time,omitempty"`
	OfferTimeout       time.Duration `json:"offer_timeout,omitempty" yaml:"offer_timeout,omitempty"`
	RenewalRatio       float64       `json:"renewal_ratio,omitempty" yaml:"renewal_ratio,omitempty"`
	RebindingRatio     float64       `json:"rebinding_ratio,omitempty" yaml:"rebinding_ratio,omitempty"`
	Options            DHCPOptions   `json:"options,omitempty" yaml:"options,omitempty"`
	ExhaustedPolicy    string        `json:"exhausted_policy,omitempty" yaml:"exhausted_policy,omitempty"`
	AllowBOOTP         bool          `json:"allow_bootp,omitempty" yaml:"allow_bootp,omitempty"`
	SweepInterval      time.Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`
	SweepBatch         int           `json:"sweep_batch,omitempty" yaml:"sweep_batch,omitempty"`
	CheckpointInterval time.Duration `json:"checkpoint_interval,omitempty" yaml:"checkpoint_interval,omitempty"`
	Workers            int           `json:"workers,omitempty" yaml:"workers,omitempty"`
}

func (s *DHCPServer) GetProvider() string {
	if s.Provider == "" {
		return "local"
	}
	return s.Provider
}

func (s *DHCPServer) GetListen() string {
	if s.Listen == "" {
		return "0.0.0.0:67"
	}
	return s.Listen
}

func (s *DHCPServer) GetTransport() string {
	if s.Transport == "" {
		return TransportUDP
	}
	return s.Transport
}

func (s *DHCPServer) GetLeaseTime() time.Duration {
	if s.LeaseTime == 0 {
		return time.Duration(DefaultLeaseTime) * time.Second
	}
	return time.Duration(s.LeaseTime) * time.Second
}

func (s *DHCPServer) GetMinLeaseTime() time.Duration {
	if s.MinLeaseTime == 0 {
		return time.Duration(DefaultMinLeaseTime) * time.Second
	}
	return time.Duration(s.MinLeaseTime) * time.Second
}

// GetMaxLeaseTime returns the upper bound on client-requested lease times.
// Unset means the configured lease time is also the ceiling.
func (s *DHCPServer) GetMaxLeaseTime() time.Duration {
	if s.MaxLeaseTime == 0 {
		return s.GetLeaseTime()
	}
	return time.Duration(s.MaxLeaseTime) * time.Second
}

func (s *DHCPServer) GetOfferTimeout() time.Duration {
	if s.OfferTimeout == 0 {
		return DefaultOfferTimeout
	}
	return s.OfferTimeout
}

func (s *DHCPServer) GetExhaustedPolicy() string {
	if s.ExhaustedPolicy == "" {
		return ExhaustedSilent
	}
	return s.ExhaustedPolicy
}

func (s *DHCPServer) GetSweepInterval() time.Duration {
	if s.SweepInterval == 0 {
		return DefaultSweepInterval
	}
	return s.SweepInterval
}

func (s *DHCPServer) GetSweepBatch() int {
	if s.SweepBatch <= 0 {
		return DefaultSweepBatch
	}
	return s.SweepBatch
}

func (s *DHCPServer) GetCheckpointInterval() time.Duration {
	if s.CheckpointInterval == 0 {
		return DefaultCheckpoint
	}
	return s.CheckpointInterval
}

func (s *DHCPServer) GetWorkers() int {
	if s.Workers <= 0 {
		return DefaultWorkers
	}
	return s.Workers
}

type DHCPPool struct {
	Name    string   `json:"name,omitempty" yaml:"name,omitempty"`
	Network string   `json:"network" yaml:"network"`
	Ranges  []string `json:"ranges,omitempty" yaml:"ranges,omitempty"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// Reservation pins an address to a client. Exactly one of MAC or
// ClientID identifies the client.
type Reservation struct {
	MAC      string `json:"mac,omitempty" yaml:"mac,omitempty"`
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	Address  string `json:"address" yaml:"address"`
}

type DHCPOptions struct {
	Routers         []string         `json:"routers,omitempty" yaml:"routers,omitempty"`
	DNSServers      []string         `json:"dns_servers,omitempty" yaml:"dns_servers,omitempty"`
	NTPServers      []string         `json:"ntp_servers,omitempty" yaml:"ntp_servers,omitempty"`
	DomainName      string           `json:"domain_name,omitempty" yaml:"domain_name,omitempty"`
	Broadcast       string           `json:"broadcast,omitempty" yaml:"broadcast,omitempty"`
	MTU             uint16           `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	ClasslessRoutes []ClasslessRoute `json:"classless_routes,omitempty" yaml:"classless_routes,omitempty"`
	Raw             map[uint8]string `json:"raw,omitempty" yaml:"raw,omitempty"`
}

type ClasslessRoute struct {
	Destination string `json:"destination" yaml:"destination"`
	NextHop     string `json:"next_hop" yaml:"next_hop"`
}

type DHCPClient struct {
	Transport    string            `json:"transport,omitempty" yaml:"transport,omitempty"`
	Interfaces   []ClientInterface `json:"interfaces" yaml:"interfaces"`
	Backoff      Backoff           `json:"backoff,omitempty" yaml:"backoff,omitempty"`
	SelectWindow time.Duration     `json:"select_window,omitempty" yaml:"select_window,omitempty"`
}

func (c *DHCPClient) GetTransport() string {
	if c.Transport == "" {
		return TransportRaw
	}
	return c.Transport
}

func (c *DHCPClient) GetSelectWindow() time.Duration {
	if c.SelectWindow == 0 {
		return DefaultSelectWindow
	}
	return c.SelectWindow
}

func (c *DHCPClient) GetInterface(name string) *ClientInterface {
	for i := range c.Interfaces {
		if c.Interfaces[i].Name == name {
			return &c.Interfaces[i]
		}
	}
	return nil
}

type ClientInterface struct {
	Name             string  `json:"name" yaml:"name"`
	Namespace        string  `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Hostname         string  `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	ClientID         string  `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	VendorClass      string  `json:"vendor_class,omitempty" yaml:"vendor_class,omitempty"`
	RequestedOptions []uint8 `json:"requested_options,omitempty" yaml:"requested_options,omitempty"`
	PreferredServer  string  `json:"preferred_server,omitempty" yaml:"preferred_server,omitempty"`
	LeaseTime        uint32  `json:"lease_time,omitempty" yaml:"lease_time,omitempty"`
	Apply            bool    `json:"apply,omitempty" yaml:"apply,omitempty"`
}

type Backoff struct {
	Initial time.Duration `json:"initial,omitempty" yaml:"initial,omitempty"`
	Max     time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
	Retries int           `json:"retries,omitempty" yaml:"retries,omitempty"`
	Jitter  time.Duration `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

func (b Backoff) GetInitial() time.Duration {
	if b.Initial == 0 {
		return DefaultBackoffInitial
	}
	return b.Initial
}

func (b Backoff) GetMax() time.Duration {
	if b.Max == 0 {
		return DefaultBackoffMax
	}
	return b.Max
}

func (b Backoff) GetRetries() int {
	if b.Retries <= 0 {
		return DefaultBackoffRetries
	}
	return b.Retries
}

// GetJitter defaults to a quarter of the initial timeout, at most
// DefaultBackoffJitter.
func (b Backoff) GetJitter() time.Duration {
	if b.Jitter == 0 {
		return min(b.GetInitial()/4, DefaultBackoffJitter)
	}
	return b.Jitter
}
