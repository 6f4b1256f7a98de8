package dhcpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	"github.com/veesix-networks/osvdhcp/pkg/ifmgr"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
	"github.com/veesix-networks/osvdhcp/pkg/transport"
)

var ErrUnknownInterface = errors.New("no client session on interface")

// Dialer opens the transport of one client interface and reports the
// hardware address to use as chaddr.
type Dialer func(ctx context.Context, iface ip.ClientInterface) (transport.Conn, net.HardwareAddr, error)

type link struct {
	cfg     ip.ClientInterface
	conn    transport.Conn
	session *dhcpc.Session

	// host work (netlink, opdb) runs on the link's own goroutine; only
	// the latest wanted state is kept
	mu      sync.Mutex
	want    *hostState
	kick    chan struct{}
	applied *ifmgr.Binding
}

type hostState struct {
	lease dhcpc.Lease
	bound bool
}

func (l *link) post(st hostState) {
	l.mu.Lock()
	l.want = &st
	l.mu.Unlock()
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *link) take() *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.want
	l.want = nil
	return st
}

// storedLease is what the client remembers across restarts to attempt
// INIT-REBOOT.
type storedLease struct {
	Addr     netip.Addr `json:"address"`
	ServerID netip.Addr `json:"server_id"`
	Expires  time.Time  `json:"expires"`
}

// Component runs one client session per configured interface on a shared
// scheduler.
type Component struct {
	*component.Base

	logger   *slog.Logger
	cfg      *ip.DHCPClient
	eventBus events.Bus
	opdb     opdb.Store
	ifMgr    *ifmgr.Manager
	sched    *dhcpc.Scheduler
	dial     Dialer
	now      func() time.Time

	mu    sync.RWMutex
	links map[string]*link
}

type Option func(*Component)

func WithDialer(d Dialer) Option {
	return func(c *Component) { c.dial = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Component) { c.now = now }
}

func New(deps component.Dependencies, opts ...Option) (*Component, error) {
	if deps.Config == nil || deps.Config.DHCP.Client == nil {
		return nil, fmt.Errorf("dhcp client is not configured")
	}

	c := &Component{
		Base:     component.NewBase("dhcpc"),
		logger:   logger.Get(logger.Client),
		cfg:      deps.Config.DHCP.Client,
		eventBus: deps.EventBus,
		opdb:     deps.OpDB,
		ifMgr:    deps.IfMgr,
		now:      time.Now,
		links:    make(map[string]*link),
	}
	c.dial = c.openConn
	for _, opt := range opts {
		opt(c)
	}
	c.sched = dhcpc.NewScheduler(c.now)
	return c, nil
}

func (c *Component) openConn(ctx context.Context, iface ip.ClientInterface) (transport.Conn, net.HardwareAddr, error) {
	if c.cfg.GetTransport() == ip.TransportRaw {
		conn, err := transport.ListenRaw(transport.RawConfig{
			Interface: iface.Name,
			Port:      dhcp.ClientPort,
		})
		if err != nil {
			return nil, nil, err
		}
		return conn, conn.HardwareAddr(), nil
	}

	if c.ifMgr == nil {
		return nil, nil, fmt.Errorf("udp transport needs the interface manager")
	}
	info, err := c.ifMgr.Lookup(iface.Namespace, iface.Name)
	if err != nil {
		return nil, nil, err
	}
	conn, err := transport.ListenUDP(ctx, transport.UDPConfig{
		Interface: iface.Name,
		Listen:    netip.AddrPortFrom(netip.IPv4Unspecified(), dhcp.ClientPort),
	})
	if err != nil {
		return nil, nil, err
	}
	return conn, info.MAC, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting DHCP client", "interfaces", len(c.cfg.Interfaces), "transport", c.cfg.GetTransport())

	c.Go(func() {
		if err := c.sched.Run(c.Ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("Scheduler stopped", "error", err)
		}
	})

	for _, iface := range c.cfg.Interfaces {
		if err := c.startLink(iface); err != nil {
			c.Stop(context.Background())
			return fmt.Errorf("interface %s: %w", iface.Name, err)
		}
	}
	return nil
}

func (c *Component) startLink(iface ip.ClientInterface) error {
	conn, hw, err := c.dial(c.Ctx, iface)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	cfg, err := c.sessionConfig(iface, hw)
	if err != nil {
		conn.Close()
		return err
	}

	l := &link{cfg: iface, conn: conn, kick: make(chan struct{}, 1)}
	sess, err := dhcpc.NewSession(cfg, c.callbacks(l))
	if err != nil {
		conn.Close()
		return err
	}
	l.session = sess

	c.mu.Lock()
	c.links[iface.Name] = l
	c.mu.Unlock()

	if err := c.sched.Add(c.Ctx, sess); err != nil {
		return err
	}
	c.Go(func() { c.hostLoop(l) })
	c.Go(func() { c.receiveLoop(l) })

	c.logger.Info("Client session started", "interface", iface.Name, "session_id", sess.ID(), "mac", hw, "requested", cfg.RequestedAddr)
	return nil
}

func (c *Component) sessionConfig(iface ip.ClientInterface, hw net.HardwareAddr) (dhcpc.Config, error) {
	cfg := dhcpc.Config{
		Interface:   iface.Name,
		HWAddr:      hw,
		Hostname:    iface.Hostname,
		VendorClass: iface.VendorClass,
		LeaseTime:   time.Duration(iface.LeaseTime) * time.Second,
		Backoff: dhcpc.Backoff{
			Initial: c.cfg.Backoff.GetInitial(),
			Max:     c.cfg.Backoff.GetMax(),
			Retries: c.cfg.Backoff.GetRetries(),
			Jitter:  c.cfg.Backoff.GetJitter(),
		},
		SelectWindow:  c.cfg.GetSelectWindow(),
		Now:           c.now,
		RequestedAddr: c.rememberedAddr(iface.Name),
	}
	// a kernel UDP socket sees no unicast before the address is set
	cfg.BroadcastFlag = c.cfg.GetTransport() == ip.TransportUDP

	if iface.ClientID != "" {
		id, err := ip.DecodeHex(iface.ClientID)
		if err != nil {
			return cfg, fmt.Errorf("client_id: %w", err)
		}
		cfg.ClientID = id
	}
	for _, code := range iface.RequestedOptions {
		cfg.RequestList = append(cfg.RequestList, dhcp.OptionCode(code))
	}
	if iface.PreferredServer != "" {
		addr, err := netip.ParseAddr(iface.PreferredServer)
		if err != nil {
			return cfg, fmt.Errorf("preferred_server: %w", err)
		}
		cfg.PreferredServer = addr
	}
	return cfg, nil
}

// rememberedAddr returns the address of a stored lease that has not yet
// expired.
func (c *Component) rememberedAddr(iface string) netip.Addr {
	if c.opdb == nil {
		return netip.Addr{}
	}

	var found netip.Addr
	err := c.opdb.Load(c.Ctx, opdb.NamespaceDHCPv4ClientLeases, func(key string, value []byte) error {
		if key != iface {
			return nil
		}
		var s storedLease
		if err := json.Unmarshal(value, &s); err != nil {
			return err
		}
		if c.now().Before(s.Expires) {
			found = s.Addr
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Stored client lease unreadable", "interface", iface, "error", err)
		return netip.Addr{}
	}
	return found
}

func (c *Component) callbacks(l *link) dhcpc.Callbacks {
	name := l.cfg.Name
	return dhcpc.Callbacks{
		Send: func(m *dhcp.Message, dest netip.AddrPort) {
			m.Pad(dhcp.MinPacketSize)
			if err := l.conn.Send(c.Ctx, m.Encode(), transport.To(dest)); err != nil {
				c.logger.Warn("Send failed", "interface", name, "type", m.Type(), "dest", dest, "error", err)
			}
		},
		Bound: func(lease dhcpc.Lease) {
			c.bound(l, lease)
		},
		Unbound: func(lease dhcpc.Lease, reason string) {
			c.unbound(l, lease, reason)
		},
		StateChanged: func(from, to dhcpc.State) {
			c.logger.Debug("Session state changed", "interface", name, "from", from, "to", to)
			c.publish(events.SessionEvent{
				Action:    events.SessionStateChanged,
				SessionID: l.session.ID(),
				Interface: name,
				From:      from,
				To:        to,
			})
		},
	}
}

func (c *Component) bound(l *link, lease dhcpc.Lease) {
	c.logger.Info("Lease bound", "interface", l.cfg.Name, "address", lease.Addr, "server_id", lease.ServerID,
		"lease_time", lease.Duration, "renew_at", lease.RenewAt())

	if s, ok := l.conn.(transport.SourceSetter); ok {
		s.SetSource(lease.Addr)
	}
	l.post(hostState{lease: lease, bound: true})
	c.publish(events.SessionEvent{
		Action:    events.SessionBound,
		SessionID: l.session.ID(),
		Interface: l.cfg.Name,
		To:        dhcpc.StateBound,
		Lease:     &lease,
	})
}

func (c *Component) unbound(l *link, lease dhcpc.Lease, reason string) {
	c.logger.Info("Lease lost", "interface", l.cfg.Name, "address", lease.Addr, "reason", reason)

	if s, ok := l.conn.(transport.SourceSetter); ok {
		s.SetSource(netip.Addr{})
	}
	l.post(hostState{lease: lease})
	c.publish(events.SessionEvent{
		Action:    events.SessionUnbound,
		SessionID: l.session.ID(),
		Interface: l.cfg.Name,
		Lease:     &lease,
		Reason:    reason,
	})
}

// hostLoop applies lease changes to the host and the opdb off the
// scheduler goroutine. Work posted before Stop is flushed on exit.
func (c *Component) hostLoop(l *link) {
	for {
		select {
		case <-l.kick:
			c.reconcile(l)
		case <-c.Ctx.Done():
			c.reconcile(l)
			return
		}
	}
}

func (c *Component) reconcile(l *link) {
	st := l.take()
	if st == nil {
		return
	}
	if !st.bound {
		c.withdraw(l)
		c.forget(l.cfg.Name)
		return
	}

	lease := st.lease
	if l.cfg.Apply && c.ifMgr != nil && lease.Config != nil {
		b := ifmgr.BindingFromResolved(lease.Config, lease.Duration)
		if l.applied != nil && l.applied.Prefix != b.Prefix {
			c.withdraw(l)
		}
		if err := c.ifMgr.ApplyLease(l.cfg.Namespace, l.cfg.Name, b); err != nil {
			c.logger.Error("Failed to apply lease", "interface", l.cfg.Name, "address", lease.Addr, "error", err)
		} else {
			l.applied = &b
		}
	}
	c.remember(l.cfg.Name, lease)
}

func (c *Component) withdraw(l *link) {
	if l.applied == nil || c.ifMgr == nil {
		return
	}
	if err := c.ifMgr.RemoveLease(l.cfg.Namespace, l.cfg.Name, *l.applied); err != nil {
		c.logger.Error("Failed to remove lease", "interface", l.cfg.Name, "error", err)
	}
	l.applied = nil
}

// storeCtx outlives Stop so the final flush still reaches the opdb.
func (c *Component) storeCtx() context.Context {
	return context.WithoutCancel(c.Ctx)
}

func (c *Component) remember(iface string, lease dhcpc.Lease) {
	if c.opdb == nil {
		return
	}
	data, err := json.Marshal(storedLease{Addr: lease.Addr, ServerID: lease.ServerID, Expires: lease.ExpiresAt()})
	if err != nil {
		return
	}
	if err := c.opdb.Put(c.storeCtx(), opdb.NamespaceDHCPv4ClientLeases, iface, data); err != nil {
		c.logger.Warn("Failed to store client lease", "interface", iface, "error", err)
	}
}

func (c *Component) forget(iface string) {
	if c.opdb == nil {
		return
	}
	if err := c.opdb.Delete(c.storeCtx(), opdb.NamespaceDHCPv4ClientLeases, iface); err != nil {
		c.logger.Warn("Failed to delete client lease", "interface", iface, "error", err)
	}
}

func (c *Component) publish(e events.SessionEvent) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(events.TopicSession, events.Event{Source: c.Name(), Data: e})
}

func (c *Component) receiveLoop(l *link) {
	for {
		d, err := l.conn.Receive(c.Ctx)
		if err != nil {
			if c.Ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			c.logger.Warn("Receive failed", "interface", l.cfg.Name, "error", err)
			continue
		}

		m, err := dhcp.Decode(d.Payload)
		if err != nil {
			c.logger.Debug("Undecodable reply", "interface", l.cfg.Name, "src", d.Src, "error", err)
			continue
		}
		err = c.sched.Deliver(c.Ctx, l.session.ID(), m)
		switch {
		case err == nil:
		case errors.Is(err, dhcpc.ErrIgnored):
			c.logger.Debug("Reply ignored", "interface", l.cfg.Name, "xid", fmt.Sprintf("0x%08x", m.XID), "error", err)
		case errors.Is(err, dhcpc.ErrSchedulerStopped):
			return
		default:
			c.logger.Warn("Reply rejected", "interface", l.cfg.Name, "error", err)
		}
	}
}

// Stop releases nothing: leases stay valid on the host and are verified
// with INIT-REBOOT on the next start.
func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping DHCP client")

	c.mu.RLock()
	links := make([]*link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	c.mu.RUnlock()

	for _, l := range links {
		l.session.Stop()
	}
	var errs []error
	for _, l := range links {
		if err := l.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", l.cfg.Name, err))
		}
	}
	c.StopContext()
	return errors.Join(errs...)
}

func (c *Component) link(iface string) (*link, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.links[iface]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInterface, iface)
	}
	return l, nil
}

func (c *Component) Sessions() []dhcpc.Info {
	sessions := c.sched.Sessions()
	out := make([]dhcpc.Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

func (c *Component) Session(iface string) (dhcpc.Info, error) {
	l, err := c.link(iface)
	if err != nil {
		return dhcpc.Info{}, err
	}
	return l.session.Info(), nil
}

func (c *Component) Release(ctx context.Context, iface string) error {
	l, err := c.link(iface)
	if err != nil {
		return err
	}
	return c.sched.Release(ctx, l.session.ID())
}

func (c *Component) Renew(ctx context.Context, iface string) error {
	l, err := c.link(iface)
	if err != nil {
		return err
	}
	return c.sched.Renew(ctx, l.session.ID())
}

// Decline reports addr as in use by another host, as found by conflict
// detection outside the client.
func (c *Component) Decline(ctx context.Context, iface string, addr netip.Addr) error {
	l, err := c.link(iface)
	if err != nil {
		return err
	}
	return c.sched.Decline(ctx, l.session.ID(), addr)
}
