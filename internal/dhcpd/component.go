package dhcpd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/pkg/transport"
)

const queueSize = 1024

// Component serves one pool on one interface. A receive loop feeds a
// fixed set of workers; the lease store serialises them.
type Component struct {
	*component.Base

	logger       *slog.Logger
	cfg          *ip.DHCPServer
	provider     dhcp4.DHCPProvider
	eventBus     events.Bus
	checkpointer *lease.Checkpointer
	counters     *dhcp4.Counters
	conn         transport.Conn
	listen       func(ctx context.Context) (transport.Conn, error)
	now          func() time.Time
}

type Option func(*Component)

// WithConn serves on conn instead of opening a socket from config.
func WithConn(conn transport.Conn) Option {
	return func(c *Component) { c.conn = conn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Component) { c.now = now }
}

func New(deps component.Dependencies, provider dhcp4.DHCPProvider, opts ...Option) (*Component, error) {
	if deps.Config == nil || deps.Config.DHCP.Server == nil {
		return nil, fmt.Errorf("dhcp server is not configured")
	}
	if provider == nil {
		return nil, fmt.Errorf("dhcp provider is required")
	}

	c := &Component{
		Base:     component.NewBase("dhcpd"),
		logger:   logger.Get(logger.Server),
		cfg:      deps.Config.DHCP.Server,
		provider: provider,
		eventBus: deps.EventBus,
		counters: dhcp4.NewCounters(),
		now:      time.Now,
	}
	if deps.OpDB != nil {
		c.checkpointer = lease.NewCheckpointer(provider.Store(), deps.OpDB)
	}
	c.listen = c.openConn
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Component) openConn(ctx context.Context) (transport.Conn, error) {
	switch c.cfg.GetTransport() {
	case ip.TransportRaw:
		return transport.ListenRaw(transport.RawConfig{
			Interface: c.cfg.Interface,
			Port:      dhcp.ServerPort,
			Source:    c.provider.ServerID(),
		})
	default:
		listen, err := netip.ParseAddrPort(c.cfg.GetListen())
		if err != nil {
			return nil, fmt.Errorf("listen address: %w", err)
		}
		return transport.ListenUDP(ctx, transport.UDPConfig{
			Interface: c.cfg.Interface,
			Listen:    listen,
		})
	}
}

func (c *Component) Provider() dhcp4.DHCPProvider { return c.provider }

func (c *Component) Counters() dhcp4.CounterSnapshot { return c.counters.Snapshot() }

// Checkpointer is nil when the operational database is disabled.
func (c *Component) Checkpointer() *lease.Checkpointer { return c.checkpointer }

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	if c.conn == nil {
		conn, err := c.listen(c.Ctx)
		if err != nil {
			c.StopContext()
			return fmt.Errorf("open transport: %w", err)
		}
		c.conn = conn
	}

	info := c.provider.Info()
	c.logger.Info("Starting DHCP server",
		"provider", info.String(),
		"server_id", c.provider.ServerID(),
		"pool", c.provider.Store().Pool().Name(),
		"interface", c.cfg.Interface,
		"workers", c.cfg.GetWorkers())

	jobs := make(chan *transport.Datagram, queueSize)
	c.Go(func() { c.receiveLoop(jobs) })
	for range c.cfg.GetWorkers() {
		c.Go(func() { c.worker(jobs) })
	}
	c.Go(c.sweepLoop)
	if c.checkpointer != nil {
		c.Go(c.checkpointLoop)
	}
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping DHCP server")

	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	c.StopContext()

	if c.checkpointer != nil {
		n, err := c.checkpointer.Save(ctx)
		if err != nil {
			errs = append(errs, err)
		} else {
			c.logger.Info("Final lease checkpoint written", "leases", n)
		}
	}
	return errors.Join(errs...)
}

func (c *Component) receiveLoop(jobs chan<- *transport.Datagram) {
	defer close(jobs)
	for {
		d, err := c.conn.Receive(c.Ctx)
		if err != nil {
			if c.Ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return
			}
			c.logger.Warn("Receive failed", "error", err)
			continue
		}

		select {
		case jobs <- d:
		case <-c.Ctx.Done():
			return
		default:
			c.counters.Dropped(fmt.Errorf("%w: receive queue full", dhcp4.ErrDropped))
			c.logger.Warn("Receive queue full, dropping packet", "src", d.Src)
		}
	}
}

func (c *Component) worker(jobs <-chan *transport.Datagram) {
	for d := range jobs {
		c.handle(c.Ctx, d)
	}
}

func (c *Component) handle(ctx context.Context, d *transport.Datagram) {
	pkt := &dhcp4.Packet{
		Raw:       d.Payload,
		Src:       d.Src,
		Interface: d.Interface,
		Received:  c.now(),
	}

	reply, err := c.provider.HandlePacket(ctx, pkt)
	c.counters.Received(pkt.Msg)
	if err != nil {
		c.counters.Dropped(err)
		if errors.Is(err, dhcp4.ErrDropped) {
			c.logger.Debug("Request dropped", "src", d.Src, "reason", dhcp4.DropReason(err), "error", err)
		} else {
			c.logger.Warn("Request failed", "src", d.Src, "error", err)
		}
		return
	}
	if reply == nil {
		return
	}

	c.publishLease(pkt, reply)
	if reply.Msg == nil {
		return
	}
	if err := c.send(ctx, reply); err != nil {
		c.counters.SendError()
		c.logger.Warn("Reply not sent", "dest", reply.Dest.Addr, "type", reply.Msg.Type(), "error", err)
		return
	}
	c.counters.Replied()
}

// send falls back to broadcast when the transport cannot unicast to a MAC.
func (c *Component) send(ctx context.Context, reply *dhcp4.Packet) error {
	err := c.conn.Send(ctx, reply.Raw, reply.Dest)
	if !errors.Is(err, transport.ErrHardwareUnicast) {
		return err
	}
	dest := dhcp.Destination{
		Type: dhcp.TxBroadcast,
		Addr: netip.AddrPortFrom(dhcp.Broadcast, reply.Dest.Addr.Port()),
	}
	return c.conn.Send(ctx, reply.Raw, dest)
}

func (c *Component) publishLease(req, reply *dhcp4.Packet) {
	if reply.Lease == nil {
		return
	}

	var action events.LeaseAction
	switch {
	case reply.Msg == nil && req.Msg.Type() == dhcp.DHCPDecline:
		action = events.LeaseDeclined
	case reply.Msg == nil && req.Msg.Type() == dhcp.DHCPRelease:
		action = events.LeaseReleased
	case reply.Msg == nil:
		return
	case reply.Msg.Type() == dhcp.DHCPOffer:
		action = events.LeaseOffered
	case reply.Msg.Type() == dhcp.DHCPAck, reply.Msg.Type() == dhcp.MessageTypeNone:
		action = events.LeaseBound
	default:
		return
	}
	c.publish(action, *reply.Lease)
}

func (c *Component) publish(action events.LeaseAction, l lease.Lease) {
	if c.eventBus == nil {
		return
	}
	c.eventBus.Publish(events.TopicLease, events.Event{
		Source: c.Name(),
		Data: events.LeaseEvent{
			Action:    action,
			Interface: c.cfg.Interface,
			Lease:     l,
		},
	})
}

// ClearLease returns a quarantined or stale address to the pool.
func (c *Component) ClearLease(addr netip.Addr) (lease.Lease, error) {
	l, err := c.provider.ClearLease(addr)
	if err != nil {
		return lease.Lease{}, err
	}
	c.publish(events.LeaseCleared, l)
	return l, nil
}

func (c *Component) sweepLoop() {
	ticker := time.NewTicker(c.cfg.GetSweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.Ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Sweep reclaims expired leases in batches until none remain.
func (c *Component) Sweep() int {
	store := c.provider.Store()
	batch := c.cfg.GetSweepBatch()
	total := 0
	for {
		reclaimed, more := store.ExpireSweep(c.now(), batch)
		for _, l := range reclaimed {
			c.publish(events.LeaseExpired, l)
		}
		total += len(reclaimed)
		if !more || c.Stopping() {
			break
		}
	}
	if total > 0 {
		c.logger.Info("Expired leases reclaimed", "count", total)
	}
	return total
}

func (c *Component) checkpointLoop() {
	ticker := time.NewTicker(c.cfg.GetCheckpointInterval())
	defer ticker.Stop()

	for {
		select {
		case <-c.Ctx.Done():
			return
		case <-ticker.C:
			n, err := c.checkpointer.Save(c.Ctx)
			if err != nil {
				c.logger.Error("Lease checkpoint failed", "error", err)
				continue
			}
			c.logger.Debug("Lease checkpoint written", "leases", n)
		}
	}
}
