package dhcpd

import (
	"context"
	"net"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/allocator"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	eventslocal "github.com/veesix-networks/osvdhcp/pkg/events/local"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
	"github.com/veesix-networks/osvdhcp/pkg/opdb/sqlite"
	"github.com/veesix-networks/osvdhcp/pkg/transport"
	"github.com/veesix-networks/osvdhcp/plugins/dhcp4/local"
)

var (
	serverID  = netip.MustParseAddr("10.0.0.1")
	serverMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x0a}
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// unicastless behaves like the UDP transport: no frames to bare MACs.
type unicastless struct {
	*transport.MemConn
}

func (u unicastless) Send(ctx context.Context, payload []byte, dst dhcp.Destination) error {
	if dst.Type == dhcp.TxHardwareAddr {
		return transport.ErrHardwareUnicast
	}
	return u.MemConn.Send(ctx, payload, dst)
}

type fixture struct {
	comp   *Component
	hub    *transport.Hub
	client *transport.MemConn
	clock  *clock
	db     opdb.Store
	leases chan events.LeaseEvent
}

func newFixture(t *testing.T, wrap func(*transport.MemConn) transport.Conn) *fixture {
	t.Helper()

	pool, err := allocator.ParsePool("lan", "10.0.0.0/24", []string{"10.0.0.10-10.0.0.20"}, nil)
	require.NoError(t, err)
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	store, err := lease.NewStore(lease.Config{Pool: pool, Now: clk.Now})
	require.NoError(t, err)
	provider, err := local.NewProvider(local.Settings{
		ServerID:  serverID,
		Store:     store,
		LeaseTime: time.Hour,
		Options:   &dhcp.ResolvedDHCPv4{Netmask: net.CIDRMask(24, 32), Routers: []netip.Addr{serverID}},
	})
	require.NoError(t, err)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "opdb.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := eventslocal.NewBus()
	t.Cleanup(func() { bus.Close() })
	leases := make(chan events.LeaseEvent, 16)
	events.On(bus, events.TopicLease, func(e events.LeaseEvent) { leases <- e })

	hub := transport.NewHub()
	srv := hub.Attach(transport.Endpoint{Interface: "lan0", Addr: serverID, Port: dhcp.ServerPort, HWAddr: serverMAC})
	var conn transport.Conn = srv
	if wrap != nil {
		conn = wrap(srv)
	}

	cfg := &config.Config{DHCP: ip.DHCPConfig{Server: &ip.DHCPServer{Interface: "lan0", Workers: 2}}}
	comp, err := New(component.Dependencies{Config: cfg, EventBus: bus, OpDB: db}, provider,
		WithConn(conn), WithClock(clk.Now))
	require.NoError(t, err)
	require.NoError(t, comp.Start(context.Background()))
	t.Cleanup(func() { comp.Stop(context.Background()) })

	return &fixture{
		comp:   comp,
		hub:    hub,
		client: hub.Attach(transport.Endpoint{Interface: "cpe0", Port: dhcp.ClientPort, HWAddr: clientMAC}),
		clock:  clk,
		db:     db,
		leases: leases,
	}
}

func (f *fixture) exchange(t *testing.T, m *dhcp.Message) *dhcp.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, f.client.Send(ctx, m.Encode(), transport.To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))))
	d, err := f.client.Receive(ctx)
	require.NoError(t, err)
	reply, err := dhcp.Decode(d.Payload)
	require.NoError(t, err)
	return reply
}

func (f *fixture) nextLease(t *testing.T) events.LeaseEvent {
	t.Helper()
	select {
	case e := <-f.leases:
		return e
	case <-time.After(time.Second):
		t.Fatal("no lease event")
		return events.LeaseEvent{}
	}
}

func (f *fixture) bind(t *testing.T) netip.Addr {
	t.Helper()
	offer := f.exchange(t, dhcp.NewRequest(dhcp.DHCPDiscover, 1, clientMAC))
	require.Equal(t, dhcp.DHCPOffer, offer.Type())

	req := dhcp.NewRequest(dhcp.DHCPRequest, 2, clientMAC)
	req.SetServerIdentifier(serverID)
	req.SetRequestedIP(offer.YIAddr)
	ack := f.exchange(t, req)
	require.Equal(t, dhcp.DHCPAck, ack.Type())
	assert.Equal(t, offer.YIAddr, ack.YIAddr)
	return ack.YIAddr
}

func TestServeExchange(t *testing.T) {
	f := newFixture(t, nil)
	addr := f.bind(t)
	assert.Equal(t, netip.MustParseAddr("10.0.0.10"), addr)

	offered := f.nextLease(t)
	assert.Equal(t, events.LeaseOffered, offered.Action)
	assert.Equal(t, "lan0", offered.Interface)
	bound := f.nextLease(t)
	assert.Equal(t, events.LeaseBound, bound.Action)
	assert.Equal(t, addr, bound.Lease.Addr)
	assert.Equal(t, lease.StateBound, bound.Lease.State)

	require.Eventually(t, func() bool { return f.comp.Counters().Replied == 2 }, time.Second, 5*time.Millisecond)
	counters := f.comp.Counters()
	assert.Equal(t, uint64(2), counters.Received)
	assert.Equal(t, uint64(1), counters.ByType["DHCPDISCOVER"])
	assert.Equal(t, uint64(1), counters.ByType["DHCPREQUEST"])
}

func TestServeBroadcastFallback(t *testing.T) {
	f := newFixture(t, func(c *transport.MemConn) transport.Conn { return unicastless{c} })
	assert.True(t, f.bind(t).IsValid())
}

func TestServeDropsCounted(t *testing.T) {
	f := newFixture(t, nil)

	req := dhcp.NewRequest(dhcp.DHCPRequest, 7, clientMAC)
	req.SetServerIdentifier(netip.MustParseAddr("10.0.0.254"))
	req.SetRequestedIP(netip.MustParseAddr("10.0.0.10"))
	require.NoError(t, f.client.Send(context.Background(), req.Encode(), transport.To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))))
	require.NoError(t, f.client.Send(context.Background(), []byte("garbage"), transport.To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))))

	require.Eventually(t, func() bool { return f.comp.Counters().Received == 2 }, time.Second, 5*time.Millisecond)
	counters := f.comp.Counters()
	assert.Equal(t, uint64(1), counters.Drops["not_for_us"])
	assert.Equal(t, uint64(1), counters.Drops["invalid"])
	assert.Equal(t, uint64(1), counters.ByType["unknown"])
	assert.Zero(t, counters.Replied)
}

func TestSweepPublishesExpired(t *testing.T) {
	f := newFixture(t, nil)
	addr := f.bind(t)
	f.nextLease(t)
	f.nextLease(t)

	assert.Zero(t, f.comp.Sweep())
	f.clock.Advance(time.Hour)
	assert.Equal(t, 1, f.comp.Sweep())

	expired := f.nextLease(t)
	assert.Equal(t, events.LeaseExpired, expired.Action)
	assert.Equal(t, addr, expired.Lease.Addr)
	_, ok := f.comp.Provider().Store().Get(addr)
	assert.False(t, ok)
}

func TestClearLeasePublishes(t *testing.T) {
	f := newFixture(t, nil)
	addr := f.bind(t)
	f.nextLease(t)
	f.nextLease(t)

	decline := dhcp.NewRequest(dhcp.DHCPDecline, 9, clientMAC)
	decline.SetServerIdentifier(serverID)
	decline.SetRequestedIP(addr)
	require.NoError(t, f.client.Send(context.Background(), decline.Encode(), transport.To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))))
	assert.Equal(t, events.LeaseDeclined, f.nextLease(t).Action)

	l, err := f.comp.ClearLease(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, l.Addr)
	assert.Equal(t, events.LeaseCleared, f.nextLease(t).Action)

	_, err = f.comp.ClearLease(addr)
	assert.ErrorIs(t, err, lease.ErrNoLease)
}

func TestStopWritesCheckpoint(t *testing.T) {
	f := newFixture(t, nil)
	addr := f.bind(t)
	require.NoError(t, f.comp.Stop(context.Background()))

	keys := map[string]bool{}
	err := f.db.Load(context.Background(), opdb.NamespaceDHCPv4Leases, func(key string, _ []byte) error {
		keys[key] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{addr.String(): true}, keys)
}
