package dhcpc

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

func newScheduledSession(t *testing.T, name string, hw net.HardwareAddr, out chan<- *dhcp.Message) *Session {
	t.Helper()
	s, err := NewSession(Config{
		Interface:    name,
		HWAddr:       hw,
		Backoff:      Backoff{Initial: 20 * time.Millisecond, Max: 20 * time.Millisecond, Retries: 50},
		SelectWindow: 10 * time.Millisecond,
	}, Callbacks{
		Send: func(m *dhcp.Message, _ netip.AddrPort) { out <- m },
	})
	require.NoError(t, err)
	return s
}

func receive(t *testing.T, ch <-chan *dhcp.Message, mt dhcp.MessageType) *dhcp.Message {
	t.Helper()
	for {
		select {
		case m := <-ch:
			if m.Type() == mt {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s sent", mt)
			return nil
		}
	}
}

func TestSchedulerDrivesExchange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := NewScheduler(nil)
	stopped := make(chan error, 1)
	go func() { stopped <- sched.Run(ctx) }()

	out := make(chan *dhcp.Message, 64)
	sess := newScheduledSession(t, "eth0", testMAC, out)
	require.NoError(t, sched.Add(ctx, sess))

	discover := receive(t, out, dhcp.DHCPDiscover)
	require.NoError(t, sched.Deliver(ctx, sess.ID(), offerFor(discover, leasedIP, serverA)))

	request := receive(t, out, dhcp.DHCPRequest)
	require.NoError(t, sched.Deliver(ctx, sess.ID(), ackFor(request, leasedIP, serverA, time.Hour)))

	got, ok := sched.Get(sess.ID())
	require.True(t, ok)
	assert.Equal(t, StateBound, got.State())

	err := sched.Deliver(ctx, sess.ID(), ackFor(request, leasedIP, serverA, time.Hour))
	assert.ErrorIs(t, err, ErrIgnored)

	require.NoError(t, sched.Release(ctx, sess.ID()))
	assert.Equal(t, StateStopped, sess.State())
	receive(t, out, dhcp.DHCPRelease)

	cancel()
	assert.ErrorIs(t, <-stopped, context.Canceled)
	assert.ErrorIs(t, sched.Renew(context.Background(), sess.ID()), ErrSchedulerStopped)
}

func TestSchedulerRetransmits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := NewScheduler(nil)
	go sched.Run(ctx)

	out := make(chan *dhcp.Message, 64)
	sess := newScheduledSession(t, "eth0", testMAC, out)
	require.NoError(t, sched.Add(ctx, sess))

	first := receive(t, out, dhcp.DHCPDiscover)
	second := receive(t, out, dhcp.DHCPDiscover)
	assert.Equal(t, first.XID, second.XID)

	require.NoError(t, sched.Remove(ctx, sess.ID()))
	assert.Equal(t, StateStopped, sess.State())
	assert.Empty(t, sched.Sessions())
	assert.ErrorIs(t, sched.Deliver(ctx, sess.ID(), first), ErrUnknownSession)
}

func TestSchedulerSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := NewScheduler(nil)
	go sched.Run(ctx)

	out := make(chan *dhcp.Message, 64)
	b := newScheduledSession(t, "eth1", net.HardwareAddr{2, 0, 0, 0, 0, 2}, out)
	a := newScheduledSession(t, "eth0", net.HardwareAddr{2, 0, 0, 0, 0, 1}, out)
	require.NoError(t, sched.Add(ctx, b))
	require.NoError(t, sched.Add(ctx, a))

	sessions := sched.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "eth0", sessions[0].Interface())
	assert.Equal(t, "eth1", sessions[1].Interface())

	found, ok := sched.ByInterface("eth1")
	require.True(t, ok)
	assert.Equal(t, b.ID(), found.ID())
	_, ok = sched.ByInterface("eth9")
	assert.False(t, ok)
}
