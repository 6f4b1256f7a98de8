package transport

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

var (
	serverMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	clientMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
	otherMAC  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x03}
)

func recvWithin(t *testing.T, c Conn) (*Datagram, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	return c.Receive(ctx)
}

func TestHubDelivery(t *testing.T) {
	hub := NewHub()
	server := hub.Attach(Endpoint{Interface: "srv0", Addr: netip.MustParseAddr("10.0.0.1"), Port: dhcp.ServerPort, HWAddr: serverMAC})
	client := hub.Attach(Endpoint{Interface: "cli0", Port: dhcp.ClientPort, HWAddr: clientMAC})
	other := hub.Attach(Endpoint{Interface: "cli1", Port: dhcp.ClientPort, HWAddr: otherMAC})
	ctx := context.Background()

	require.NoError(t, client.Send(ctx, []byte("discover"), To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))))
	d, err := recvWithin(t, server)
	require.NoError(t, err)
	assert.Equal(t, []byte("discover"), d.Payload)
	assert.Equal(t, netip.MustParseAddrPort("0.0.0.0:68"), d.Src)
	assert.Equal(t, clientMAC, d.SrcMAC)
	assert.Equal(t, "srv0", d.Interface)
	_, err = recvWithin(t, other)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "port 68 endpoints do not see port 67 traffic")

	offer := dhcp.Destination{Type: dhcp.TxHardwareAddr, Addr: netip.MustParseAddrPort("10.0.0.10:68"), HWAddr: clientMAC}
	require.NoError(t, server.Send(ctx, []byte("offer"), offer))
	d, err = recvWithin(t, client)
	require.NoError(t, err)
	assert.Equal(t, []byte("offer"), d.Payload)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:67"), d.Src)
	_, err = recvWithin(t, other)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	client.SetSource(netip.MustParseAddr("10.0.0.10"))
	require.NoError(t, server.Send(ctx, []byte("unicast"), To(netip.MustParseAddrPort("10.0.0.10:68"))))
	d, err = recvWithin(t, client)
	require.NoError(t, err)
	assert.Equal(t, []byte("unicast"), d.Payload)

	require.NoError(t, server.Send(ctx, []byte("nak"), To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ClientPort))))
	for _, c := range []*MemConn{client, other} {
		d, err := recvWithin(t, c)
		require.NoError(t, err)
		assert.Equal(t, []byte("nak"), d.Payload)
	}
}

func TestHubFilterAndClose(t *testing.T) {
	hub := NewHub()
	server := hub.Attach(Endpoint{Port: dhcp.ServerPort})
	client := hub.Attach(Endpoint{Port: dhcp.ClientPort, HWAddr: clientMAC})
	bcast := To(netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))
	ctx := context.Background()

	hub.SetFilter(func(from *MemConn, _ *Datagram) bool { return from != client })
	require.NoError(t, client.Send(ctx, []byte("lost"), bcast))
	_, err := recvWithin(t, server)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	hub.SetFilter(nil)
	require.NoError(t, server.Close())
	require.NoError(t, server.Close())
	_, err = server.Receive(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, server.Send(ctx, []byte("x"), bcast), ErrClosed)
	require.NoError(t, client.Send(ctx, []byte("nobody"), bcast))
}

func TestTo(t *testing.T) {
	assert.Equal(t, dhcp.TxBroadcast, To(netip.AddrPortFrom(dhcp.Broadcast, 67)).Type)
	assert.Equal(t, dhcp.TxClientAddr, To(netip.MustParseAddrPort("192.0.2.1:67")).Type)
}

func TestFrameRoundTrip(t *testing.T) {
	msg := dhcp.NewRequest(dhcp.DHCPDiscover, 0xabcd, clientMAC)
	msg.Pad(dhcp.MinPacketSize)
	payload := msg.Encode()

	src := netip.MustParseAddrPort("0.0.0.0:68")
	dst := netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort)
	frame, err := buildFrame(clientMAC, broadcastMAC, src, dst, payload)
	require.NoError(t, err)
	assert.Len(t, frame, 14+20+8+len(payload))

	d, ok := parseFrame(frame, dhcp.ServerPort)
	require.True(t, ok)
	assert.Equal(t, payload, d.Payload)
	assert.Equal(t, src, d.Src)
	assert.Equal(t, dst, d.Dst)
	assert.Equal(t, clientMAC, d.SrcMAC)

	decoded, err := dhcp.Decode(d.Payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xabcd), decoded.XID)

	_, ok = parseFrame(frame, dhcp.ClientPort)
	assert.False(t, ok, "frames for another port are skipped")
	_, ok = parseFrame(frame[:20], dhcp.ServerPort)
	assert.False(t, ok)
}
