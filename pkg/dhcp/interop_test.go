package dhcp

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodedMessageParsesWithGopacket(t *testing.T) {
	ack := NewReply(NewRequest(DHCPRequest, 0x1234, testMAC), DHCPAck)
	ack.YIAddr = netip.MustParseAddr("10.0.0.10")
	ack.SetServerIdentifier(netip.MustParseAddr("10.0.0.1"))
	ack.SetLeaseTime(2 * time.Hour)
	ack.Pad(MinPacketSize)

	var layer layers.DHCPv4
	require.NoError(t, layer.DecodeFromBytes(ack.Encode(), gopacket.NilDecodeFeedback))

	assert.Equal(t, layers.DHCPOpReply, layer.Operation)
	assert.Equal(t, uint32(0x1234), layer.Xid)
	assert.True(t, layer.YourClientIP.Equal(net.IPv4(10, 0, 0, 10)))
	assert.Equal(t, testMAC, layer.ClientHWAddr)

	var msgType layers.DHCPMsgType
	for _, opt := range layer.Options {
		if opt.Type == layers.DHCPOptMessageType {
			msgType = layers.DHCPMsgType(opt.Data[0])
		}
	}
	assert.Equal(t, layers.DHCPMsgTypeAck, msgType)
}

func TestDecodeGopacketSerialized(t *testing.T) {
	layer := &layers.DHCPv4{
		Operation:    layers.DHCPOpRequest,
		HardwareType: layers.LinkTypeEthernet,
		HardwareLen:  6,
		Xid:          0xcafe,
		ClientHWAddr: testMAC,
		Options: layers.DHCPOptions{
			layers.NewDHCPOption(layers.DHCPOptMessageType, []byte{byte(layers.DHCPMsgTypeDiscover)}),
			layers.NewDHCPOption(layers.DHCPOptHostname, []byte("gopacket")),
		},
	}

	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, layer))

	m, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, DHCPDiscover, m.Type())
	assert.Equal(t, uint32(0xcafe), m.XID)

	host, err := m.HostName()
	require.NoError(t, err)
	assert.Equal(t, "gopacket", host)
	assert.Equal(t, buf.Bytes(), m.Encode())
}

func TestGopacketDropsTrailingPadding(t *testing.T) {
	ack := NewReply(NewRequest(DHCPRequest, 0x1234, testMAC), DHCPAck)
	ack.YIAddr = netip.MustParseAddr("10.0.0.10")
	ack.SetServerIdentifier(netip.MustParseAddr("10.0.0.1"))
	ack.SetLeaseTime(2 * time.Hour)
	ack.Pad(MinPacketSize)
	raw := ack.Encode()
	require.Len(t, raw, MinPacketSize)

	var layer layers.DHCPv4
	require.NoError(t, layer.DecodeFromBytes(raw, gopacket.NilDecodeFeedback))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, &layer))
	assert.Less(t, len(buf.Bytes()), len(raw))

	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, m.Encode())
}
