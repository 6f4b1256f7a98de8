package dhcp

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMAC = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}

// rawDiscover builds a DISCOVER the way common clients lay it out: a pad
// between options and zero fill up to the BOOTP minimum.
func rawDiscover(t *testing.T) []byte {
	t.Helper()

	b := make([]byte, MinPacketSize)
	b[offOp] = byte(OpBootRequest)
	b[offHType] = HTypeEthernet
	b[offHLen] = HLenEthernet
	binary.BigEndian.PutUint32(b[offXID:], 0xdeadbeef)
	binary.BigEndian.PutUint16(b[offFlags:], FlagBroadcast)
	copy(b[offCHAddr:], testMAC)
	binary.BigEndian.PutUint32(b[HeaderSize:], MagicCookie)

	opts := []byte{
		53, 1, 1,
		0,
		55, 4, 1, 3, 6, 15,
		61, 7, 1, 0x02, 0x00, 0x5e, 0x10, 0x00, 0x01,
		224, 3, 'a', 'b', 'c',
		255,
	}
	copy(b[optionsOffset:], opts)
	return b
}

func TestDecodeEncodeByteIdentical(t *testing.T) {
	raw := rawDiscover(t)

	m, err := Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, OpBootRequest, m.Op)
	assert.Equal(t, uint32(0xdeadbeef), m.XID)
	assert.Equal(t, DHCPDiscover, m.Type())
	assert.True(t, m.Broadcast())
	assert.Equal(t, testMAC, m.HardwareAddr())
	assert.False(t, m.CIAddr.IsValid())

	unknown, ok := m.Options.Get(224)
	require.True(t, ok, "unknown option must be preserved")
	assert.Equal(t, []byte("abc"), unknown)

	assert.Equal(t, raw, m.Encode())
}

func TestMessageRoundTrip(t *testing.T) {
	offer := NewReply(NewRequest(DHCPDiscover, 42, testMAC), DHCPOffer)
	offer.YIAddr = netip.MustParseAddr("10.0.0.10")
	offer.SIAddr = netip.MustParseAddr("10.0.0.1")
	offer.SetServerIdentifier(netip.MustParseAddr("10.0.0.1"))
	offer.SetLeaseTime(time.Hour)
	offer.SetSubnetMask(net.CIDRMask(24, 32))
	offer.SetRouters([]netip.Addr{netip.MustParseAddr("10.0.0.1")})
	offer.SetDNSServers([]netip.Addr{netip.MustParseAddr("1.1.1.1"), netip.MustParseAddr("8.8.8.8")})
	offer.SetBootFileName("pxelinux.0")
	offer.Pad(MinPacketSize)

	request := NewRequest(DHCPRequest, 7, testMAC)
	request.Secs = 3
	request.CIAddr = netip.MustParseAddr("10.0.0.10")
	request.GIAddr = netip.MustParseAddr("192.0.2.1")
	request.Hops = 1
	request.SetHostName("host-a")
	request.SetParameterRequestList([]OptionCode{OptionSubnetMask, OptionRouter})
	request.Options.Add(OptionRouter, []byte{10, 0, 0, 2})

	tests := []struct {
		name string
		msg  *Message
	}{
		{"offer", offer},
		{"request with duplicate option", request},
		{"bare bootp", &Message{Op: OpBootRequest, HType: HTypeEthernet, HLen: 6, XID: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestPadReachesMinimum(t *testing.T) {
	m := NewRequest(DHCPDiscover, 1, testMAC)
	m.Pad(MinPacketSize)
	assert.Len(t, m.Encode(), MinPacketSize)

	m.Options.Add(OptionVendorSpecific, make([]byte, 200))
	m.Pad(MinPacketSize)
	assert.Equal(t, 0, m.Padding)
	assert.Greater(t, len(m.Encode()), MinPacketSize)
}

func TestDecodeErrors(t *testing.T) {
	valid := rawDiscover(t)

	badCookie := append([]byte(nil), valid...)
	badCookie[HeaderSize] = 0x99

	truncatedValue := append([]byte(nil), valid[:optionsOffset]...)
	truncatedValue = append(truncatedValue, 53, 1, 1, 12, 10, 'h', 'o')

	missingLength := append([]byte(nil), valid[:optionsOffset]...)
	missingLength = append(missingLength, 53, 1, 1, 12)

	badHLen := append([]byte(nil), valid...)
	badHLen[offHLen] = 17

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformedHeader},
		{"short header", valid[:100], ErrMalformedHeader},
		{"hlen too large", badHLen, ErrMalformedHeader},
		{"no cookie", valid[:HeaderSize], ErrInvalidMagicCookie},
		{"partial cookie", valid[:HeaderSize+2], ErrInvalidMagicCookie},
		{"wrong cookie", badCookie, ErrInvalidMagicCookie},
		{"value past end", truncatedValue, ErrTruncatedOption},
		{"length past end", missingLength, ErrTruncatedOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)

			var de *DecodeError
			assert.True(t, errors.As(err, &de))
		})
	}
}

func TestDecodeWithoutEndOption(t *testing.T) {
	raw := rawDiscover(t)
	raw = append(raw[:optionsOffset:optionsOffset], 53, 1, 3)

	m, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, DHCPRequest, m.Type())
	assert.Equal(t, byte(OptionEnd), m.Encode()[optionsOffset+3])
}

func TestLongOptionsSplitAndConcatenate(t *testing.T) {
	m := NewRequest(DHCPInform, 9, testMAC)
	blob := make([]byte, 600)
	for i := range blob {
		blob[i] = byte(i)
	}
	m.SetVendorSpecific(blob)

	assert.Len(t, m.Options, 4)

	got, err := Decode(m.Encode())
	require.NoError(t, err)

	vs, err := got.VendorSpecific()
	require.NoError(t, err)
	assert.Equal(t, blob, vs)
}

func TestAllOptionsHonoursOverload(t *testing.T) {
	m := NewRequest(DHCPOffer, 5, testMAC)
	m.Options.Set(OptionOverload, []byte{1})
	copy(m.File[:], []byte{byte(OptionHostName), 3, 'b', 'o', 'x', byte(OptionEnd)})

	all, err := m.AllOptions()
	require.NoError(t, err)

	host, ok := all.Get(OptionHostName)
	require.True(t, ok)
	assert.Equal(t, "box", string(host))

	plain := NewRequest(DHCPOffer, 5, testMAC)
	all, err = plain.AllOptions()
	require.NoError(t, err)
	assert.Equal(t, plain.Options, all)
}
