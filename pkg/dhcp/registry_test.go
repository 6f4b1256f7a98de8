package dhcp

import (
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		code    OptionCode
		data    []byte
		wantErr bool
	}{
		{"mask ok", OptionSubnetMask, []byte{255, 255, 255, 0}, false},
		{"mask short", OptionSubnetMask, []byte{255, 255, 255}, true},
		{"mask non-contiguous", OptionSubnetMask, []byte{255, 0, 255, 0}, true},
		{"router one", OptionRouter, []byte{10, 0, 0, 1}, false},
		{"router two", OptionRouter, []byte{10, 0, 0, 1, 10, 0, 0, 2}, false},
		{"router empty", OptionRouter, []byte{}, true},
		{"router ragged", OptionRouter, []byte{10, 0, 0, 1, 10, 0}, true},
		{"lease time long", OptionIPAddressLeaseTime, []byte{0, 0, 0, 0, 1}, true},
		{"message type unknown", OptionDHCPMessageType, []byte{9}, true},
		{"max size below floor", OptionMaximumMessageSize, []byte{0x01, 0xf4}, true},
		{"max size ok", OptionMaximumMessageSize, []byte{0x05, 0xdc}, false},
		{"mtu below floor", OptionInterfaceMTU, []byte{0, 60}, true},
		{"client id too short", OptionClientIdentifier, []byte{1}, true},
		{"overload out of range", OptionOverload, []byte{4}, true},
		{"relay info truncated", OptionRelayAgentInformation, []byte{1, 5, 'a'}, true},
		{"unknown code", 250, []byte{1, 2, 3}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.code, tt.data)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOptionValue))

			var oe *OptionError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, tt.code, oe.Code)
		})
	}
}

func TestProtocolOption(t *testing.T) {
	for _, code := range []OptionCode{
		OptionPad, OptionEnd, OptionIPAddressLeaseTime, OptionDHCPMessageType,
		OptionServerIdentifier, OptionRenewalTimeValue, OptionRebindingTimeValue,
		OptionClientIdentifier, OptionRelayAgentInformation,
	} {
		assert.True(t, ProtocolOption(code), "option %d", code)
	}
	for _, code := range []OptionCode{OptionSubnetMask, OptionRouter, OptionDomainName, OptionClasslessStaticRoute, 252} {
		assert.False(t, ProtocolOption(code), "option %d", code)
	}
}

func TestTypedAccessors(t *testing.T) {
	m := NewRequest(DHCPRequest, 1, testMAC)

	_, err := m.LeaseTime()
	assert.True(t, errors.Is(err, ErrOptionNotFound))

	m.SetLeaseTime(90 * time.Second)
	m.SetRequestedIP(netip.MustParseAddr("10.0.0.11"))
	m.SetClientIdentifier(HTypeEthernet, testMAC)
	m.SetMaxMessageSize(1500)
	m.SetHostName("printer")
	m.SetRouters([]netip.Addr{netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.2")})

	lt, err := m.LeaseTime()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, lt)

	req, err := m.RequestedIP()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.11", req.String())

	typ, id, err := m.ClientIdentifier()
	require.NoError(t, err)
	assert.Equal(t, byte(HTypeEthernet), typ)
	assert.Equal(t, []byte(testMAC), id)

	size, err := m.MaxMessageSize()
	require.NoError(t, err)
	assert.Equal(t, uint16(1500), size)

	routers, err := m.Routers()
	require.NoError(t, err)
	assert.Len(t, routers, 2)

	m.SetRouters(nil)
	assert.False(t, m.Options.Has(OptionRouter))

	// Values are never truncated or guessed.
	m.Options.Set(OptionSubnetMask, []byte{255, 255})
	_, err = m.SubnetMask()
	var oe *OptionError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, OptionSubnetMask, oe.Code)
	assert.Error(t, m.Validate())
}

func TestClasslessRoutes(t *testing.T) {
	routes := []ClasslessRoute{
		{Destination: netip.MustParsePrefix("0.0.0.0/0"), NextHop: netip.MustParseAddr("10.0.0.1")},
		{Destination: netip.MustParsePrefix("192.168.0.0/16"), NextHop: netip.MustParseAddr("10.0.0.254")},
		{Destination: netip.MustParsePrefix("10.17.0.0/20"), NextHop: netip.MustParseAddr("10.0.0.253")},
	}

	data := EncodeClasslessRoutes(routes)
	assert.Equal(t, []byte{
		0, 10, 0, 0, 1,
		16, 192, 168, 10, 0, 0, 254,
		20, 10, 17, 0, 10, 0, 0, 253,
	}, data)

	got, err := DecodeClasslessRoutes(data)
	require.NoError(t, err)
	assert.Equal(t, routes, got)

	_, err = DecodeClasslessRoutes([]byte{24, 10, 0})
	assert.True(t, errors.Is(err, ErrInvalidOptionValue))
}

func TestResolvedApplyOrdering(t *testing.T) {
	res := &ResolvedDHCPv4{
		YourIP:    netip.MustParseAddr("10.0.0.10"),
		Netmask:   net.CIDRMask(24, 32),
		Routers:   []netip.Addr{netip.MustParseAddr("10.0.0.1")},
		DNS:       []netip.Addr{netip.MustParseAddr("10.0.0.53")},
		LeaseTime: time.Hour,
		ServerID:  netip.MustParseAddr("10.0.0.1"),
		Extra:     Options{{Code: 66, Data: []byte("tftp")}},
	}

	reply := NewReply(NewRequest(DHCPRequest, 3, testMAC), DHCPAck)
	res.Apply(reply, []OptionCode{OptionDomainNameServer, OptionRouter, OptionSubnetMask, OptionDomainName})

	assert.Equal(t, []OptionCode{
		OptionDHCPMessageType,
		OptionServerIdentifier,
		OptionIPAddressLeaseTime,
		OptionSubnetMask,
		OptionDomainNameServer,
		OptionRouter,
	}, reply.Options.Codes())

	all := NewReply(NewRequest(DHCPRequest, 3, testMAC), DHCPAck)
	all.YIAddr = res.YourIP
	res.Apply(all, nil)
	assert.True(t, all.Options.Has(66))

	back, err := ResolvedFromMessage(all)
	require.NoError(t, err)
	assert.Equal(t, res.Routers, back.Routers)
	assert.Equal(t, res.DNS, back.DNS)
	assert.Equal(t, time.Hour, back.LeaseTime)
	assert.Equal(t, "10.0.0.0/24", back.Prefix().Masked().String())
}
