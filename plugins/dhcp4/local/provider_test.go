package local

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
)

const testConfig = `
dhcp:
  server:
    pool:
      network: 192.0.2.0/24
      ranges: ["192.0.2.100-192.0.2.110"]
    reservations:
      - mac: "02:00:00:00:00:aa"
        address: 192.0.2.20
      - client_id: "ff:00:00:00:01"
        address: 192.0.2.21
    options:
      routers: [192.0.2.1]
      dns_servers: [192.0.2.53]
      domain_name: example.net
      classless_routes:
        - destination: 10.0.0.0/8
          next_hop: 192.0.2.254
      raw:
        252: "68:74:74:70"
`

func TestNewFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	factory, ok := dhcp4.Get("local")
	require.True(t, ok)
	assert.Contains(t, dhcp4.List(), "local")

	prov, err := factory(cfg)
	require.NoError(t, err)
	assert.Equal(t, "local", prov.Info().Name)
	assert.Equal(t, netip.MustParseAddr("192.0.2.1"), prov.ServerID())
	assert.Equal(t, 11, prov.Store().Pool().Size())

	hw := net.HardwareAddr{0x02, 0, 0, 0, 0, 0xaa}
	out, err := prov.HandlePacket(context.Background(), &dhcp4.Packet{Raw: dhcp.NewRequest(dhcp.DHCPDiscover, 1, hw).Encode()})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.20"), out.Msg.YIAddr)

	mask, err := out.Msg.SubnetMask()
	require.NoError(t, err)
	assert.Equal(t, net.CIDRMask(24, 32), mask)
	routes, err := out.Msg.ClasslessStaticRoutes()
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, netip.MustParsePrefix("10.0.0.0/8"), routes[0].Destination)
	raw, ok := out.Msg.Options.Get(252)
	require.True(t, ok)
	assert.Equal(t, []byte("http"), raw)

	byID := dhcp.NewRequest(dhcp.DHCPDiscover, 2, net.HardwareAddr{0x02, 0, 0, 0, 0, 0xbb})
	byID.SetClientIdentifier(0xff, []byte{0, 0, 0, 1})
	out, err = prov.HandlePacket(context.Background(), &dhcp4.Packet{Msg: byID})
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.21"), out.Msg.YIAddr)
}

func TestNewRequiresServerID(t *testing.T) {
	cfg, err := config.Parse([]byte("dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n"))
	require.NoError(t, err)

	_, err = New(cfg)
	assert.ErrorContains(t, err, "server_id")

	cfg.DHCP.Server.ServerID = "192.0.2.2"
	prov, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.0.2.2"), prov.ServerID())

	_, err = New(&config.Config{})
	assert.Error(t, err)
}

func TestNewRejectsProtocolRawOption(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	// a config built in code skips Parse
	cfg.DHCP.Server.Options.Raw[54] = "c0000201"
	_, err = New(cfg)
	assert.ErrorContains(t, err, "raw 54")
}
