package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/config/ip"
)

const serverYAML = `
logging:
  format: json
  level: debug
  components:
    dhcpd: warn
dhcp:
  server:
    interface: eth1
    server_id: 192.0.2.1
    pool:
      network: 192.0.2.0/24
      ranges: ["192.0.2.100-192.0.2.199"]
      exclude: ["192.0.2.150"]
    reservations:
      - mac: "02:00:00:00:00:01"
        address: 192.0.2.10
    lease_time: 600
    offer_timeout: 30s
    options:
      routers: [192.0.2.1]
      dns_servers: [192.0.2.53, 192.0.2.54]
      domain_name: example.net
      mtu: 1500
      classless_routes:
        - destination: 10.0.0.0/8
          next_hop: 192.0.2.254
      raw:
        252: "68:74:74:70"
    exhausted_policy: nak
`

func TestParseServerConfig(t *testing.T) {
	cfg, err := Parse([]byte(serverYAML))
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Logging.Format)
	assert.EqualValues(t, "warn", cfg.Logging.Components["dhcpd"])
	assert.Equal(t, DefaultOpDBPath, cfg.OpDB.Path)
	assert.Equal(t, DefaultAPIAddress, cfg.API.Address)

	s := cfg.DHCP.Server
	require.NotNil(t, s)
	assert.Nil(t, cfg.DHCP.Client)
	assert.Equal(t, "local", s.GetProvider())
	assert.Equal(t, "0.0.0.0:67", s.GetListen())
	assert.Equal(t, 10*time.Minute, s.GetLeaseTime())
	assert.Equal(t, 10*time.Minute, s.GetMaxLeaseTime())
	assert.Equal(t, 30*time.Second, s.GetOfferTimeout())
	assert.Equal(t, ip.ExhaustedNAK, s.GetExhaustedPolicy())
	assert.Equal(t, 0.5, s.RenewalRatio)
	assert.Equal(t, 0.875, s.RebindingRatio)

	pool, err := s.BuildPool()
	require.NoError(t, err)
	assert.Equal(t, 99, pool.Size())
}

func TestParseClientConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
dhcp:
  client:
    interfaces:
      - name: eth0
        hostname: edge-1
        client_id: "01:02:00:00:00:00:09"
    backoff:
      retries: 6
`))
	require.NoError(t, err)

	c := cfg.DHCP.Client
	require.NotNil(t, c)
	assert.Equal(t, ip.TransportRaw, c.GetTransport())
	assert.Equal(t, 2*time.Second, c.GetSelectWindow())
	assert.Equal(t, 4*time.Second, c.Backoff.GetInitial())
	assert.Equal(t, 64*time.Second, c.Backoff.GetMax())
	assert.Equal(t, 6, c.Backoff.GetRetries())
	assert.Equal(t, time.Second, c.Backoff.GetJitter())
	require.NotNil(t, c.GetInterface("eth0"))
	assert.Nil(t, c.GetInterface("eth9"))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "bad log format",
			yaml: "logging:\n  format: xml\n",
			want: "logging.format",
		},
		{
			name: "bad component level",
			yaml: "logging:\n  components:\n    dhcpd: loud\n",
			want: "logging.components.dhcpd",
		},
		{
			name: "pool outside network",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n      ranges: [\"198.51.100.1-198.51.100.9\"]\n",
			want: "dhcp.server.pool",
		},
		{
			name: "bad policy",
			yaml: "dhcp:\n  server:\n    exhausted_policy: drop\n    pool:\n      network: 192.0.2.0/24\n",
			want: "exhausted_policy",
		},
		{
			name: "raw needs interface",
			yaml: "dhcp:\n  server:\n    transport: raw\n    pool:\n      network: 192.0.2.0/24\n",
			want: "interface",
		},
		{
			name: "ratios inverted",
			yaml: "dhcp:\n  server:\n    renewal_ratio: 0.9\n    rebinding_ratio: 0.5\n    pool:\n      network: 192.0.2.0/24\n",
			want: "rebinding_ratio",
		},
		{
			name: "reservation needs one identity",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    reservations:\n      - address: 192.0.2.5\n",
			want: "reservations[0]",
		},
		{
			name: "small mtu",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    options:\n      mtu: 40\n",
			want: "options.mtu",
		},
		{
			name: "raw server identifier",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    options:\n      raw:\n        54: \"c0000201\"\n",
			want: "option 54 cannot be configured",
		},
		{
			name: "raw lease time",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    options:\n      raw:\n        51: \"00000e10\"\n",
			want: "option 51 cannot be configured",
		},
		{
			name: "raw relay agent information",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    options:\n      raw:\n        82: \"0103616263\"\n",
			want: "option 82 cannot be configured",
		},
		{
			name: "raw router",
			yaml: "dhcp:\n  server:\n    pool:\n      network: 192.0.2.0/24\n    options:\n      raw:\n        3: \"c0000201\"\n",
			want: "set with routers",
		},
		{
			name: "client without interfaces",
			yaml: "dhcp:\n  client:\n    transport: udp\n",
			want: "dhcp.client.interfaces",
		},
		{
			name: "duplicate client interface",
			yaml: "dhcp:\n  client:\n    interfaces:\n      - name: eth0\n      - name: eth0\n",
			want: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "error %q does not mention %q", err, tt.want)
		})
	}
}

func TestLoadSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(serverYAML), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, Save(out, cfg))

	again, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config file")
}
