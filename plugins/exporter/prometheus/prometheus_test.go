package prometheus

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/allocator"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	eventslocal "github.com/veesix-networks/osvdhcp/pkg/events/local"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/plugins/dhcp4/local"
)

type fakeServer struct {
	provider dhcp4.DHCPProvider
}

func (f fakeServer) Provider() dhcp4.DHCPProvider { return f.provider }

func (f fakeServer) Counters() dhcp4.CounterSnapshot {
	return dhcp4.CounterSnapshot{
		Received: 3,
		Replied:  2,
		ByType:   map[string]uint64{"DHCPDISCOVER": 2, "DHCPREQUEST": 1},
		Drops:    map[string]uint64{"not_for_us": 1},
	}
}

func (f fakeServer) ClearLease(addr netip.Addr) (lease.Lease, error) {
	return f.provider.ClearLease(addr)
}

func newServer(t *testing.T) fakeServer {
	t.Helper()
	pool, err := allocator.ParsePool("lan", "10.0.0.0/24", []string{"10.0.0.10-10.0.0.20"}, nil)
	require.NoError(t, err)
	store, err := lease.NewStore(lease.Config{Pool: pool})
	require.NoError(t, err)
	p, err := local.NewProvider(local.Settings{
		ServerID: netip.MustParseAddr("10.0.0.1"),
		Store:    store,
		Options:  &dhcp.ResolvedDHCPv4{},
	})
	require.NoError(t, err)
	return fakeServer{provider: p}
}

func TestNewDisabled(t *testing.T) {
	comp, err := New(component.Dependencies{Config: &config.Config{}})
	require.NoError(t, err)
	assert.Nil(t, comp)

	comp, err = New(component.Dependencies{})
	require.NoError(t, err)
	assert.Nil(t, comp)
}

func TestExporterServesMetrics(t *testing.T) {
	bus := eventslocal.NewBus()
	t.Cleanup(func() { bus.Close() })

	cfg := &config.Config{Monitoring: config.Monitoring{Prometheus: config.PrometheusConfig{
		Enabled:       true,
		ListenAddress: "127.0.0.1:0",
	}}}
	comp, err := New(component.Dependencies{Config: cfg, Server: newServer(t), EventBus: bus})
	require.NoError(t, err)
	require.NotNil(t, comp)
	exp := comp.(*Component)

	require.NoError(t, exp.Start(context.Background()))
	t.Cleanup(func() { exp.Stop(context.Background()) })

	_, port, err := net.SplitHostPort(exp.Addr())
	require.NoError(t, err)
	assert.NotEqual(t, "0", port)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + exp.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `osvdhcp_pool_addresses{pool="lan",server_id="10.0.0.1"} 11`)
	assert.Contains(t, text, `osvdhcp_pool_free{pool="lan",server_id="10.0.0.1"} 11`)
	assert.Contains(t, text, `osvdhcp_server_received_total 3`)
	assert.Contains(t, text, `osvdhcp_server_messages_total{type="DHCPDISCOVER"} 2`)
	assert.Contains(t, text, `osvdhcp_server_drops_total{reason="not_for_us"} 1`)
	assert.Contains(t, text, `osvdhcp_events_queue_capacity 4096`)
	assert.NotContains(t, text, "osvdhcp_client_bound")

	status := exp.GetStatus()
	assert.Equal(t, "running", status.State)
	assert.Positive(t, status.HandlerCount)
}
