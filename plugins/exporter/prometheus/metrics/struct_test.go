package metrics

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
)

func TestParsePrometheusTag(t *testing.T) {
	name, help, typ, isLabel, err := ParsePrometheusTag("name=osvdhcp_x,help=X things,type=counter")
	require.NoError(t, err)
	assert.Equal(t, "osvdhcp_x", name)
	assert.Equal(t, "X things", help)
	assert.Equal(t, prometheus.CounterValue, typ)
	assert.False(t, isLabel)

	name, _, _, isLabel, err = ParsePrometheusTag("label=pool")
	require.NoError(t, err)
	assert.Equal(t, "pool", name)
	assert.True(t, isLabel)

	_, _, _, _, err = ParsePrometheusTag("name=osvdhcp_x,type=gauge")
	assert.Error(t, err)
	_, _, _, _, err = ParsePrometheusTag("name=osvdhcp_x,help=h,type=histogram")
	assert.Error(t, err)
	_, _, _, _, err = ParsePrometheusTag("bogus")
	assert.Error(t, err)
}

type fakeClient struct {
	sessions []dhcpc.Info
}

func (f fakeClient) Sessions() []dhcpc.Info { return f.sessions }
func (f fakeClient) Release(context.Context, string) error { return nil }
func (f fakeClient) Renew(context.Context, string) error { return nil }

func collect(t *testing.T, h MetricHandler, src Source) []prometheus.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	require.NoError(t, h.Collect(context.Background(), src, ch))
	close(ch)
	var out []prometheus.Metric
	for m := range ch {
		out = append(out, m)
	}
	return out
}

func TestSessionHandler(t *testing.T) {
	h, err := NewStructHandler("client.sessions", fetchSessions, slog.Default())
	require.NoError(t, err)

	descs := make(chan *prometheus.Desc, 8)
	h.Describe(descs)
	close(descs)
	assert.Len(t, descs, 3)

	src := Source{Client: fakeClient{sessions: []dhcpc.Info{
		{Interface: "eth0", State: dhcpc.StateBound, Lease: &dhcpc.Lease{
			Addr:     netip.MustParseAddr("10.0.0.10"),
			Acquired: time.Now(),
			Duration: time.Hour,
		}},
		{Interface: "eth1", State: dhcpc.StateSelecting, Attempt: 2},
	}}}
	assert.Len(t, collect(t, h, src), 6)
	assert.Empty(t, collect(t, h, Source{}))
}

func TestHandlersSkipMissingSources(t *testing.T) {
	for _, h := range DefaultRegistry().CreateHandlers(slog.Default()) {
		assert.Empty(t, collect(t, h, Source{}), h.Name())
	}
}

func TestNewStructHandlerRejectsBadTags(t *testing.T) {
	type bad struct {
		V int `prometheus:"name=v,type=gauge"`
	}
	_, err := NewStructHandler("bad", func(context.Context, Source) ([]bad, error) { return nil, nil }, slog.Default())
	assert.Error(t, err)

	_, err = NewStructHandler("scalar", func(context.Context, Source) ([]int, error) { return nil, nil }, slog.Default())
	assert.Error(t, err)
}
