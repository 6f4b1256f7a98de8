package events_test

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	"github.com/veesix-networks/osvdhcp/pkg/events/local"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

func TestOnFiltersPayload(t *testing.T) {
	bus := local.NewBus()
	var got []events.LeaseEvent
	events.On(bus, events.TopicLease, func(e events.LeaseEvent) { got = append(got, e) })

	addr := netip.MustParseAddr("10.0.0.10")
	bus.Publish(events.TopicLease, events.Event{Data: "not a lease"})
	bus.Publish(events.TopicLease, events.Event{Data: events.LeaseEvent{Action: events.LeaseBound, Lease: lease.Lease{Addr: addr}}})
	require.NoError(t, bus.Close())

	require.Len(t, got, 1)
	assert.Equal(t, events.LeaseBound, got[0].Action)
	assert.Equal(t, addr, got[0].Lease.Addr)
}

func TestPayload(t *testing.T) {
	_, ok := events.Payload[events.SessionEvent](events.Event{Data: 1})
	assert.False(t, ok)
	se, ok := events.Payload[events.SessionEvent](events.Event{Data: events.SessionEvent{Interface: "cpe0"}})
	require.True(t, ok)
	assert.Equal(t, "cpe0", se.Interface)
}
