package metrics

import (
	"context"
	"slices"
	"time"
)

type PoolRow struct {
	Pool     string `prometheus:"label=pool"`
	ServerID string `prometheus:"label=server_id"`
	Total    int    `prometheus:"name=osvdhcp_pool_addresses,help=Addresses in the pool,type=gauge"`
	Free     int    `prometheus:"name=osvdhcp_pool_free,help=Addresses with no lease record,type=gauge"`
	Offered  int    `prometheus:"name=osvdhcp_pool_offered,help=Leases held by an outstanding offer,type=gauge"`
	Bound    int    `prometheus:"name=osvdhcp_pool_bound,help=Bound leases,type=gauge"`
	Expired  int    `prometheus:"name=osvdhcp_pool_expired,help=Expired leases awaiting reuse,type=gauge"`
	Released int    `prometheus:"name=osvdhcp_pool_released,help=Released leases awaiting reuse,type=gauge"`
	Declined int    `prometheus:"name=osvdhcp_pool_declined,help=Addresses quarantined after DHCPDECLINE,type=gauge"`
}

type ServerRow struct {
	Received   uint64 `prometheus:"name=osvdhcp_server_received_total,help=Messages received,type=counter"`
	Replied    uint64 `prometheus:"name=osvdhcp_server_replied_total,help=Replies sent,type=counter"`
	SendErrors uint64 `prometheus:"name=osvdhcp_server_send_errors_total,help=Replies that failed to send,type=counter"`
}

type MessageTypeRow struct {
	Type  string `prometheus:"label=type"`
	Count uint64 `prometheus:"name=osvdhcp_server_messages_total,help=Messages received by DHCP message type,type=counter"`
}

type DropRow struct {
	Reason string `prometheus:"label=reason"`
	Count  uint64 `prometheus:"name=osvdhcp_server_drops_total,help=Messages dropped without reply,type=counter"`
}

type SessionRow struct {
	Interface string  `prometheus:"label=interface"`
	State     string  `prometheus:"label=state"`
	Bound     bool    `prometheus:"name=osvdhcp_client_bound,help=Whether the interface holds a lease,type=gauge"`
	Remaining float64 `prometheus:"name=osvdhcp_client_lease_remaining_seconds,help=Seconds until the lease expires,type=gauge"`
	Attempt   int     `prometheus:"name=osvdhcp_client_attempt,help=Retransmissions in the current state,type=gauge"`
}

type BusRow struct {
	Published uint64 `prometheus:"name=osvdhcp_events_published_total,help=Events accepted by the bus,type=counter"`
	Dropped   uint64 `prometheus:"name=osvdhcp_events_dropped_total,help=Events dropped by a full or closed bus,type=counter"`
	QueueLen  int    `prometheus:"name=osvdhcp_events_queue_length,help=Events waiting for delivery,type=gauge"`
	QueueCap  int    `prometheus:"name=osvdhcp_events_queue_capacity,help=Size of the event queue,type=gauge"`
}

type TopicRow struct {
	Topic       string `prometheus:"label=topic"`
	Subscribers int    `prometheus:"name=osvdhcp_events_subscribers,help=Handlers subscribed to a topic,type=gauge"`
}

func init() {
	RegisterStruct("pool", fetchPool)
	RegisterStruct("server", fetchServer)
	RegisterStruct("server.types", fetchMessageTypes)
	RegisterStruct("server.drops", fetchDrops)
	RegisterStruct("client.sessions", fetchSessions)
	RegisterStruct("events", fetchBus)
	RegisterStruct("events.topics", fetchTopics)
}

func fetchPool(_ context.Context, src Source) ([]PoolRow, error) {
	if src.Server == nil {
		return nil, nil
	}
	p := src.Server.Provider()
	store := p.Store()
	s := store.Stats()
	return []PoolRow{{
		Pool:     store.Pool().Name(),
		ServerID: p.ServerID().String(),
		Total:    s.Total,
		Free:     s.Free,
		Offered:  s.Offered,
		Bound:    s.Bound,
		Expired:  s.Expired,
		Released: s.Released,
		Declined: s.Declined,
	}}, nil
}

func fetchServer(_ context.Context, src Source) ([]ServerRow, error) {
	if src.Server == nil {
		return nil, nil
	}
	c := src.Server.Counters()
	return []ServerRow{{Received: c.Received, Replied: c.Replied, SendErrors: c.SendErrors}}, nil
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func fetchMessageTypes(_ context.Context, src Source) ([]MessageTypeRow, error) {
	if src.Server == nil {
		return nil, nil
	}
	byType := src.Server.Counters().ByType
	var rows []MessageTypeRow
	for _, t := range sortedKeys(byType) {
		rows = append(rows, MessageTypeRow{Type: t, Count: byType[t]})
	}
	return rows, nil
}

func fetchDrops(_ context.Context, src Source) ([]DropRow, error) {
	if src.Server == nil {
		return nil, nil
	}
	drops := src.Server.Counters().Drops
	var rows []DropRow
	for _, r := range sortedKeys(drops) {
		rows = append(rows, DropRow{Reason: r, Count: drops[r]})
	}
	return rows, nil
}

func fetchSessions(_ context.Context, src Source) ([]SessionRow, error) {
	if src.Client == nil {
		return nil, nil
	}
	now := time.Now()
	var rows []SessionRow
	for _, info := range src.Client.Sessions() {
		row := SessionRow{
			Interface: info.Interface,
			State:     info.State.String(),
			Attempt:   info.Attempt,
		}
		if info.Lease != nil && info.State.HasLease() {
			row.Bound = true
			row.Remaining = max(info.Lease.ExpiresAt().Sub(now).Seconds(), 0)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fetchBus(_ context.Context, src Source) ([]BusRow, error) {
	if src.Bus == nil {
		return nil, nil
	}
	s := src.Bus.Stats()
	return []BusRow{{
		Published: s.Published,
		Dropped:   s.Dropped,
		QueueLen:  s.QueueLen,
		QueueCap:  s.QueueCap,
	}}, nil
}

func fetchTopics(_ context.Context, src Source) ([]TopicRow, error) {
	if src.Bus == nil {
		return nil, nil
	}
	var rows []TopicRow
	for _, t := range src.Bus.Stats().Topics {
		rows = append(rows, TopicRow{Topic: t.Topic, Subscribers: t.Subscribers})
	}
	return rows, nil
}
