package dhcp4

import (
	"maps"
	"sync"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

// Counters tracks what a server did with the packets it received.
type Counters struct {
	mu         sync.Mutex
	received   uint64
	replied    uint64
	sendErrors uint64
	byType     map[string]uint64
	drops      map[string]uint64
}

type CounterSnapshot struct {
	Received   uint64            `json:"received"`
	Replied    uint64            `json:"replied"`
	SendErrors uint64            `json:"send_errors"`
	ByType     map[string]uint64 `json:"by_type"`
	Drops      map[string]uint64 `json:"drops"`
}

func NewCounters() *Counters {
	return &Counters{
		byType: make(map[string]uint64),
		drops:  make(map[string]uint64),
	}
}

// Received counts a request. BOOTP requests are counted as "BOOTP" and
// undecodable ones as "unknown".
func (c *Counters) Received(m *dhcp.Message) {
	name := "unknown"
	if m != nil {
		name = m.Type().String()
	}
	c.mu.Lock()
	c.received++
	c.byType[name]++
	c.mu.Unlock()
}

func (c *Counters) Replied() {
	c.mu.Lock()
	c.replied++
	c.mu.Unlock()
}

func (c *Counters) SendError() {
	c.mu.Lock()
	c.sendErrors++
	c.mu.Unlock()
}

// Dropped counts err under its DropReason.
func (c *Counters) Dropped(err error) {
	reason := DropReason(err)
	if reason == "" {
		return
	}
	c.mu.Lock()
	c.drops[reason]++
	c.mu.Unlock()
}

func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterSnapshot{
		Received:   c.received,
		Replied:    c.replied,
		SendErrors: c.sendErrors,
		ByType:     maps.Clone(c.byType),
		Drops:      maps.Clone(c.drops),
	}
}
