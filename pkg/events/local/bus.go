package local

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
)

const DefaultQueueSize = 4096

type publishRequest struct {
	topic string
	event events.Event
}

type sub struct {
	bus   *Bus
	topic string
	id    uint64
}

func (s *sub) Unsubscribe() {
	s.bus.remove(s.topic, s.id)
}

// Bus is an in-process events.Bus. A single goroutine delivers events, so
// every handler sees events in publish order and a slow handler delays the
// rest. Events published while the queue is full are dropped.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string]map[uint64]events.Handler
	global    map[uint64]events.Handler
	nextID    atomic.Uint64
	publishCh chan publishRequest
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
	published atomic.Uint64
	dropped   atomic.Uint64
	logger    *slog.Logger
}

func NewBus() *Bus {
	return NewBusSize(DefaultQueueSize)
}

func NewBusSize(size int) *Bus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	b := &Bus{
		subs:      make(map[string]map[uint64]events.Handler),
		global:    make(map[uint64]events.Handler),
		publishCh: make(chan publishRequest, size),
		done:      make(chan struct{}),
		logger:    logger.Get(logger.Events),
	}
	go b.publishLoop()
	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish queue full, dropping event", "topic", topic)
	}
}

func (b *Bus) publishLoop() {
	defer close(b.done)
	for req := range b.publishCh {
		b.deliver(req)
	}
}

func (b *Bus) handlers(topic string) []events.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]uint64, 0, len(b.subs[topic])+len(b.global))
	for id := range b.subs[topic] {
		ids = append(ids, id)
	}
	for id := range b.global {
		ids = append(ids, id)
	}
	// subscription order
	slices.Sort(ids)

	out := make([]events.Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := b.subs[topic][id]; ok {
			out = append(out, h)
		} else {
			out = append(out, b.global[id])
		}
	}
	return out
}

func (b *Bus) deliver(req publishRequest) {
	for _, h := range b.handlers(req.topic) {
		b.call(h, req)
	}
}

func (b *Bus) call(h events.Handler, req publishRequest) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "topic", req.topic, "event_id", req.event.ID, "panic", r)
		}
	}()
	h(req.event)
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]events.Handler)
	}
	b.subs[topic][id] = handler
	count := len(b.subs[topic])
	b.mu.Unlock()

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", count)
	return &sub{bus: b, topic: topic, id: id}
}

func (b *Bus) SubscribeAll(handler events.Handler) events.Subscription {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.global[id] = handler
	b.mu.Unlock()

	return &sub{bus: b, id: id}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if topic == "" {
		delete(b.global, id)
		return
	}
	if topicSubs, ok := b.subs[topic]; ok {
		delete(topicSubs, id)
		if len(topicSubs) == 0 {
			delete(b.subs, topic)
		}
	}
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	topics := make([]events.TopicStats, 0, len(b.subs))
	for topic, subs := range b.subs {
		topics = append(topics, events.TopicStats{Topic: topic, Subscribers: len(subs)})
	}
	b.mu.RUnlock()

	slices.SortFunc(topics, func(x, y events.TopicStats) int {
		return strings.Compare(x.Topic, y.Topic)
	})
	return events.Stats{
		Topics:    topics,
		QueueLen:  len(b.publishCh),
		QueueCap:  cap(b.publishCh),
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.publishCh)
		b.mu.Unlock()
	})
	<-b.done
	return nil
}
