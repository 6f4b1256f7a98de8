package dhcpc

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
)

var (
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrUnknownSession   = errors.New("unknown session")
)

type item struct {
	session *Session
	at      time.Time
	index   int
}

type deadlines []*item

func (d deadlines) Len() int { return len(d) }

func (d deadlines) Less(i, j int) bool { return d[i].at.Before(d[j].at) }

func (d deadlines) Swap(i, j int) {
	d[i], d[j] = d[j], d[i]
	d[i].index = i
	d[j].index = j
}

func (d *deadlines) Push(x any) {
	it := x.(*item)
	it.index = len(*d)
	*d = append(*d, it)
}

func (d *deadlines) Pop() any {
	old := *d
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*d = old[:n-1]
	return it
}

// Scheduler drives many sessions from one goroutine. Every operation on a
// session is posted to Run, which also fires the earliest deadline.
type Scheduler struct {
	now    func() time.Time
	inbox  chan func()
	done   chan struct{}
	logger *slog.Logger

	mu    sync.RWMutex
	items map[string]*item

	queue deadlines
}

func NewScheduler(now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		now:    now,
		inbox:  make(chan func()),
		done:   make(chan struct{}),
		logger: logger.Get(logger.Client),
		items:  make(map[string]*item),
	}
}

// Run serves the scheduler until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.arm(timer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.inbox:
			f()
		case <-timer.C:
			s.fire()
		}
	}
}

func (s *Scheduler) arm(timer *time.Timer) {
	if len(s.queue) == 0 {
		timer.Stop()
		return
	}
	timer.Reset(max(s.queue[0].at.Sub(s.now()), 0))
}

// fire ticks every session that was due when it was called. Sessions whose
// new deadline is already due wait for the next round.
func (s *Scheduler) fire() {
	now := s.now()

	var due []*item
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		due = append(due, heap.Pop(&s.queue).(*item))
	}
	for _, it := range due {
		it.session.Tick()
		s.reschedule(it)
	}
}

func (s *Scheduler) reschedule(it *item) {
	at := it.session.NextDeadline()
	switch {
	case at.IsZero() && it.index >= 0:
		heap.Remove(&s.queue, it.index)
	case at.IsZero():
	case it.index >= 0:
		it.at = at
		heap.Fix(&s.queue, it.index)
	default:
		it.at = at
		heap.Push(&s.queue, it)
	}
}

// do runs f on the scheduler goroutine and waits for it.
func (s *Scheduler) do(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	run := func() {
		defer close(finished)
		f()
	}

	select {
	case s.inbox <- run:
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) lookup(id string) (*item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return it, nil
}

// Add registers sess and starts it.
func (s *Scheduler) Add(ctx context.Context, sess *Session) error {
	return s.do(ctx, func() {
		it := &item{session: sess, index: -1}
		s.mu.Lock()
		s.items[sess.ID()] = it
		s.mu.Unlock()

		sess.Start()
		s.reschedule(it)
		s.logger.Debug("Session added", "session_id", sess.ID(), "interface", sess.Interface())
	})
}

// Remove stops the session and forgets it.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	it, err := s.lookup(id)
	if err != nil {
		return err
	}
	return s.do(ctx, func() {
		it.session.Stop()
		if it.index >= 0 {
			heap.Remove(&s.queue, it.index)
		}
		s.mu.Lock()
		delete(s.items, id)
		s.mu.Unlock()
	})
}

// apply runs op against a registered session and re-arms its deadline.
func (s *Scheduler) apply(ctx context.Context, id string, op func(*Session) error) error {
	it, err := s.lookup(id)
	if err != nil {
		return err
	}
	var opErr error
	if err := s.do(ctx, func() {
		opErr = op(it.session)
		s.reschedule(it)
	}); err != nil {
		return err
	}
	return opErr
}

// Deliver hands a received reply to the session.
func (s *Scheduler) Deliver(ctx context.Context, id string, m *dhcp.Message) error {
	return s.apply(ctx, id, func(sess *Session) error { return sess.HandleMessage(m) })
}

func (s *Scheduler) Release(ctx context.Context, id string) error {
	return s.apply(ctx, id, func(sess *Session) error { return sess.Release() })
}

func (s *Scheduler) Renew(ctx context.Context, id string) error {
	return s.apply(ctx, id, func(sess *Session) error {
		sess.Renew()
		return nil
	})
}

func (s *Scheduler) Decline(ctx context.Context, id string, addr netip.Addr) error {
	return s.apply(ctx, id, func(sess *Session) error { return sess.Decline(addr) })
}

// Start restarts a stopped session.
func (s *Scheduler) Start(ctx context.Context, id string) error {
	return s.apply(ctx, id, func(sess *Session) error {
		sess.Start()
		return nil
	})
}

func (s *Scheduler) Get(id string) (*Session, bool) {
	it, err := s.lookup(id)
	if err != nil {
		return nil, false
	}
	return it.session, true
}

// ByInterface finds the session bound to an interface name.
func (s *Scheduler) ByInterface(name string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, it := range s.items {
		if it.session.Interface() == name {
			return it.session, true
		}
	}
	return nil, false
}

// Sessions lists the registered sessions ordered by interface name.
func (s *Scheduler) Sessions() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.session)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		return strings.Compare(a.Interface(), b.Interface())
	})
	return out
}
