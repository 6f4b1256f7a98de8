package lease

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/allocator"
)

var (
	ErrPoolExhausted      = allocator.ErrPoolExhausted
	ErrAllocationConflict = errors.New("allocation conflict")
	ErrNoLease            = errors.New("no lease")
	ErrNotInPool          = allocator.ErrNotInPool
)

const (
	DefaultOfferTimeout   = 60 * time.Second
	DefaultRenewalRatio   = 0.5
	DefaultRebindingRatio = 0.875
	DefaultSweepLimit     = 1024
)

type Config struct {
	Pool           *allocator.Pool
	OfferTimeout   time.Duration
	RenewalRatio   float64
	RebindingRatio float64
	// Reservations pins clients to addresses on the pool network. A
	// reserved address is never offered to anyone else.
	Reservations map[ClientID]netip.Addr
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request carries the client attributes recorded on allocation and
// confirmation.
type Request struct {
	ClientID ClientID
	HWAddr   net.HardwareAddr
	Hostname string
	// Addr is the requested address for Allocate and the address being
	// confirmed for Confirm.
	Addr     netip.Addr
	Duration time.Duration
	XID      uint32
}

// Stats counts pool addresses by observed state.
type Stats struct {
	Total    int `json:"total"`
	Free     int `json:"free"`
	Offered  int `json:"offered"`
	Bound    int `json:"bound"`
	Expired  int `json:"expired"`
	Released int `json:"released"`
	Declined int `json:"declined"`
}

// Store is the address to lease table. All operations hold one mutex so the
// address map and the client index never disagree.
type Store struct {
	mu           sync.Mutex
	pool         *allocator.Pool
	leases       map[netip.Addr]*Lease
	byClient     map[ClientID]netip.Addr
	reservations map[ClientID]netip.Addr
	reservedBy   map[netip.Addr]ClientID
	offerTimeout time.Duration
	t1Ratio      float64
	t2Ratio      float64
	now          func() time.Time
}

func NewStore(cfg Config) (*Store, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("lease store: pool is required")
	}

	s := &Store{
		pool:         cfg.Pool,
		leases:       make(map[netip.Addr]*Lease),
		byClient:     make(map[ClientID]netip.Addr),
		reservations: make(map[ClientID]netip.Addr, len(cfg.Reservations)),
		reservedBy:   make(map[netip.Addr]ClientID, len(cfg.Reservations)),
		offerTimeout: cfg.OfferTimeout,
		t1Ratio:      cfg.RenewalRatio,
		t2Ratio:      cfg.RebindingRatio,
		now:          cfg.Now,
	}
	if s.offerTimeout <= 0 {
		s.offerTimeout = DefaultOfferTimeout
	}
	if s.t1Ratio <= 0 || s.t1Ratio >= 1 {
		s.t1Ratio = DefaultRenewalRatio
	}
	if s.t2Ratio <= s.t1Ratio || s.t2Ratio >= 1 {
		s.t2Ratio = DefaultRebindingRatio
	}
	if s.now == nil {
		s.now = time.Now
	}

	for client, addr := range cfg.Reservations {
		addr = addr.Unmap()
		if !cfg.Pool.OnNetwork(addr) {
			return nil, fmt.Errorf("reservation %s for %s: %w", addr, client, ErrNotInPool)
		}
		if other, ok := s.reservedBy[addr]; ok {
			return nil, fmt.Errorf("reservation %s claimed by %s and %s", addr, other, client)
		}
		s.reservations[client] = addr
		s.reservedBy[addr] = client
	}

	return s, nil
}

func (s *Store) Pool() *allocator.Pool {
	return s.pool
}

func (s *Store) clock() time.Time {
	return s.now().Round(0)
}

// allocatable reports whether addr may be offered to client.
func (s *Store) allocatable(addr netip.Addr, client ClientID, now time.Time) bool {
	if owner, ok := s.reservedBy[addr]; ok && owner != client {
		return false
	}
	if _, ok := s.reservedBy[addr]; !ok && !s.pool.Contains(addr) {
		return false
	}

	l, ok := s.leases[addr]
	if !ok {
		return true
	}
	switch l.State {
	case StateFree, StateExpired, StateReleased:
		return true
	case StateOffered, StateBound:
		return l.ClientID == client || !now.Before(l.Expires)
	default:
		return false
	}
}

// Allocate offers an address to a client. In order it returns the client's
// active lease, its reservation, the requested address, its previous
// address, then the first allocatable address in pool order.
func (s *Store) Allocate(req Request) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()

	if addr, ok := s.byClient[req.ClientID]; ok {
		l := s.leases[addr]
		if l.Active(now) {
			if l.State == StateOffered {
				l.Expires = now.Add(s.offerTimeout)
				l.XID = req.XID
			}
			return l.view(now), nil
		}
	}

	if addr, ok := s.reservations[req.ClientID]; ok && s.allocatable(addr, req.ClientID, now) {
		return s.offer(addr, req, now), nil
	}

	if req.Addr.IsValid() && s.allocatable(req.Addr.Unmap(), req.ClientID, now) {
		return s.offer(req.Addr.Unmap(), req, now), nil
	}

	if addr, ok := s.byClient[req.ClientID]; ok && s.allocatable(addr, req.ClientID, now) {
		return s.offer(addr, req, now), nil
	}

	addr, err := s.pool.First(func(a netip.Addr) bool {
		return s.allocatable(a, req.ClientID, now)
	})
	if err != nil {
		return Lease{}, err
	}
	return s.offer(addr, req, now), nil
}

func (s *Store) offer(addr netip.Addr, req Request, now time.Time) Lease {
	if prev, ok := s.byClient[req.ClientID]; ok && prev != addr {
		delete(s.leases, prev)
	}
	if l, ok := s.leases[addr]; ok && l.ClientID != req.ClientID {
		delete(s.byClient, l.ClientID)
	}

	l := &Lease{
		Addr:     addr,
		ClientID: req.ClientID,
		HWAddr:   bytes.Clone(req.HWAddr),
		Hostname: req.Hostname,
		State:    StateOffered,
		Start:    now,
		Duration: req.Duration,
		Expires:  now.Add(s.offerTimeout),
		XID:      req.XID,
	}
	s.leases[addr] = l
	s.byClient[req.ClientID] = addr
	return l.view(now)
}

// Confirm binds req.Addr to req.ClientID for req.Duration. The client must
// already hold the address, either offered or bound; anything else is an
// allocation conflict. A repeat of the transaction that bound the lease
// returns it unchanged.
func (s *Store) Confirm(req Request) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	addr := req.Addr.Unmap()

	l, ok := s.leases[addr]
	if !ok || l.ClientID != req.ClientID || l.State == StateDeclined {
		return Lease{}, fmt.Errorf("%w: %s not held by %s", ErrAllocationConflict, addr, req.ClientID)
	}
	if owner, reserved := s.reservedBy[addr]; reserved && owner != req.ClientID {
		return Lease{}, fmt.Errorf("%w: %s reserved for %s", ErrAllocationConflict, addr, owner)
	}
	if l.State == StateBound && l.XID == req.XID && now.Before(l.Expires) {
		return l.view(now), nil
	}

	d := req.Duration
	if d <= 0 {
		d = l.Duration
	}

	l.State = StateBound
	l.Start = now
	l.Duration = d
	l.T1 = now.Add(time.Duration(float64(d) * s.t1Ratio))
	l.T2 = now.Add(time.Duration(float64(d) * s.t2Ratio))
	l.Expires = now.Add(d)
	l.XID = req.XID
	if len(req.HWAddr) > 0 {
		l.HWAddr = bytes.Clone(req.HWAddr)
	}
	if req.Hostname != "" {
		l.Hostname = req.Hostname
	}
	s.byClient[req.ClientID] = addr

	return l.view(now), nil
}

// Release marks the client's lease released. The record stays until the
// next sweep so the client can get the same address back.
func (s *Store) Release(client ClientID, addr netip.Addr) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	l, ok := s.leases[addr.Unmap()]
	if !ok || l.ClientID != client || (l.State != StateOffered && l.State != StateBound) {
		return Lease{}, fmt.Errorf("%w: %s for %s", ErrNoLease, addr, client)
	}

	l.State = StateReleased
	l.Expires = now
	return l.view(now), nil
}

// Decline quarantines an address the client found in use on the network.
func (s *Store) Decline(client ClientID, addr netip.Addr) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	l, ok := s.leases[addr.Unmap()]
	if !ok || l.ClientID != client || (l.State != StateOffered && l.State != StateBound) {
		return Lease{}, fmt.Errorf("%w: %s for %s", ErrNoLease, addr, client)
	}

	delete(s.byClient, client)
	l.State = StateDeclined
	l.ClientID = ""
	l.Start = now
	l.Expires = now
	l.T1, l.T2 = time.Time{}, time.Time{}
	return l.view(now), nil
}

// Clear is the administrative reset of one address back to free.
func (s *Store) Clear(addr netip.Addr) (Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[addr.Unmap()]
	if !ok {
		return Lease{}, fmt.Errorf("%w: %s", ErrNoLease, addr)
	}

	prev := l.view(s.clock())
	s.remove(l)
	return prev, nil
}

func (s *Store) remove(l *Lease) {
	if l.ClientID != "" && s.byClient[l.ClientID] == l.Addr {
		delete(s.byClient, l.ClientID)
	}
	delete(s.leases, l.Addr)
}

// ExpireSweep returns elapsed offers and bindings and released leases to
// free. At most limit records are reclaimed per call; more reports whether
// reclaimable records remain.
func (s *Store) ExpireSweep(now time.Time, limit int) (reclaimed []Lease, more bool) {
	if limit <= 0 {
		limit = DefaultSweepLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now = now.Round(0)
	for _, l := range s.leases {
		reclaim := false
		switch l.State {
		case StateExpired, StateReleased, StateFree:
			reclaim = true
		case StateOffered, StateBound:
			reclaim = !now.Before(l.Expires)
		}
		if !reclaim {
			continue
		}
		if len(reclaimed) == limit {
			more = true
			break
		}
		reclaimed = append(reclaimed, l.view(now))
		s.remove(l)
	}

	slices.SortFunc(reclaimed, func(a, b Lease) int { return a.Addr.Compare(b.Addr) })
	return reclaimed, more
}

// Get returns the lease for a pool address; addresses without a record
// read as free.
func (s *Store) Get(addr netip.Addr) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr = addr.Unmap()
	if l, ok := s.leases[addr]; ok {
		return l.view(s.clock()), true
	}
	if s.pool.Contains(addr) {
		return Lease{Addr: addr, State: StateFree}, true
	}
	if _, ok := s.reservedBy[addr]; ok {
		return Lease{Addr: addr, State: StateFree}, true
	}
	return Lease{}, false
}

// Lookup returns the lease record associated with a client.
func (s *Store) Lookup(client ClientID) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr, ok := s.byClient[client]
	if !ok {
		return Lease{}, false
	}
	return s.leases[addr].view(s.clock()), true
}

// Reservation returns the address reserved for client.
func (s *Store) Reservation(client ClientID) (netip.Addr, bool) {
	addr, ok := s.reservations[client]
	return addr, ok
}

// List returns every record ordered by address.
func (s *Store) List() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l.view(now))
	}
	slices.SortFunc(out, func(a, b Lease) int { return a.Addr.Compare(b.Addr) })
	return out
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	st := Stats{Total: s.pool.Size()}
	for addr := range s.pool.All() {
		l, ok := s.leases[addr]
		if !ok {
			st.Free++
			continue
		}
		switch l.view(now).State {
		case StateFree:
			st.Free++
		case StateOffered:
			st.Offered++
		case StateBound:
			st.Bound++
		case StateExpired:
			st.Expired++
		case StateReleased:
			st.Released++
		case StateDeclined:
			st.Declined++
		}
	}
	return st
}

// Snapshot copies every record as stored, without lazy expiry applied.
func (s *Store) Snapshot() []Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Lease, 0, len(s.leases))
	for _, l := range s.leases {
		c := *l
		c.HWAddr = bytes.Clone(l.HWAddr)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b Lease) int { return a.Addr.Compare(b.Addr) })
	return out
}

// ErrRestoreSkipped marks a checkpoint record that Restore left out.
var ErrRestoreSkipped = errors.New("lease record skipped")

// Restore replaces the table with leases and returns how many were kept.
// A record off the pool network, or claiming an address or client already
// taken by a record expiring later, is skipped on its own; the skipped
// records come back joined in the error.
func (s *Store) Restore(leases []Lease) (int, error) {
	ordered := make([]Lease, len(leases))
	copy(ordered, leases)
	slices.SortStableFunc(ordered, func(a, b Lease) int { return b.Expires.Compare(a.Expires) })

	table := make(map[netip.Addr]*Lease, len(ordered))
	index := make(map[ClientID]netip.Addr, len(ordered))
	var skipped []error

	for i := range ordered {
		l := ordered[i]
		l.Addr = l.Addr.Unmap()
		l.HWAddr = bytes.Clone(l.HWAddr)

		switch {
		case !s.pool.OnNetwork(l.Addr):
			skipped = append(skipped, fmt.Errorf("%w: %s: %w", ErrRestoreSkipped, l.Addr, ErrNotInPool))
			continue
		case table[l.Addr] != nil:
			skipped = append(skipped, fmt.Errorf("%w: %s: duplicate address", ErrRestoreSkipped, l.Addr))
			continue
		}
		if l.ClientID != "" {
			if other, dup := index[l.ClientID]; dup {
				skipped = append(skipped, fmt.Errorf("%w: %s: client %s also holds %s", ErrRestoreSkipped, l.Addr, l.ClientID, other))
				continue
			}
			index[l.ClientID] = l.Addr
		}
		table[l.Addr] = &l
	}

	s.mu.Lock()
	s.leases = table
	s.byClient = index
	s.mu.Unlock()
	return len(table), errors.Join(skipped...)
}
