package dhcpc

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

var (
	ErrIgnored        = errors.New("ignored")
	ErrSessionTimeout = errors.New("session timeout")
	ErrNoLease        = errors.New("no lease")
)

const (
	DefaultBackoffInitial = 4 * time.Second
	DefaultBackoffMax     = 64 * time.Second
	DefaultRetries        = 4
	DefaultJitter         = time.Second
	DefaultSelectWindow   = 2 * time.Second

	minRenewRetransmit = 60 * time.Second
	declineWait        = 10 * time.Second
	restartMin         = time.Second
	restartMax         = 10 * time.Second
	maxMessageSize     = 1500
)

var DefaultRequestList = []dhcp.OptionCode{
	dhcp.OptionSubnetMask,
	dhcp.OptionRouter,
	dhcp.OptionDomainNameServer,
	dhcp.OptionDomainName,
	dhcp.OptionBroadcastAddress,
	dhcp.OptionInterfaceMTU,
	dhcp.OptionNTPServers,
	dhcp.OptionClasslessStaticRoute,
	dhcp.OptionRenewalTimeValue,
	dhcp.OptionRebindingTimeValue,
}

// Random supplies transaction ids and jitter.
type Random interface {
	Uint32() uint32
	Int64N(n int64) int64
}

type globalRandom struct{}

func (globalRandom) Uint32() uint32 { return rand.Uint32() }

func (globalRandom) Int64N(n int64) int64 { return rand.Int64N(n) }

// Backoff is the retransmission policy of RFC 2131 section 4.1: the
// timeout starts at Initial, doubles up to Max and is randomised by
// +/- Jitter. After Retries retransmissions the exchange is abandoned.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Retries int
	Jitter  time.Duration
}

func (b Backoff) delay(attempt int, r Random) time.Duration {
	d := b.Initial
	for i := 0; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	d = min(d, b.Max)
	if b.Jitter > 0 {
		d += time.Duration(r.Int64N(int64(2*b.Jitter)+1)) - b.Jitter
	}
	return max(d, 0)
}

type Config struct {
	Interface string
	HWAddr    net.HardwareAddr
	// ClientID is the option 61 payload including its type byte. It
	// defaults to the hardware type followed by HWAddr.
	ClientID        []byte
	Hostname        string
	VendorClass     string
	RequestList     []dhcp.OptionCode
	LeaseTime       time.Duration
	PreferredServer netip.Addr
	// RequestedAddr is a remembered address verified with INIT-REBOOT.
	RequestedAddr netip.Addr
	// BroadcastFlag asks servers to broadcast replies, for transports
	// that cannot receive unicast before the address is configured.
	BroadcastFlag bool
	Backoff       Backoff
	SelectWindow  time.Duration
	Random        Random
	Now           func() time.Time
}

// Callbacks run outside the session lock, in the goroutine that drove the
// session.
type Callbacks struct {
	Send         func(m *dhcp.Message, dest netip.AddrPort)
	Bound        func(l Lease)
	Unbound      func(l Lease, reason string)
	StateChanged func(from, to State)
}

type Info struct {
	ID        string    `json:"id"`
	Interface string    `json:"interface"`
	State     State     `json:"state"`
	XID       uint32    `json:"xid"`
	Lease     *Lease    `json:"lease,omitempty"`
	Deadline  time.Time `json:"deadline,omitzero"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
}

// Session is the negotiation state of one client interface. It never
// sleeps: every timer is a deadline that the driver reports through Tick.
type Session struct {
	mu        sync.Mutex
	id        string
	cfg       Config
	cb        Callbacks
	clientID  []byte
	state     State
	xid       uint32
	started   time.Time
	sent      time.Time
	deadline  time.Time
	attempt   int
	offers    []*dhcp.Message
	selected  *dhcp.Message
	requested netip.Addr
	lease     *Lease
	lastAddr  netip.Addr
	lastErr   error
	pending   []func()
}

func NewSession(cfg Config, cb Callbacks) (*Session, error) {
	if len(cfg.HWAddr) == 0 || len(cfg.HWAddr) > 16 {
		return nil, fmt.Errorf("invalid hardware address %q", cfg.HWAddr)
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff.Initial = DefaultBackoffInitial
	}
	if cfg.Backoff.Max < cfg.Backoff.Initial {
		cfg.Backoff.Max = max(DefaultBackoffMax, cfg.Backoff.Initial)
	}
	if cfg.Backoff.Retries <= 0 {
		cfg.Backoff.Retries = DefaultRetries
	}
	if cfg.Backoff.Jitter < 0 {
		cfg.Backoff.Jitter = 0
	}
	if cfg.SelectWindow <= 0 {
		cfg.SelectWindow = DefaultSelectWindow
	}
	if cfg.RequestList == nil {
		cfg.RequestList = DefaultRequestList
	}
	if cfg.Random == nil {
		cfg.Random = globalRandom{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	clientID := bytes.Clone(cfg.ClientID)
	if len(clientID) < 2 {
		clientID = append([]byte{dhcp.HTypeEthernet}, cfg.HWAddr...)
	}

	return &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		cb:       cb,
		clientID: clientID,
		state:    StateInit,
		lastAddr: cfg.RequestedAddr,
	}, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Interface() string { return s.cfg.Interface }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Lease returns a copy of the held lease, or nil.
func (s *Session) Lease() *Lease {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return nil
	}
	l := *s.lease
	return &l
}

// NextDeadline is when Tick next has work to do; zero means never.
func (s *Session) NextDeadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.id,
		Interface: s.cfg.Interface,
		State:     s.state,
		XID:       s.xid,
		Deadline:  s.deadline,
		Attempt:   s.attempt,
	}
	if s.lease != nil {
		l := *s.lease
		info.Lease = &l
	}
	if s.lastErr != nil {
		info.LastError = s.lastErr.Error()
	}
	return info
}

// run executes f under the lock, then the callbacks it queued.
func (s *Session) run(f func(now time.Time)) {
	s.mu.Lock()
	f(s.cfg.Now())
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}

func (s *Session) later(fn func()) {
	s.pending = append(s.pending, fn)
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if cb := s.cb.StateChanged; cb != nil {
		s.later(func() { cb(from, to) })
	}
}

func (s *Session) send(m *dhcp.Message, dest netip.AddrPort) {
	if cb := s.cb.Send; cb != nil {
		s.later(func() { cb(m, dest) })
	}
}

func (s *Session) bound(l Lease) {
	if cb := s.cb.Bound; cb != nil {
		s.later(func() { cb(l) })
	}
}

// lose drops the held lease and reports why.
func (s *Session) lose(reason string) {
	if s.lease == nil {
		return
	}
	l := *s.lease
	s.lease = nil
	if cb := s.cb.Unbound; cb != nil {
		s.later(func() { cb(l, reason) })
	}
}

// Start begins acquisition: INIT-REBOOT when an address is remembered,
// otherwise DISCOVER. It is a no-op while an exchange is in progress.
func (s *Session) Start() {
	s.run(func(now time.Time) {
		if s.state != StateInit && s.state != StateStopped {
			return
		}
		if s.lastAddr.IsValid() {
			s.initReboot(now, s.lastAddr)
			return
		}
		s.discover(now)
	})
}

// Stop disarms every timer. The lease, if any, is kept for inspection and
// persistence but is no longer renewed.
func (s *Session) Stop() {
	s.run(func(time.Time) { s.stop() })
}

func (s *Session) stop() {
	s.setState(StateStopped)
	s.deadline = time.Time{}
	s.offers = nil
	s.selected = nil
}

// Release sends DHCPRELEASE for the held lease and clears it locally
// without waiting for the server. The session ends STOPPED.
func (s *Session) Release() error {
	var err error
	s.run(func(now time.Time) {
		if s.lease == nil {
			err = ErrNoLease
			s.stop()
			return
		}

		s.xid = s.cfg.Random.Uint32()
		m := s.newMessage(dhcp.DHCPRelease, now)
		m.CIAddr = s.lease.Addr
		m.SetServerIdentifier(s.lease.ServerID)
		s.send(m, netip.AddrPortFrom(s.lease.ServerID, dhcp.ServerPort))

		s.lose("released")
		s.lastAddr = netip.Addr{}
		s.stop()
	})
	return err
}

// Renew starts a renewal now when a lease is held, otherwise restarts
// acquisition.
func (s *Session) Renew() {
	s.run(func(now time.Time) {
		if s.lease != nil && s.state.HasLease() {
			s.renew(now)
			return
		}
		s.setState(StateInit)
		if s.lastAddr.IsValid() {
			s.initReboot(now, s.lastAddr)
			return
		}
		s.discover(now)
	})
}

// Decline reports addr as already in use, drops the lease and restarts
// acquisition after the RFC 2131 section 3.1.5 wait.
func (s *Session) Decline(addr netip.Addr) error {
	var err error
	s.run(func(now time.Time) {
		if s.lease == nil || s.lease.Addr != addr {
			err = fmt.Errorf("%w for %s", ErrNoLease, addr)
			return
		}

		m := s.newMessage(dhcp.DHCPDecline, now)
		m.SetRequestedIP(addr)
		m.SetServerIdentifier(s.lease.ServerID)
		s.send(m, netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))

		s.lose("declined")
		s.lastAddr = netip.Addr{}
		s.setState(StateInit)
		s.deadline = now.Add(declineWait)
	})
	return err
}

// HandleMessage feeds a server reply to the session. Replies that do not
// belong to the current exchange return an error wrapping ErrIgnored.
func (s *Session) HandleMessage(m *dhcp.Message) error {
	var err error
	s.run(func(now time.Time) { err = s.handle(now, m) })
	return err
}

// Tick runs the timer work due at the current time.
func (s *Session) Tick() {
	s.run(func(now time.Time) { s.tick(now) })
}

func ignored(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIgnored, fmt.Sprintf(format, args...))
}

func (s *Session) handle(now time.Time, m *dhcp.Message) error {
	if m.Op != dhcp.OpBootReply {
		return ignored("op %s", m.Op)
	}
	if m.XID != s.xid {
		return ignored("xid 0x%08x, expecting 0x%08x", m.XID, s.xid)
	}
	if !bytes.Equal(m.HardwareAddr(), s.cfg.HWAddr) {
		return ignored("chaddr %s", m.HardwareAddr())
	}
	if echoed, ok := m.Options.Get(dhcp.OptionClientIdentifier); ok && !bytes.Equal(echoed, s.clientID) {
		return ignored("client identifier mismatch")
	}

	mt, err := m.MessageType()
	if err != nil {
		return ignored("message type: %v", err)
	}

	switch mt {
	case dhcp.DHCPOffer:
		return s.handleOffer(now, m)
	case dhcp.DHCPAck:
		return s.handleAck(now, m)
	case dhcp.DHCPNak:
		return s.handleNak(now, m)
	default:
		return ignored("%s from server", mt)
	}
}

func (s *Session) handleOffer(now time.Time, m *dhcp.Message) error {
	if s.state != StateSelecting {
		return ignored("offer in %s", s.state)
	}
	if !m.YIAddr.IsValid() {
		return ignored("offer without yiaddr")
	}
	sid, err := m.ServerIdentifier()
	if err != nil {
		return ignored("offer server identifier: %v", err)
	}

	s.offers = append(s.offers, m)
	if s.cfg.PreferredServer.IsValid() && sid == s.cfg.PreferredServer {
		s.request(now, m)
		return nil
	}
	if len(s.offers) == 1 {
		s.deadline = now.Add(s.cfg.SelectWindow)
	}
	return nil
}

// selectOffer takes the preferred server's offer, else the first one.
func (s *Session) selectOffer() *dhcp.Message {
	if s.cfg.PreferredServer.IsValid() {
		for _, o := range s.offers {
			if sid, _ := o.ServerIdentifier(); sid == s.cfg.PreferredServer {
				return o
			}
		}
	}
	return s.offers[0]
}

func (s *Session) handleAck(now time.Time, m *dhcp.Message) error {
	sid, _ := m.ServerIdentifier()

	var want netip.Addr
	switch s.state {
	case StateRequesting:
		selected, _ := s.selected.ServerIdentifier()
		if sid.IsValid() && sid != selected {
			return ignored("ack from %s, selected %s", sid, selected)
		}
		want = s.selected.YIAddr
	case StateRebooting:
		want = s.requested
	case StateRenewing:
		if sid.IsValid() && sid != s.lease.ServerID {
			return ignored("ack from %s, leased from %s", sid, s.lease.ServerID)
		}
		want = s.lease.Addr
	case StateRebinding:
		want = s.lease.Addr
	default:
		return ignored("ack in %s", s.state)
	}

	if m.YIAddr != want {
		return ignored("ack for %s, expecting %s", m.YIAddr, want)
	}

	l, err := leaseFromAck(m, s.sent)
	if err != nil {
		return ignored("%v", err)
	}
	if !l.ServerID.IsValid() {
		switch {
		case s.selected != nil:
			l.ServerID, _ = s.selected.ServerIdentifier()
		case s.lease != nil:
			l.ServerID = s.lease.ServerID
		default:
			return ignored("ack without server identifier")
		}
	}

	s.bind(now, l)
	return nil
}

func (s *Session) bind(_ time.Time, l *Lease) {
	s.lease = l
	s.lastAddr = l.Addr
	s.lastErr = nil
	s.attempt = 0
	s.offers = nil
	s.selected = nil
	s.setState(StateBound)
	s.deadline = l.RenewAt()
	s.bound(*l)
}

func (s *Session) handleNak(now time.Time, m *dhcp.Message) error {
	sid, _ := m.ServerIdentifier()

	switch s.state {
	case StateRequesting:
		if selected, _ := s.selected.ServerIdentifier(); sid.IsValid() && sid != selected {
			return ignored("nak from %s, selected %s", sid, selected)
		}
	case StateRenewing:
		if sid.IsValid() && sid != s.lease.ServerID {
			return ignored("nak from %s, leased from %s", sid, s.lease.ServerID)
		}
	case StateRebooting, StateRebinding:
	default:
		return ignored("nak in %s", s.state)
	}

	reason := "nak"
	if text, err := m.MessageText(); err == nil {
		reason = "nak: " + text
	}
	s.lastErr = errors.New(reason)
	s.lose(reason)
	s.lastAddr = netip.Addr{}
	s.setState(StateInit)
	s.discover(now)
	return nil
}

func (s *Session) tick(now time.Time) {
	if s.deadline.IsZero() || now.Before(s.deadline) {
		return
	}

	// a late tick may skip past T2 or expiry; act on the lease clock,
	// not on the state the session was left in
	if s.lease != nil && s.state.HasLease() {
		switch {
		case !now.Before(s.lease.ExpiresAt()):
			s.expire(now)
			return
		case s.state != StateRebinding && !now.Before(s.lease.RebindAt()):
			s.rebind(now)
			return
		}
	}

	switch s.state {
	case StateInit:
		s.discover(now)
	case StateSelecting:
		if len(s.offers) > 0 {
			s.request(now, s.selectOffer())
			return
		}
		s.retransmit(now, s.sendDiscover)
	case StateRequesting:
		s.retransmit(now, s.sendRequest)
	case StateRebooting:
		s.retransmit(now, s.sendReboot)
	case StateBound:
		s.renew(now)
	case StateRenewing:
		s.sendRenew(now)
	case StateRebinding:
		s.sendRebind(now)
	}
}

func (s *Session) expire(now time.Time) {
	s.lastErr = fmt.Errorf("lease on %s expired", s.lease.Addr)
	s.lose("expired")
	s.setState(StateInit)
	s.discover(now)
}

// retransmit resends with backoff, or gives up after the retry budget and
// waits in INIT before starting over.
func (s *Session) retransmit(now time.Time, send func(time.Time)) {
	if s.attempt > s.cfg.Backoff.Retries {
		s.lastErr = fmt.Errorf("%w: no reply in %s after %d attempts", ErrSessionTimeout, s.state, s.attempt)
		s.offers = nil
		s.selected = nil
		s.setState(StateInit)
		wait := restartMin + time.Duration(s.cfg.Random.Int64N(int64(restartMax-restartMin)+1))
		s.deadline = now.Add(wait)
		return
	}
	send(now)
}

func (s *Session) arm(now time.Time) {
	s.deadline = now.Add(s.cfg.Backoff.delay(s.attempt, s.cfg.Random))
	s.attempt++
}

func (s *Session) discover(now time.Time) {
	s.xid = s.cfg.Random.Uint32()
	s.started = now
	s.attempt = 0
	s.offers = nil
	s.selected = nil
	s.setState(StateSelecting)
	s.sendDiscover(now)
}

func (s *Session) sendDiscover(now time.Time) {
	m := s.newMessage(dhcp.DHCPDiscover, now)
	if s.lastAddr.IsValid() {
		m.SetRequestedIP(s.lastAddr)
	}
	s.send(m, netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))
	s.arm(now)
}

func (s *Session) request(now time.Time, offer *dhcp.Message) {
	s.selected = offer
	s.attempt = 0
	s.sent = now
	s.setState(StateRequesting)
	s.sendRequest(now)
}

func (s *Session) sendRequest(now time.Time) {
	sid, _ := s.selected.ServerIdentifier()
	m := s.newMessage(dhcp.DHCPRequest, now)
	m.SetServerIdentifier(sid)
	m.SetRequestedIP(s.selected.YIAddr)
	s.send(m, netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))
	s.arm(now)
}

func (s *Session) initReboot(now time.Time, addr netip.Addr) {
	s.setState(StateInitReboot)
	s.xid = s.cfg.Random.Uint32()
	s.started = now
	s.sent = now
	s.attempt = 0
	s.requested = addr
	s.setState(StateRebooting)
	s.sendReboot(now)
}

func (s *Session) sendReboot(now time.Time) {
	m := s.newMessage(dhcp.DHCPRequest, now)
	m.SetRequestedIP(s.requested)
	s.send(m, netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))
	s.arm(now)
}

func (s *Session) renew(now time.Time) {
	s.xid = s.cfg.Random.Uint32()
	s.started = now
	s.sent = now
	s.attempt = 0
	s.setState(StateRenewing)
	s.sendRenew(now)
}

// rebind enters REBINDING directly from BOUND or RENEWING.
func (s *Session) rebind(now time.Time) {
	if s.state == StateBound {
		s.xid = s.cfg.Random.Uint32()
		s.started = now
	}
	s.sent = now
	s.attempt = 0
	s.setState(StateRebinding)
	s.sendRebind(now)
}

func (s *Session) sendRenew(now time.Time) {
	m := s.newMessage(dhcp.DHCPRequest, now)
	m.SetBroadcast(false)
	m.CIAddr = s.lease.Addr
	s.send(m, netip.AddrPortFrom(s.lease.ServerID, dhcp.ServerPort))
	s.deadline = now.Add(renewWait(now, s.lease.RebindAt()))
	s.attempt++
}

func (s *Session) sendRebind(now time.Time) {
	m := s.newMessage(dhcp.DHCPRequest, now)
	m.SetBroadcast(false)
	m.CIAddr = s.lease.Addr
	s.send(m, netip.AddrPortFrom(dhcp.Broadcast, dhcp.ServerPort))
	s.deadline = now.Add(renewWait(now, s.lease.ExpiresAt()))
	s.attempt++
}

// renewWait is half the time left until the next deadline, but at least
// a minute and never past the deadline (RFC 2131 section 4.4.5).
func renewWait(now, until time.Time) time.Duration {
	left := until.Sub(now)
	return min(max(left/2, minRenewRetransmit), left)
}

func (s *Session) newMessage(mt dhcp.MessageType, now time.Time) *dhcp.Message {
	m := dhcp.NewRequest(mt, s.xid, s.cfg.HWAddr)
	m.HType = dhcp.HTypeEthernet
	m.SetBroadcast(s.cfg.BroadcastFlag)
	if secs := now.Sub(s.started) / time.Second; secs > 0 {
		m.Secs = uint16(min(secs, 0xffff))
	}
	m.SetClientIdentifier(s.clientID[0], s.clientID[1:])

	switch mt {
	case dhcp.DHCPRelease, dhcp.DHCPDecline:
		m.SetBroadcast(false)
		m.Secs = 0
		return m
	}

	m.SetMaxMessageSize(maxMessageSize)
	if s.cfg.Hostname != "" {
		m.SetHostName(s.cfg.Hostname)
	}
	if s.cfg.VendorClass != "" {
		m.SetVendorClass(s.cfg.VendorClass)
	}
	if s.cfg.LeaseTime > 0 {
		m.SetLeaseTime(s.cfg.LeaseTime)
	}
	if len(s.cfg.RequestList) > 0 {
		m.SetParameterRequestList(s.cfg.RequestList)
	}
	return m
}
