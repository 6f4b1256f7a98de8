package lease

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

type State uint8

const (
	StateFree State = iota
	StateOffered
	StateBound
	StateExpired
	StateReleased
	// StateDeclined quarantines an address a client reported in use. Only
	// Store.Clear returns it to the pool.
	StateDeclined
)

var stateNames = map[State]string{
	StateFree:     "free",
	StateOffered:  "offered",
	StateBound:    "bound",
	StateExpired:  "expired",
	StateReleased: "released",
	StateDeclined: "declined",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("unknown lease state %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown lease state %q", text)
}

// ClientID identifies a client: option 61 when sent, otherwise the
// hardware type followed by chaddr.
type ClientID string

func NewClientID(id []byte) ClientID {
	return ClientID(id)
}

// HardwareClientID builds the identifier used for clients that send no
// option 61.
func HardwareClientID(htype uint8, hw net.HardwareAddr) ClientID {
	return ClientID(append([]byte{htype}, hw...))
}

func (c ClientID) String() string {
	if c == "" {
		return ""
	}
	parts := make([]string, len(c))
	for i := 0; i < len(c); i++ {
		parts[i] = hex.EncodeToString([]byte{c[i]})
	}
	return strings.Join(parts, ":")
}

func ParseClientID(s string) (ClientID, error) {
	if s == "" {
		return "", nil
	}
	b, err := hex.DecodeString(strings.ReplaceAll(s, ":", ""))
	if err != nil {
		return "", fmt.Errorf("client id %q: %w", s, err)
	}
	return ClientID(b), nil
}

// Lease is the binding of one pool address.
type Lease struct {
	Addr     netip.Addr
	ClientID ClientID
	HWAddr   net.HardwareAddr
	Hostname string
	State    State
	Start    time.Time
	Duration time.Duration
	T1       time.Time
	T2       time.Time
	Expires  time.Time
	// XID is the transaction that last offered or bound the lease.
	XID uint32
}

// Active reports whether the lease holds its address at now.
func (l *Lease) Active(now time.Time) bool {
	return (l.State == StateOffered || l.State == StateBound) && now.Before(l.Expires)
}

func (l *Lease) Remaining(now time.Time) time.Duration {
	if !now.Before(l.Expires) {
		return 0
	}
	return l.Expires.Sub(now)
}

// view returns the lease as observed at now: elapsed offers read as free
// and elapsed bindings as expired.
func (l *Lease) view(now time.Time) Lease {
	v := *l
	v.HWAddr = bytes.Clone(l.HWAddr)
	if l.State == StateOffered && !now.Before(l.Expires) {
		v.State = StateFree
	}
	if l.State == StateBound && !now.Before(l.Expires) {
		v.State = StateExpired
	}
	return v
}

func (l Lease) String() string {
	return fmt.Sprintf("%s %s client=%s expires=%s", l.Addr, l.State, l.ClientID, l.Expires.Format(time.RFC3339))
}
