package dhcpc

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp"
)

// Lease is an address the client holds. Timers count from Acquired, the
// time the confirming REQUEST was sent (RFC 2131 section 4.4.1).
type Lease struct {
	Addr     netip.Addr           `json:"address"`
	ServerID netip.Addr           `json:"server_id"`
	Acquired time.Time            `json:"acquired"`
	Duration time.Duration        `json:"duration"`
	T1       time.Duration        `json:"t1"`
	T2       time.Duration        `json:"t2"`
	Config   *dhcp.ResolvedDHCPv4 `json:"-"`
}

func (l *Lease) RenewAt() time.Time { return l.Acquired.Add(l.T1) }

func (l *Lease) RebindAt() time.Time { return l.Acquired.Add(l.T2) }

func (l *Lease) ExpiresAt() time.Time { return l.Acquired.Add(l.Duration) }

// Prefix is the leased address with the offered netmask.
func (l *Lease) Prefix() netip.Prefix {
	if l.Config == nil {
		return netip.PrefixFrom(l.Addr, 32)
	}
	return l.Config.Prefix()
}

// leaseFromAck builds a lease from an ACK answering a REQUEST sent at sent.
// Missing or inconsistent T1 and T2 fall back to 0.5 and 0.875 of the lease.
func leaseFromAck(ack *dhcp.Message, sent time.Time) (*Lease, error) {
	res, err := dhcp.ResolvedFromMessage(ack)
	if err != nil {
		return nil, err
	}
	if res.LeaseTime <= 0 {
		return nil, fmt.Errorf("ack without lease time")
	}
	if !res.YourIP.IsValid() {
		return nil, fmt.Errorf("ack without yiaddr")
	}

	d := res.LeaseTime
	t1, t2 := res.RenewalTime, res.RebindingTime
	if t2 <= 0 || t2 >= d {
		t2 = time.Duration(float64(d) * 0.875)
	}
	if t1 <= 0 || t1 >= t2 {
		t1 = time.Duration(float64(d) * 0.5)
	}
	if t1 >= t2 {
		t1, t2 = d/2, d*7/8
	}

	return &Lease{
		Addr:     res.YourIP,
		ServerID: res.ServerID,
		Acquired: sent,
		Duration: d,
		T1:       t1,
		T2:       t2,
		Config:   res,
	}, nil
}
