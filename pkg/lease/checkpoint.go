package lease

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
)

type record struct {
	Addr      string        `json:"addr"`
	ClientID  string        `json:"client_id,omitempty"`
	HWAddr    string        `json:"hwaddr,omitempty"`
	Hostname  string        `json:"hostname,omitempty"`
	State     State         `json:"state"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	T1        time.Time     `json:"t1"`
	T2        time.Time     `json:"t2"`
	Expires   time.Time     `json:"expires"`
	Remaining time.Duration `json:"remaining"`
	XID       uint32        `json:"xid"`
}

// MarshalLease encodes a lease for the checkpoint, recording the time left
// at now next to the absolute deadlines.
func MarshalLease(l Lease, now time.Time) ([]byte, error) {
	return json.Marshal(record{
		Addr:      l.Addr.String(),
		ClientID:  hex.EncodeToString([]byte(l.ClientID)),
		HWAddr:    hex.EncodeToString(l.HWAddr),
		Hostname:  l.Hostname,
		State:     l.State,
		Start:     l.Start,
		Duration:  l.Duration,
		T1:        l.T1,
		T2:        l.T2,
		Expires:   l.Expires,
		Remaining: l.Remaining(now),
		XID:       l.XID,
	})
}

// UnmarshalLease decodes a checkpoint record. Deadlines are restored from
// their absolute values so downtime counts against the lease.
func UnmarshalLease(data []byte) (Lease, time.Duration, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return Lease{}, 0, err
	}

	addr, err := netip.ParseAddr(r.Addr)
	if err != nil {
		return Lease{}, 0, fmt.Errorf("addr: %w", err)
	}
	client, err := hex.DecodeString(r.ClientID)
	if err != nil {
		return Lease{}, 0, fmt.Errorf("client id: %w", err)
	}
	var hw []byte
	if r.HWAddr != "" {
		if hw, err = hex.DecodeString(r.HWAddr); err != nil {
			return Lease{}, 0, fmt.Errorf("hwaddr: %w", err)
		}
	}

	return Lease{
		Addr:     addr,
		ClientID: ClientID(client),
		HWAddr:   hw,
		Hostname: r.Hostname,
		State:    r.State,
		Start:    r.Start,
		Duration: r.Duration,
		T1:       r.T1,
		T2:       r.T2,
		Expires:  r.Expires,
		XID:      r.XID,
	}, r.Remaining, nil
}

// Checkpointer persists the lease table into the operational database so
// that a restart does not reissue bound addresses.
type Checkpointer struct {
	store  *Store
	db     opdb.Store
	logger *slog.Logger
}

var _ opdb.Provider = (*Checkpointer)(nil)

func NewCheckpointer(store *Store, db opdb.Store) *Checkpointer {
	return &Checkpointer{
		store:  store,
		db:     db,
		logger: logger.Get(logger.Lease),
	}
}

func (c *Checkpointer) Namespaces() []string {
	return []string{opdb.NamespaceDHCPv4Leases}
}

// Save writes a snapshot. The table lock is held only while copying.
func (c *Checkpointer) Save(ctx context.Context) (int, error) {
	now := c.store.clock()
	leases := c.store.Snapshot()

	entries := make(map[string][]byte, len(leases))
	for _, l := range leases {
		data, err := MarshalLease(l, now)
		if err != nil {
			return 0, fmt.Errorf("marshal lease %s: %w", l.Addr, err)
		}
		entries[l.Addr.String()] = data
	}

	if err := c.db.Replace(ctx, opdb.NamespaceDHCPv4Leases, entries); err != nil {
		return 0, fmt.Errorf("checkpoint leases: %w", err)
	}
	return len(entries), nil
}

func (c *Checkpointer) Restore(ctx context.Context, db opdb.Store) error {
	var leases []Lease
	err := db.Load(ctx, opdb.NamespaceDHCPv4Leases, func(key string, value []byte) error {
		l, _, err := UnmarshalLease(value)
		if err != nil {
			c.logger.Warn("Skipping unreadable lease record", "key", key, "error", err)
			return nil
		}
		leases = append(leases, l)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load leases: %w", err)
	}

	n, err := c.store.Restore(leases)
	if err != nil {
		for _, skip := range unjoin(err) {
			c.logger.Warn("Skipping lease record", "error", skip)
		}
	}
	c.logger.Info("Restored leases from checkpoint", "count", n, "skipped", len(leases)-n)
	return nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
