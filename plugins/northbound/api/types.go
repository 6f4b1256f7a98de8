package api

import (
	"net/netip"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

type Status struct {
	State         string `json:"state"`
	ListenAddress string `json:"listen_address"`
	Running       bool   `json:"running"`
}

type LeaseView struct {
	Address   netip.Addr  `json:"address"`
	State     lease.State `json:"state"`
	ClientID  string      `json:"client_id,omitempty"`
	MAC       string      `json:"mac,omitempty"`
	Hostname  string      `json:"hostname,omitempty"`
	Start     time.Time   `json:"start,omitzero"`
	Expires   time.Time   `json:"expires,omitzero"`
	Remaining int64       `json:"remaining_seconds" description:"Seconds until the lease expires"`
	XID       uint32      `json:"xid,omitempty"`
}

func newLeaseView(l lease.Lease, now time.Time) LeaseView {
	v := LeaseView{
		Address:   l.Addr,
		State:     l.State,
		ClientID:  l.ClientID.String(),
		Hostname:  l.Hostname,
		Start:     l.Start,
		Expires:   l.Expires,
		Remaining: int64(l.Remaining(now) / time.Second),
		XID:       l.XID,
	}
	if len(l.HWAddr) > 0 {
		v.MAC = l.HWAddr.String()
	}
	return v
}

type PoolView struct {
	Name     string                `json:"name"`
	Network  netip.Prefix          `json:"network"`
	Ranges   []string              `json:"ranges"`
	ServerID netip.Addr            `json:"server_id"`
	Provider string                `json:"provider"`
	Stats    lease.Stats           `json:"stats"`
	Counters dhcp4.CounterSnapshot `json:"counters"`
}

type ActionResponse struct {
	Status    string `json:"status"`
	Interface string `json:"interface,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
