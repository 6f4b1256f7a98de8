package component

import (
	"context"
	"net/netip"

	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/events"
	"github.com/veesix-networks/osvdhcp/pkg/ifmgr"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
)

type Dependencies struct {
	EventBus events.Bus
	Config   *config.Config
	OpDB     opdb.Store
	IfMgr    *ifmgr.Manager

	// Server and Client are set once the daemon components exist, for the
	// plugins that report on them.
	Server Server
	Client Client
}

// Server is the control surface of a running DHCP server.
type Server interface {
	Provider() dhcp4.DHCPProvider
	Counters() dhcp4.CounterSnapshot
	ClearLease(addr netip.Addr) (lease.Lease, error)
}

// Client is the control surface of a running DHCP client.
type Client interface {
	Sessions() []dhcpc.Info
	Release(ctx context.Context, iface string) error
	Renew(ctx context.Context, iface string) error
}
