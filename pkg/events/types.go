package events

import (
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

type LeaseAction string

const (
	LeaseOffered  LeaseAction = "offered"
	LeaseBound    LeaseAction = "bound"
	LeaseReleased LeaseAction = "released"
	LeaseDeclined LeaseAction = "declined"
	LeaseExpired  LeaseAction = "expired"
	LeaseCleared  LeaseAction = "cleared"
)

// LeaseEvent is a server lease table change.
type LeaseEvent struct {
	Action    LeaseAction
	Interface string
	Lease     lease.Lease
}

type SessionAction string

const (
	SessionStateChanged SessionAction = "state"
	SessionBound        SessionAction = "bound"
	SessionUnbound      SessionAction = "unbound"
)

// SessionEvent is a client session change.
type SessionEvent struct {
	Action    SessionAction
	SessionID string
	Interface string
	From      dhcpc.State
	To        dhcpc.State
	Lease     *dhcpc.Lease
	Reason    string
}
