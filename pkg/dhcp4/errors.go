package dhcp4

import (
	"errors"
	"fmt"

	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

// ErrDropped is the root of every reason a request gets no reply.
var ErrDropped = errors.New("dropped")

var (
	ErrNotForUs       = fmt.Errorf("%w: addressed to another server", ErrDropped)
	ErrInvalidRequest = fmt.Errorf("%w: invalid request", ErrDropped)
	ErrUnknownClient  = fmt.Errorf("%w: no lease for client", ErrDropped)
	ErrUnsupported    = fmt.Errorf("%w: unsupported message", ErrDropped)
	ErrPoolExhausted  = fmt.Errorf("%w: %w", ErrDropped, lease.ErrPoolExhausted)
)

// DropReason maps a provider error to a short label for logs and metrics.
func DropReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotForUs):
		return "not_for_us"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	case errors.Is(err, ErrUnknownClient):
		return "unknown_client"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrPoolExhausted):
		return "exhausted"
	default:
		return "error"
	}
}
