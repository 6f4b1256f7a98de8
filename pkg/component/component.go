package component

import "context"

// Component is a long-running part of a daemon.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
