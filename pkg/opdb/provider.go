package opdb

import (
	"context"
	"errors"
	"fmt"
)

// Provider is a component whose state is restored from the store at
// startup.
type Provider interface {
	Namespaces() []string
	Restore(ctx context.Context, store Store) error
}

// ProviderRegistry restores providers in registration order.
type ProviderRegistry struct {
	providers []Provider
}

func NewProviderRegistry(providers ...Provider) *ProviderRegistry {
	r := &ProviderRegistry{}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register ignores nil providers.
func (r *ProviderRegistry) Register(p Provider) {
	if p == nil {
		return
	}
	r.providers = append(r.providers, p)
}

func (r *ProviderRegistry) Len() int { return len(r.providers) }

// RestoreAll gives every provider a chance to restore even when an earlier
// one fails. The failures are joined.
func (r *ProviderRegistry) RestoreAll(ctx context.Context, store Store) error {
	var errs []error
	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := p.Restore(ctx, store); err != nil {
			errs = append(errs, fmt.Errorf("restore %v: %w", p.Namespaces(), err))
		}
	}
	return errors.Join(errs...)
}
