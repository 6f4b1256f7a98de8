package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Orchestrator starts components in registration order and stops them in
// reverse.
type Orchestrator struct {
	mu         sync.Mutex
	components []Component
	started    int
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{}
}

func (o *Orchestrator) Register(comps ...Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, c := range comps {
		if c != nil {
			o.components = append(o.components, c)
		}
	}
}

// Start stops whatever already started when a component fails.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, comp := range o.components[o.started:] {
		if err := comp.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", comp.Name(), err)
			return errors.Join(startErr, o.stop(ctx))
		}
		o.started++
	}
	return nil
}

func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stop(ctx)
}

func (o *Orchestrator) stop(ctx context.Context) error {
	var errs []error
	for ; o.started > 0; o.started-- {
		comp := o.components[o.started-1]
		if err := comp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", comp.Name(), err))
		}
	}
	return errors.Join(errs...)
}
