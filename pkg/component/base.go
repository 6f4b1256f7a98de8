package component

import (
	"context"
	"sync"
)

// Base carries the lifecycle plumbing shared by long-running components:
// a cancellable context derived at Start and a group of goroutines that
// StopContext waits for.
type Base struct {
	name string

	// Ctx is live between StartContext and StopContext. Before the first
	// start it is context.Background.
	Ctx context.Context

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopping bool
	wg       sync.WaitGroup
}

func NewBase(name string) *Base {
	return &Base{name: name, Ctx: context.Background()}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) StartContext(parent context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Ctx, b.cancel = context.WithCancel(parent)
	b.stopping = false
}

// StopContext cancels Ctx and blocks until every goroutine started with Go
// has returned. Calling it more than once is harmless.
func (b *Base) StopContext() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.stopping = true
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
}

// Stopping reports whether StopContext has been called or the parent
// context is done.
func (b *Base) Stopping() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopping || b.Ctx.Err() != nil
}

func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}
