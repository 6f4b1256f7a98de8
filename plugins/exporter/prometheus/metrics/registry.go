package metrics

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/events"
)

// Source is what the handlers read. Unset fields produce no series.
type Source struct {
	Server component.Server
	Client component.Client
	Bus    events.Bus
}

type MetricHandler interface {
	Name() string
	Describe(ch chan<- *prometheus.Desc)
	Collect(ctx context.Context, src Source, ch chan<- prometheus.Metric) error
}

type MetricHandlerFactory func(logger *slog.Logger) (MetricHandler, error)

type MetricHandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]MetricHandlerFactory
}

var defaultRegistry = &MetricHandlerRegistry{
	factories: make(map[string]MetricHandlerFactory),
}

func DefaultRegistry() *MetricHandlerRegistry {
	return defaultRegistry
}

func Register(name string, factory MetricHandlerFactory) {
	defaultRegistry.RegisterFactory(name, factory)
}

func (r *MetricHandlerRegistry) RegisterFactory(name string, factory MetricHandlerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// CreateHandlers builds every handler in name order. A failing factory is
// logged and skipped.
func (r *MetricHandlerRegistry) CreateHandlers(logger *slog.Logger) []MetricHandler {
	r.mu.RLock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)

	handlers := make([]MetricHandler, 0, len(names))
	for _, name := range names {
		r.mu.RLock()
		factory := r.factories[name]
		r.mu.RUnlock()

		handler, err := factory(logger)
		if err != nil {
			logger.Error("Failed to create metric handler", "name", name, "error", err)
			continue
		}
		handlers = append(handlers, handler)
	}
	return handlers
}

// Collector adapts the handlers to a prometheus.Collector.
type Collector struct {
	src      Source
	logger   *slog.Logger
	handlers []MetricHandler
}

func NewCollector(src Source, logger *slog.Logger, handlers []MetricHandler) *Collector {
	return &Collector{src: src, logger: logger, handlers: handlers}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, h := range c.handlers {
		h.Describe(ch)
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for _, h := range c.handlers {
		if err := h.Collect(ctx, c.src, ch); err != nil {
			c.logger.Error("Failed to collect metrics", "handler", h.Name(), "error", err)
		}
	}
}
