package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/plugins/exporter/prometheus/metrics"
)

const (
	Namespace         = "exporter.prometheus"
	DefaultListenAddr = ":9090"
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func init() {
	component.Register(Namespace, New)
}

type Status struct {
	State         string `json:"state"`
	ListenAddress string `json:"listen_address"`
	HandlerCount  int    `json:"handler_count"`
}

type Component struct {
	*component.Base
	logger   *slog.Logger
	addr     string
	registry *prometheus.Registry
	handlers int
	server   *http.Server

	mu       sync.RWMutex
	listener net.Listener
	running  bool
}

// New returns a nil component unless the exporter is enabled.
func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.Monitoring.Prometheus.Enabled {
		return nil, nil
	}
	c, err := NewExporter(deps, deps.Config.Monitoring.Prometheus.ListenAddress)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NewExporter builds the exporter without consulting the enabled flag.
func NewExporter(deps component.Dependencies, addr string) (*Component, error) {
	if addr == "" {
		addr = DefaultListenAddr
	}
	log := logger.Get(logger.Exporter)

	handlers := metrics.DefaultRegistry().CreateHandlers(log)
	src := metrics.Source{Server: deps.Server, Client: deps.Client, Bus: deps.EventBus}

	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewCollector(src, log, handlers)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Component{
		Base:     component.NewBase(Namespace),
		logger:   log,
		addr:     addr,
		registry: registry,
		handlers: len(handlers),
	}, nil
}

// Handler serves the exposition format for the exporter's registry.
func (c *Component) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Component) Gatherer() prometheus.Gatherer { return c.registry }

// Addr is the bound address once started, the configured one before.
func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

func (c *Component) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := "stopped"
	if c.running {
		state = "running"
	}
	addr := c.addr
	if c.listener != nil {
		addr = c.listener.Addr().String()
	}
	return Status{State: state, ListenAddress: addr, HandlerCount: c.handlers}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting Prometheus exporter", "addr", c.addr, "handlers", c.handlers)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		c.StopContext()
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	c.mu.Lock()
	c.listener = ln
	c.running = true
	c.mu.Unlock()

	c.Go(func() {
		c.logger.Info("Prometheus HTTP server listening", "addr", ln.Addr().String())
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Prometheus HTTP server error", "error", err)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Prometheus exporter")

	var err error
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		err = c.server.Shutdown(shutdownCtx)
	}
	c.StopContext()
	return err
}
