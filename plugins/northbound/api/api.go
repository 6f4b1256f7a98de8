package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/logger"
	"github.com/veesix-networks/osvdhcp/plugins/exporter/prometheus/metrics"
)

// Component is the local control API. It serves whichever engines the
// daemon runs; routes for an absent engine answer 503.
type Component struct {
	*component.Base
	logger  *slog.Logger
	addr    string
	server  component.Server
	client  component.Client
	spec    *openapi3.T
	handler http.Handler
	now     func() time.Time

	httpServer *http.Server
	mu         sync.RWMutex
	listener   net.Listener
	running    bool
}

func NewComponent(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || deps.Config.API.Disabled {
		return nil, nil
	}
	c, err := New(deps, deps.Config.API.Address)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func New(deps component.Dependencies, addr string) (*Component, error) {
	if addr == "" {
		addr = config.DefaultAPIAddress
	}
	log := logger.Get(logger.API)

	registry := prometheus.NewRegistry()
	src := metrics.Source{Server: deps.Server, Client: deps.Client, Bus: deps.EventBus}
	collector := metrics.NewCollector(src, log, metrics.DefaultRegistry().CreateHandlers(log))
	if err := registry.Register(collector); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}

	spec := buildOpenAPISpec()
	if err := spec.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi document: %w", err)
	}

	c := &Component{
		Base:   component.NewBase(Namespace),
		logger: log,
		addr:   addr,
		server: deps.Server,
		client: deps.Client,
		spec:   spec,
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/leases", c.handleLeases)
	mux.HandleFunc("GET /api/leases/{addr}", c.handleLease)
	mux.HandleFunc("DELETE /api/leases/{addr}", c.handleClearLease)
	mux.HandleFunc("GET /api/pool", c.handlePool)
	mux.HandleFunc("GET /api/sessions", c.handleSessions)
	mux.HandleFunc("POST /api/sessions/{iface}/release", c.handleRelease)
	mux.HandleFunc("POST /api/sessions/{iface}/renew", c.handleRenew)
	mux.HandleFunc("GET /api/openapi.json", c.handleOpenAPI)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	c.handler = mux

	return c, nil
}

func (c *Component) Handler() http.Handler { return c.handler }

func (c *Component) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener != nil {
		return c.listener.Addr().String()
	}
	return c.addr
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting API server", "addr", c.addr)

	ln, err := net.Listen("tcp", c.addr)
	if err != nil {
		c.StopContext()
		return fmt.Errorf("listen %s: %w", c.addr, err)
	}
	c.httpServer = &http.Server{Handler: c.handler, ReadHeaderTimeout: 10 * time.Second}

	c.mu.Lock()
	c.listener = ln
	c.running = true
	c.mu.Unlock()

	c.Go(func() {
		c.logger.Info("API server listening", "addr", ln.Addr().String())
		if err := c.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("API server error", "error", err)
		}
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping API server")

	var err error
	if c.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		err = c.httpServer.Shutdown(shutdownCtx)
	}
	c.StopContext()
	return err
}

func (c *Component) GetStatus() *Status {
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
	return &Status{State: state, ListenAddress: addr, Running: c.running}
}
