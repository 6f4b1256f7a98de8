package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"

	"github.com/veesix-networks/osvdhcp/internal/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
)

func (c *Component) requireServer(w http.ResponseWriter) bool {
	if c.server == nil {
		c.writeError(w, http.StatusServiceUnavailable, "dhcp server is not running")
		return false
	}
	return true
}

func (c *Component) requireClient(w http.ResponseWriter) bool {
	if c.client == nil {
		c.writeError(w, http.StatusServiceUnavailable, "dhcp client is not running")
		return false
	}
	return true
}

func (c *Component) leaseAddr(w http.ResponseWriter, r *http.Request) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(r.PathValue("addr"))
	if err != nil || !addr.Is4() {
		c.writeError(w, http.StatusBadRequest, "invalid IPv4 address: "+r.PathValue("addr"))
		return netip.Addr{}, false
	}
	return addr, true
}

func (c *Component) handleLeases(w http.ResponseWriter, r *http.Request) {
	if !c.requireServer(w) {
		return
	}

	var (
		filter    lease.State
		hasFilter bool
	)
	if s := r.URL.Query().Get("state"); s != "" {
		if err := filter.UnmarshalText([]byte(s)); err != nil {
			c.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		hasFilter = true
	}

	now := c.now()
	views := []LeaseView{}
	for _, l := range c.server.Provider().Store().List() {
		if hasFilter && l.State != filter {
			continue
		}
		views = append(views, newLeaseView(l, now))
	}
	c.writeJSON(w, http.StatusOK, views)
}

func (c *Component) handleLease(w http.ResponseWriter, r *http.Request) {
	if !c.requireServer(w) {
		return
	}
	addr, ok := c.leaseAddr(w, r)
	if !ok {
		return
	}

	l, found := c.server.Provider().Store().Get(addr)
	if !found {
		c.writeError(w, http.StatusNotFound, "no lease for "+addr.String())
		return
	}
	c.writeJSON(w, http.StatusOK, newLeaseView(l, c.now()))
}

func (c *Component) handleClearLease(w http.ResponseWriter, r *http.Request) {
	if !c.requireServer(w) {
		return
	}
	addr, ok := c.leaseAddr(w, r)
	if !ok {
		return
	}

	l, err := c.server.ClearLease(addr)
	if errors.Is(err, lease.ErrNoLease) {
		c.writeError(w, http.StatusNotFound, "no lease for "+addr.String())
		return
	}
	if err != nil {
		c.logger.Error("Clear lease failed", "address", addr, "error", err)
		c.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.writeJSON(w, http.StatusOK, newLeaseView(l, c.now()))
}

func (c *Component) handlePool(w http.ResponseWriter, r *http.Request) {
	if !c.requireServer(w) {
		return
	}

	p := c.server.Provider()
	store := p.Store()
	pool := store.Pool()
	view := PoolView{
		Name:     pool.Name(),
		Network:  pool.Network(),
		ServerID: p.ServerID(),
		Provider: p.Info().Name,
		Stats:    store.Stats(),
		Counters: c.server.Counters(),
	}
	for _, rng := range pool.Ranges() {
		view.Ranges = append(view.Ranges, rng.String())
	}
	c.writeJSON(w, http.StatusOK, view)
}

func (c *Component) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !c.requireClient(w) {
		return
	}
	c.writeJSON(w, http.StatusOK, c.client.Sessions())
}

func (c *Component) handleRelease(w http.ResponseWriter, r *http.Request) {
	c.sessionAction(w, r, "released", func(ctx context.Context, iface string) error {
		return c.client.Release(ctx, iface)
	})
}

func (c *Component) handleRenew(w http.ResponseWriter, r *http.Request) {
	c.sessionAction(w, r, "renewing", func(ctx context.Context, iface string) error {
		return c.client.Renew(ctx, iface)
	})
}

func (c *Component) sessionAction(w http.ResponseWriter, r *http.Request, status string, action func(ctx context.Context, iface string) error) {
	if !c.requireClient(w) {
		return
	}

	iface := r.PathValue("iface")
	err := action(r.Context(), iface)
	if errors.Is(err, dhcpc.ErrUnknownInterface) {
		c.writeError(w, http.StatusNotFound, err.Error()+": "+iface)
		return
	}
	if err != nil {
		c.logger.Error("Session action failed", "interface", iface, "action", status, "error", err)
		c.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	c.writeJSON(w, http.StatusOK, ActionResponse{Status: status, Interface: iface})
}

func (c *Component) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, c.spec)
}

func (c *Component) writeError(w http.ResponseWriter, status int, message string) {
	c.writeJSON(w, status, ErrorResponse{Error: message})
}

func (c *Component) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.Encode(v)
}
