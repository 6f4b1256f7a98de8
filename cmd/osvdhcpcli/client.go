package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/version"
	"github.com/veesix-networks/osvdhcp/plugins/northbound/api"
)

// APIClient talks to the control API of osvdhcpd or osvdhcpc.
type APIClient struct {
	base string
	http *http.Client
}

func NewAPIClient(addr string, timeout time.Duration) *APIClient {
	return &APIClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.UserAgent("osvdhcpcli"))
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s", e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *APIClient) Leases(ctx context.Context, state string) ([]api.LeaseView, error) {
	path := "/api/leases"
	if state != "" {
		path += "?state=" + url.QueryEscape(state)
	}
	var out []api.LeaseView
	return out, c.do(ctx, http.MethodGet, path, &out)
}

func (c *APIClient) Lease(ctx context.Context, addr string) (api.LeaseView, error) {
	var out api.LeaseView
	return out, c.do(ctx, http.MethodGet, "/api/leases/"+url.PathEscape(addr), &out)
}

func (c *APIClient) ClearLease(ctx context.Context, addr string) (api.LeaseView, error) {
	var out api.LeaseView
	return out, c.do(ctx, http.MethodDelete, "/api/leases/"+url.PathEscape(addr), &out)
}

func (c *APIClient) Pool(ctx context.Context) (api.PoolView, error) {
	var out api.PoolView
	return out, c.do(ctx, http.MethodGet, "/api/pool", &out)
}

func (c *APIClient) Sessions(ctx context.Context) ([]dhcpc.Info, error) {
	var out []dhcpc.Info
	return out, c.do(ctx, http.MethodGet, "/api/sessions", &out)
}

func (c *APIClient) Release(ctx context.Context, iface string) (api.ActionResponse, error) {
	var out api.ActionResponse
	return out, c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(iface)+"/release", &out)
}

func (c *APIClient) Renew(ctx context.Context, iface string) (api.ActionResponse, error) {
	var out api.ActionResponse
	return out, c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(iface)+"/renew", &out)
}
