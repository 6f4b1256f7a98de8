package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/lease"
	"github.com/veesix-networks/osvdhcp/plugins/northbound/api"
)

type fakeAPI struct {
	requests []string
	agent    string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
	f.agent = r.UserAgent()
	w.Header().Set("Content-Type", "application/json")

	bound := api.LeaseView{
		Address:   netip.MustParseAddr("10.0.0.10"),
		State:     lease.StateBound,
		MAC:       "02:00:00:00:00:0a",
		Hostname:  "cpe",
		Remaining: 3600,
	}

	var body any
	switch r.Method + " " + r.URL.Path {
	case "GET /api/leases":
		body = []api.LeaseView{bound}
	case "GET /api/leases/10.0.0.10", "DELETE /api/leases/10.0.0.10":
		body = bound
	case "GET /api/pool":
		body = api.PoolView{Name: "lan", Ranges: []string{"10.0.0.10-10.0.0.20"}, Stats: lease.Stats{Total: 11, Bound: 1, Free: 10}}
	case "GET /api/sessions":
		body = []dhcpc.Info{{Interface: "cpe0", State: dhcpc.StateSelecting, Attempt: 3}}
	case "POST /api/sessions/cpe0/renew":
		body = api.ActionResponse{Status: "renewing", Interface: "cpe0"}
	default:
		w.WriteHeader(http.StatusNotFound)
		body = api.ErrorResponse{Error: "no lease for 10.0.0.99"}
	}
	json.NewEncoder(w).Encode(body)
}

func newTestCLI(t *testing.T, format OutputFormat) (*CLI, *fakeAPI, *bytes.Buffer) {
	t.Helper()
	fake := &fakeAPI{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	addr := strings.TrimPrefix(srv.URL, "http://")
	var out bytes.Buffer
	return NewCLI(NewAPIClient(addr, time.Second), addr, format, time.Second, &out), fake, &out
}

func run(t *testing.T, cli *CLI, line string) error {
	t.Helper()
	return cli.tree.Execute(context.Background(), cli, line)
}

func TestShowLeasesTable(t *testing.T) {
	cli, fake, out := newTestCLI(t, FormatCLI)

	require.NoError(t, run(t, cli, "show leases state bound"))
	assert.Equal(t, []string{"GET /api/leases?state=bound"}, fake.requests)
	assert.Contains(t, out.String(), "ADDRESS")
	assert.Contains(t, out.String(), "10.0.0.10")
	assert.Contains(t, out.String(), "1h0m0s")
	assert.Contains(t, out.String(), "Total: 1")
}

func TestShowPoolJSON(t *testing.T) {
	cli, _, out := newTestCLI(t, FormatJSON)

	require.NoError(t, run(t, cli, "show pool"))
	var pool api.PoolView
	require.NoError(t, json.Unmarshal(out.Bytes(), &pool))
	assert.Equal(t, "lan", pool.Name)
	assert.Equal(t, 11, pool.Stats.Total)
}

func TestShowSessionsYAML(t *testing.T) {
	cli, _, out := newTestCLI(t, FormatYAML)

	require.NoError(t, run(t, cli, "show sessions"))
	assert.Contains(t, out.String(), "interface: cpe0")
	assert.Contains(t, out.String(), "state: SELECTING")
	assert.NotContains(t, out.String(), "{")
}

func TestClearAndRenew(t *testing.T) {
	cli, fake, out := newTestCLI(t, FormatCLI)

	require.NoError(t, run(t, cli, "clear lease 10.0.0.10"))
	require.NoError(t, run(t, cli, "renew cpe0"))
	assert.Equal(t, []string{"DELETE /api/leases/10.0.0.10", "POST /api/sessions/cpe0/renew"}, fake.requests)
	assert.Contains(t, out.String(), "Lease 10.0.0.10 cleared (was bound)")
	assert.Contains(t, out.String(), "cpe0: renewing")
	assert.True(t, strings.HasPrefix(fake.agent, "osvdhcpcli/"), fake.agent)
}

func TestAPIErrorSurfaced(t *testing.T) {
	cli, _, _ := newTestCLI(t, FormatCLI)

	err := run(t, cli, "show lease 10.0.0.99")
	require.Error(t, err)
	assert.Equal(t, "no lease for 10.0.0.99", err.Error())
}

func TestCommandErrors(t *testing.T) {
	cli, fake, _ := newTestCLI(t, FormatCLI)

	assert.ErrorIs(t, run(t, cli, "bogus"), ErrUnrecognized)
	assert.ErrorIs(t, run(t, cli, "show"), ErrIncomplete)
	assert.EqualError(t, run(t, cli, "show lease"), "address required")
	assert.EqualError(t, run(t, cli, "show leases state"), "state needs a value")
	assert.EqualError(t, run(t, cli, "show leases colour red"), `unexpected argument "colour"`)
	assert.Empty(t, fake.requests)
}

func TestCompletions(t *testing.T) {
	tree := NewCommandTree()
	RegisterCommands(tree)

	assert.Equal(t, []string{"show"}, tree.GetCompletions("sh"))
	assert.Equal(t, []string{"leases", "lease"}, tree.GetCompletions("show le"))
	assert.Equal(t, []string{"state"}, tree.GetCompletions("show leases "))
	assert.Equal(t, []string{"bound"}, tree.GetCompletions("show leases state bo"))
	assert.Empty(t, tree.GetCompletions("show leases state bound "))
	assert.Nil(t, tree.GetCompletions("nothing here"))
}

func TestShowHelp(t *testing.T) {
	tree := NewCommandTree()
	RegisterCommands(tree)

	var buf bytes.Buffer
	tree.ShowHelp(&buf, "show")
	assert.Contains(t, buf.String(), "leases")
	assert.Contains(t, buf.String(), "sessions")

	buf.Reset()
	tree.ShowHelp(&buf, "clear lease")
	assert.Contains(t, buf.String(), "<address>")

	buf.Reset()
	tree.ShowHelp(&buf, "show leases state")
	assert.Contains(t, buf.String(), "declined")
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}
