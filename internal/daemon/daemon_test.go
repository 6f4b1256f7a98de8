package daemon

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/config"
	"github.com/veesix-networks/osvdhcp/pkg/opdb"
)

type engine struct {
	mu      sync.Mutex
	started chan struct{}
	stopped bool
}

func (e *engine) Name() string { return "engine" }

func (e *engine) Start(context.Context) error {
	close(e.started)
	return nil
}

func (e *engine) Stop(context.Context) error {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	return nil
}

func TestRunLifecycle(t *testing.T) {
	cfg := &config.Config{OpDB: config.OpDB{Path: filepath.Join(t.TempDir(), "opdb.sqlite")}}
	e := &engine{started: make(chan struct{})}

	var gotDB opdb.Store
	setup := func(_ context.Context, deps *component.Dependencies, _ *slog.Logger) (component.Component, error) {
		gotDB = deps.OpDB
		assert.NotNil(t, deps.EventBus)
		assert.NotNil(t, deps.IfMgr)
		return e, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, "test", cfg, setup) }()

	select {
	case <-e.started:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never started")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.NotNil(t, gotDB)
	e.mu.Lock()
	assert.True(t, e.stopped)
	e.mu.Unlock()
}

func TestRunSetupError(t *testing.T) {
	cfg := &config.Config{OpDB: config.OpDB{Disabled: true}}
	boom := errors.New("boom")
	err := Run(context.Background(), "test", cfg, func(_ context.Context, deps *component.Dependencies, _ *slog.Logger) (component.Component, error) {
		assert.Nil(t, deps.OpDB)
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

type restorer struct {
	calls int
}

func (r *restorer) Namespaces() []string { return []string{"test"} }

func (r *restorer) Restore(context.Context, opdb.Store) error {
	r.calls++
	return nil
}

func TestRestoreStateWithoutDatabase(t *testing.T) {
	r := &restorer{}
	require.NoError(t, RestoreState(context.Background(), nil, r))
	assert.Zero(t, r.calls)
}
