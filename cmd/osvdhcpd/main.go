package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veesix-networks/osvdhcp/internal/daemon"
	"github.com/veesix-networks/osvdhcp/internal/dhcpd"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	"github.com/veesix-networks/osvdhcp/pkg/dhcp4"
	_ "github.com/veesix-networks/osvdhcp/plugins/all"
)

func main() {
	daemon.Main("osvdhcpd", "/etc/osvdhcp/osvdhcpd.yaml", setup)
}

func setup(ctx context.Context, deps *component.Dependencies, log *slog.Logger) (component.Component, error) {
	srv := deps.Config.DHCP.Server
	if srv == nil {
		return nil, fmt.Errorf("configuration has no dhcp.server section")
	}

	// An unset identifier is taken from the serving interface, ahead of
	// the provider's fallback to the first router.
	if srv.ServerID == "" && srv.Interface != "" {
		addr, err := deps.IfMgr.ServerAddress("", srv.Interface)
		if err != nil {
			log.Warn("Cannot derive server identifier from interface", "interface", srv.Interface, "error", err)
		} else {
			srv.ServerID = addr.String()
			log.Info("Server identifier taken from interface", "interface", srv.Interface, "server_id", srv.ServerID)
		}
	}

	name := srv.GetProvider()
	factory, ok := dhcp4.Get(name)
	if !ok {
		return nil, fmt.Errorf("DHCP4 provider '%s' not found. Available providers: %v", name, dhcp4.List())
	}
	provider, err := factory(deps.Config)
	if err != nil {
		return nil, fmt.Errorf("create DHCP4 provider '%s': %w", name, err)
	}

	comp, err := dhcpd.New(*deps, provider)
	if err != nil {
		return nil, err
	}
	if cp := comp.Checkpointer(); cp != nil {
		if err := daemon.RestoreState(ctx, deps.OpDB, cp); err != nil {
			log.Warn("Lease restore failed", "error", err)
		}
	}

	deps.Server = comp
	return comp, nil
}
