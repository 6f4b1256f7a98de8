package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veesix-networks/osvdhcp/internal/daemon"
	"github.com/veesix-networks/osvdhcp/internal/dhcpc"
	"github.com/veesix-networks/osvdhcp/pkg/component"
	_ "github.com/veesix-networks/osvdhcp/plugins/all"
)

func main() {
	daemon.Main("osvdhcpc", "/etc/osvdhcp/osvdhcpc.yaml", setup)
}

func setup(_ context.Context, deps *component.Dependencies, log *slog.Logger) (component.Component, error) {
	if deps.Config.DHCP.Client == nil {
		return nil, fmt.Errorf("configuration has no dhcp.client section")
	}

	comp, err := dhcpc.New(*deps)
	if err != nil {
		return nil, err
	}
	log.Info("DHCP client configured", "interfaces", len(deps.Config.DHCP.Client.Interfaces))

	deps.Client = comp
	return comp, nil
}
