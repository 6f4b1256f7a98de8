// Package all links every in-tree plugin into a binary.
package all

import (
	_ "github.com/veesix-networks/osvdhcp/plugins/dhcp4/local"
	_ "github.com/veesix-networks/osvdhcp/plugins/exporter/prometheus"
	_ "github.com/veesix-networks/osvdhcp/plugins/northbound/api"
)
