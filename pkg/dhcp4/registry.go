package dhcp4

import (
	"slices"

	"github.com/veesix-networks/osvdhcp/pkg/config"
)

type Factory func(cfg *config.Config) (DHCPProvider, error)

var factories = make(map[string]Factory)

func Register(name string, factory Factory) {
	factories[name] = factory
}

func Get(name string) (Factory, bool) {
	factory, exists := factories[name]
	return factory, exists
}

func List() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
