package component

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Factory builds a plugin component. A nil component with a nil error
// means the plugin is disabled by configuration.
type Factory func(deps Dependencies) (Component, error)

// plugins is filled from init functions.
var plugins = struct {
	sync.RWMutex
	factories map[string]Factory
}{factories: map[string]Factory{}}

func Register(name string, factory Factory) {
	if factory == nil {
		panic("component: nil factory for " + name)
	}
	plugins.Lock()
	defer plugins.Unlock()
	if _, dup := plugins.factories[name]; dup {
		panic("component: " + name + " registered twice")
	}
	plugins.factories[name] = factory
}

func Get(name string) (Factory, bool) {
	plugins.RLock()
	defer plugins.RUnlock()
	f, ok := plugins.factories[name]
	return f, ok
}

// List returns the registered plugin names in sorted order.
func List() []string {
	plugins.RLock()
	defer plugins.RUnlock()
	return slices.Sorted(maps.Keys(plugins.factories))
}

// LoadAll builds every registered plugin in name order, skipping the
// disabled ones.
func LoadAll(deps Dependencies) ([]Component, error) {
	var loaded []Component
	for _, name := range List() {
		factory, _ := Get(name)
		comp, err := factory(deps)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", name, err)
		}
		if comp != nil {
			loaded = append(loaded, comp)
		}
	}
	return loaded, nil
}
