// Package plugins is the static registry of built-in Alumet plugins.
// Loading a plugin dynamically (a shared object discovered at runtime) is
// out of the core's scope (spec.md §1); this package only assembles the
// list of statically linked ones the agent was built with.
package plugins

import (
	"fmt"
	"reflect"

	"alumet/internal/config"
	"alumet/pkg/plugin"
	"alumet/plugins/cgroup"
	"alumet/plugins/relay"
	"alumet/plugins/reporter/console"
	"alumet/plugins/selfmetrics"
)

// Factory constructs a fresh, unconfigured plugin instance.
type Factory func() plugin.Plugin

// builtins maps a plugin's Name() to its factory. Order doesn't matter:
// the builder starts plugins in the order the caller passes them, not
// registration order.
var builtins = map[string]Factory{
	"relay":       func() plugin.Plugin { return relay.New() },
	"console":     func() plugin.Plugin { return console.New() },
	"selfmetrics": func() plugin.Plugin { return selfmetrics.New() },
	"cgroup":      func() plugin.Plugin { return cgroup.New() },
}

// Names returns every built-in plugin name, for `alumet-agent list-plugins`.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	return names
}

// New constructs the named built-in plugin, or an error if it is unknown.
func New(name string) (plugin.Plugin, error) {
	f, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("plugins: unknown plugin %q", name)
	}
	return f(), nil
}

// InitWithConfig constructs the named built-in plugin and initializes it
// with its `plugins.<name>` table decoded on top of its own
// DefaultConfig(), mirroring the teacher's per-plugin mapstructure decode
// pattern without requiring Go generics across the Plugin interface.
func InitWithConfig(name string, loaded *config.Loaded) (plugin.Plugin, error) {
	p, err := New(name)
	if err != nil {
		return nil, err
	}

	def := p.DefaultConfig()
	cfgPtr := reflect.New(reflect.TypeOf(def))
	cfgPtr.Elem().Set(reflect.ValueOf(def))

	if err := loaded.PluginConfig(name, cfgPtr.Interface()); err != nil {
		return nil, fmt.Errorf("plugins: decoding config for %q: %w", name, err)
	}

	return p.Init(cfgPtr.Elem().Interface())
}
