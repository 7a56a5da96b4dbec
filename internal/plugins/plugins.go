// Package plugins lists the plugins built into neb
package plugins

import (
	"fmt"
	"sort"

	"github.com/keepmind9/neb/internal/plugin"
	"github.com/keepmind9/neb/internal/plugins/b64"
	"github.com/keepmind9/neb/internal/plugins/prometheus"
	"github.com/keepmind9/neb/internal/plugins/timeconv"
)

// Factory builds a plugin from its environment
type Factory func(env plugin.Env) (plugin.Plugin, error)

var builtin = map[string]Factory{
	b64.Name: func(env plugin.Env) (plugin.Plugin, error) {
		return b64.New(env)
	},
	prometheus.Name: func(env plugin.Env) (plugin.Plugin, error) {
		return prometheus.New(env)
	},
	timeconv.Name: func(env plugin.Env) (plugin.Plugin, error) {
		return timeconv.New(env)
	},
}

// Names returns the built-in plugin names, sorted
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Known reports whether name is a built-in plugin
func Known(name string) bool {
	_, ok := builtin[name]
	return ok
}

// New builds the named plugin
func New(name string, env plugin.Env) (plugin.Plugin, error) {
	factory, ok := builtin[name]
	if !ok {
		return nil, fmt.Errorf("unknown plugin: %s", name)
	}
	p, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %s: %w", name, err)
	}
	return p, nil
}
