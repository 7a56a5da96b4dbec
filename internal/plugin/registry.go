package plugin

import (
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/pkg/constants"
)

// ConfigurationError is a registration conflict. It is fatal at startup.
type ConfigurationError struct {
	Plugin string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Reason)
}

// PanicError carries a panic recovered from plugin code
type PanicError struct {
	Plugin string
	Value  any
	Stack  []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("plugin %s panicked: %v", e.Plugin, e.Value)
}

// Registration is one registered plugin
type Registration struct {
	Plugin     Plugin
	Commands   []string
	WebhookKey string

	mu sync.Mutex
}

// Name returns the plugin name
func (r *Registration) Name() string {
	return r.Plugin.Name()
}

// Call runs fn while holding the plugin's lock, turning a panic into a
// *PanicError
func (r *Registration) Call(fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Plugin: r.Name(), Value: v, Stack: debug.Stack()}
		}
	}()
	return fn()
}

// Registry holds every plugin and owns the command router they share
type Registry struct {
	router   *command.Router
	byName   map[string]*Registration
	order    []*Registration
	commands map[string]*Registration
	webhooks map[string]*Registration
}

// NewRegistry creates a registry feeding router
func NewRegistry(router *command.Router) *Registry {
	return &Registry{
		router:   router,
		byName:   make(map[string]*Registration),
		commands: make(map[string]*Registration),
		webhooks: make(map[string]*Registration),
	}
}

// Router returns the shared command router
func (r *Registry) Router() *command.Router {
	return r.router
}

// Register adds p. Nothing is registered when any of its names conflicts.
func (r *Registry) Register(p Plugin) error {
	name := p.Name()
	if name == "" {
		return &ConfigurationError{Plugin: "<unnamed>", Reason: "empty plugin name"}
	}
	if _, exists := r.byName[name]; exists {
		return &ConfigurationError{Plugin: name, Reason: "plugin registered twice"}
	}

	reg := &Registration{Plugin: p}

	var tables []*command.Table
	if c, ok := p.(Commander); ok {
		tables = c.Commands()
	}
	seen := make(map[string]bool)
	for _, t := range tables {
		cmd := t.Name()
		if cmd == "" || strings.ContainsAny(cmd, " \t\r\n") {
			return &ConfigurationError{Plugin: name, Reason: fmt.Sprintf("invalid command name %q", cmd)}
		}
		if cmd == constants.HelpCommand {
			return &ConfigurationError{Plugin: name, Reason: "command help is reserved"}
		}
		if owner, exists := r.commands[cmd]; exists {
			return &ConfigurationError{Plugin: name, Reason: fmt.Sprintf("command %s already registered by %s", cmd, owner.Name())}
		}
		if seen[cmd] {
			return &ConfigurationError{Plugin: name, Reason: fmt.Sprintf("command %s exposed twice", cmd)}
		}
		seen[cmd] = true
		reg.Commands = append(reg.Commands, cmd)
	}

	if w, ok := p.(WebhookHandler); ok {
		key := w.WebhookKey()
		if key == "" || strings.Contains(key, "/") {
			return &ConfigurationError{Plugin: name, Reason: fmt.Sprintf("invalid webhook key %q", key)}
		}
		if owner, exists := r.webhooks[key]; exists {
			return &ConfigurationError{Plugin: name, Reason: fmt.Sprintf("webhook key %s already registered by %s", key, owner.Name())}
		}
		reg.WebhookKey = key
	}

	for _, t := range tables {
		if err := r.router.Register(t); err != nil {
			return &ConfigurationError{Plugin: name, Reason: err.Error()}
		}
		r.commands[t.Name()] = reg
	}
	if reg.WebhookKey != "" {
		r.webhooks[reg.WebhookKey] = reg
	}
	r.byName[name] = reg
	r.order = append(r.order, reg)
	return nil
}

// Plugins returns registrations in registration order
func (r *Registry) Plugins() []*Registration {
	return append([]*Registration(nil), r.order...)
}

// Get returns a registration by plugin name
func (r *Registry) Get(name string) (*Registration, bool) {
	reg, ok := r.byName[name]
	return reg, ok
}

// ForCommand returns the registration owning a top-level command
func (r *Registry) ForCommand(cmd string) (*Registration, bool) {
	reg, ok := r.commands[cmd]
	return reg, ok
}

// ForWebhook returns the registration owning a webhook key
func (r *Registry) ForWebhook(key string) (*Registration, bool) {
	reg, ok := r.webhooks[key]
	return reg, ok
}

// WebhookKeys returns every registered key, sorted
func (r *Registry) WebhookKeys() []string {
	keys := make([]string, 0, len(r.webhooks))
	for k := range r.webhooks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WatchedStateTypes collects the state types all plugins want tracked
func (r *Registry) WatchedStateTypes() []string {
	var types []string
	for _, reg := range r.order {
		if w, ok := reg.Plugin.(StateWatcher); ok {
			types = append(types, w.WatchedStateTypes()...)
		}
	}
	return types
}
