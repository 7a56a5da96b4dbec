// Package plugin defines what a neb plugin is and keeps track of the
// registered ones.
//
// Every plugin implements Plugin. Everything else is optional and detected
// by type assertion at registration time:
//
//   - Commander: exposes chat commands
//   - EventHandler: receives events of types without a dedicated handler
//   - MessageHandler: receives messages that are not commands
//   - Syncer: receives the initial sync snapshot
//   - WebhookHandler: receives webhook calls under /neb/<key>
//   - StateWatcher: asks the engine to track room state types
//   - Runner: owns a background worker for the life of the engine
//
// # Thread Safety
//
// The engine calls a plugin from the sync loop and from webhook requests.
// Calls into one plugin are serialized by its Registration, so plugin code
// only needs its own locking for state touched by Runner goroutines.
package plugin

import (
	"context"
	"path/filepath"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/roomstate"
	"github.com/keepmind9/neb/internal/webhook"
)

// Plugin is the only required capability
type Plugin interface {
	Name() string
}

// Commander exposes top-level chat commands
type Commander interface {
	Commands() []*command.Table
}

// EventHandler receives every event not handled by the engine itself
type EventHandler interface {
	OnEvent(ctx context.Context, ev matrix.Event) error
}

// MessageHandler receives room messages that are not commands
type MessageHandler interface {
	OnMessage(ctx context.Context, ev matrix.Event) error
}

// Syncer receives the initial sync snapshot
type Syncer interface {
	OnSync(ctx context.Context, res *matrix.SyncResult) error
}

// WebhookHandler receives POSTs to /neb/<WebhookKey()>. A nil response is
// answered with 200 and an empty body.
type WebhookHandler interface {
	WebhookKey() string
	OnWebhook(ctx context.Context, req *webhook.Request) (*webhook.Response, error)
}

// StateWatcher lists state event types the shared room state store must track
type StateWatcher interface {
	WatchedStateTypes() []string
}

// Runner runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// Env is what the engine hands a plugin at construction
type Env struct {
	Name    string
	Session matrix.Session
	Store   *roomstate.Store
	Admins  []string
	DataDir string
	Options map[string]any
}

// OpenStore opens the plugin's persisted settings at <DataDir>/<Name>.json
func (e Env) OpenStore(defaults map[string]any) (*KeyValueStore, error) {
	return OpenKeyValueStore(filepath.Join(e.DataDir, e.Name+".json"), defaults)
}

// OptionString returns a string option, or def when unset
func (e Env) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IsAdmin reports whether userID is in the admin allow-list
func (e Env) IsAdmin(userID string) bool {
	for _, admin := range e.Admins {
		if admin == userID {
			return true
		}
	}
	return false
}
