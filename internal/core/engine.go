package core

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/plugin"
	"github.com/keepmind9/neb/internal/roomstate"
	"github.com/keepmind9/neb/pkg/constants"
)

// eventHandler processes one event of a type the engine handles itself
type eventHandler func(ctx context.Context, ev matrix.Event)

// Engine owns the sync cursor, the room state store and the plugin registry
type Engine struct {
	config     *Config
	session    matrix.Session
	store      *roomstate.Store
	registry   *plugin.Registry
	handlers   map[string]eventHandler
	hookServer *http.Server

	cursorMu sync.RWMutex
	cursor   string // next-batch token, only written by the sync loop

	runMu   sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

// NewEngine creates a new Engine instance
func NewEngine(config *Config, session matrix.Session) *Engine {
	e := &Engine{
		config:   config,
		session:  session,
		store:    roomstate.New(),
		registry: plugin.NewRegistry(command.NewRouter(config.CommandPrefix)),
	}
	e.handlers = map[string]eventHandler{
		matrix.EventMember:  e.onMembership,
		matrix.EventMessage: e.onMessage,
	}
	return e
}

// Store returns the shared room state store
func (e *Engine) Store() *roomstate.Store {
	return e.store
}

// Registry returns the plugin registry
func (e *Engine) Registry() *plugin.Registry {
	return e.registry
}

// PluginEnv builds the environment handed to the plugin called name
func (e *Engine) PluginEnv(name string) plugin.Env {
	var options map[string]any
	if pc, ok := e.config.Plugins[name]; ok {
		options = pc.Options
	}
	return plugin.Env{
		Name:    name,
		Session: e.session,
		Store:   e.store,
		Admins:  e.config.Admins,
		DataDir: e.config.DataDir,
		Options: options,
	}
}

// RegisterPlugin registers a plugin and extends the store's watch-set.
// Must be called before Run.
func (e *Engine) RegisterPlugin(p plugin.Plugin) error {
	if err := e.registry.Register(p); err != nil {
		return err
	}
	e.store.Watch(e.registry.WatchedStateTypes()...)
	logger.WithField("plugin", p.Name()).Info("plugin-registered")
	return nil
}

// Cursor returns the next-batch token of the last successful sync
func (e *Engine) Cursor() string {
	e.cursorMu.RLock()
	defer e.cursorMu.RUnlock()
	return e.cursor
}

// advanceCursor moves the cursor to next. An empty token would restart the
// stream from the beginning, so the previous cursor is kept instead.
func (e *Engine) advanceCursor(next string) {
	if next == "" {
		logger.WithField("since", e.Cursor()).Warn("sync-missing-next-batch")
		return
	}
	e.cursorMu.Lock()
	e.cursor = next
	e.cursorMu.Unlock()
}

// Run starts the webhook server and plugin workers, then runs the sync loop
// until ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	logger.WithFields(logrus.Fields{
		"user_id":        e.session.UserID(),
		"plugins":        len(e.registry.Plugins()),
		"command_prefix": e.registry.Router().Prefix(),
	}).Info("starting-neb-engine")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.runMu.Lock()
	if e.stopped {
		e.runMu.Unlock()
		logger.Info("engine-stopped-before-run")
		return nil
	}
	e.cancel = cancel
	if e.config.Webhook.IsEnabled() {
		e.hookServer = e.newHookServer()
		go e.serveHooks(e.hookServer)
	}
	e.runMu.Unlock()

	for _, reg := range e.registry.Plugins() {
		runner, ok := reg.Plugin.(plugin.Runner)
		if !ok {
			continue
		}
		go func(name string, r plugin.Runner) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.WithFields(logrus.Fields{
						"plugin": name,
						"panic":  rec,
					}).Error("plugin-runner-panic-recovered")
				}
			}()
			if err := r.Run(ctx); err != nil {
				logger.WithFields(logrus.Fields{
					"plugin": name,
					"error":  err,
				}).Error("plugin-runner-failed")
			}
		}(reg.Name(), runner)
	}

	return e.runSyncLoop(ctx)
}

// runSyncLoop does one bootstrap fetch, then long-polls forever. Fetch
// failures are retried after a fixed delay.
func (e *Engine) runSyncLoop(ctx context.Context) error {
	logger.Info("sync-loop-started")

	timeout := e.config.SyncTimeout()
	retryDelay := e.config.SyncRetryDelay()
	bootstrapped := false

	for {
		if ctx.Err() != nil {
			logger.Info("sync-loop-shutting-down")
			return nil
		}

		since := e.Cursor()
		pollTimeout := timeout
		if !bootstrapped {
			pollTimeout = 0
		}

		res, err := e.session.Sync(ctx, since, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("sync-loop-shutting-down")
				return nil
			}
			logger.WithFields(logrus.Fields{
				"since":    since,
				"error":    err,
				"retry_in": retryDelay.String(),
			}).Warn("sync-failed")
			if !sleepContext(ctx, retryDelay) {
				logger.Info("sync-loop-shutting-down")
				return nil
			}
			continue
		}

		e.advanceCursor(res.NextBatch)

		if !bootstrapped {
			e.bootstrap(ctx, res)
			bootstrapped = true
			continue
		}
		e.processSync(ctx, res)
	}
}

// bootstrap seeds the store from the first snapshot. Joined room timelines
// are history and are not dispatched.
func (e *Engine) bootstrap(ctx context.Context, res *matrix.SyncResult) {
	e.store.InitFromSync(res)

	for _, reg := range e.registry.Plugins() {
		syncer, ok := reg.Plugin.(plugin.Syncer)
		if !ok {
			continue
		}
		err := reg.Call(func() error { return syncer.OnSync(ctx, res) })
		e.logPluginFailure(reg, err, "on-sync", "")
	}

	e.processInvites(ctx, res)

	logger.WithFields(logrus.Fields{
		"joined_rooms":  len(res.Joined),
		"invited_rooms": len(res.Invited),
		"next_batch":    res.NextBatch,
	}).Info("initial-sync-complete")
}

// processSync dispatches one steady-state page
func (e *Engine) processSync(ctx context.Context, res *matrix.SyncResult) {
	e.processInvites(ctx, res)

	for _, roomID := range sortedKeys(res.Joined) {
		joined := res.Joined[roomID]
		for _, ev := range joined.State {
			e.processEvent(ctx, ev)
		}
		for _, ev := range joined.Timeline {
			e.processEvent(ctx, ev)
		}
	}

	for _, roomID := range res.Left {
		e.store.SetMembership(roomID, roomstate.MembershipLeave)
	}
}

func (e *Engine) processInvites(ctx context.Context, res *matrix.SyncResult) {
	for _, roomID := range sortedKeys(res.Invited) {
		for _, ev := range res.Invited[roomID] {
			e.processEvent(ctx, ev)
		}
	}
}

// Stop gracefully stops the engine
func (e *Engine) Stop() error {
	logger.Info("stopping-neb-engine")

	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}

	if e.hookServer != nil {
		logger.Info("stopping-webhook-server")
		ctx, cancel := context.WithTimeout(context.Background(), constants.WebhookShutdownTimeout)
		defer cancel()

		if err := e.hookServer.Shutdown(ctx); err != nil {
			logger.Errorf("failed-to-gracefully-stop-webhook-server: %v", err)
			e.hookServer.Close()
		} else {
			logger.Info("webhook-server-stopped-gracefully")
		}
	}

	logger.Info("engine-stopped")
	return nil
}

// sleepContext waits for d and reports false if ctx ended first
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) logPluginFailure(reg *plugin.Registration, err error, callback, eventID string) {
	if err == nil {
		return
	}
	fields := logrus.Fields{
		"plugin":   reg.Name(),
		"callback": callback,
		"event_id": eventID,
		"error":    err,
	}
	var panicErr *plugin.PanicError
	if errors.As(err, &panicErr) {
		fields["stack"] = string(panicErr.Stack)
		logger.WithFields(fields).Error("plugin-callback-panic-recovered")
		return
	}
	logger.WithFields(fields).Error("plugin-callback-failed")
}
