package core

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/plugin"
	"github.com/keepmind9/neb/internal/webhook"
	"github.com/keepmind9/neb/pkg/constants"
)

const requestIDHeader = "X-Request-Id"

// Route hands a webhook call to the plugin owning req.Key. Unknown keys get
// 404 without touching plugin code; a failing plugin gets 500.
func (e *Engine) Route(ctx context.Context, req *webhook.Request) *webhook.Response {
	fields := logrus.Fields{
		"request_id":  req.ID,
		"key":         req.Key,
		"path":        req.Path,
		"remote_addr": req.RemoteAddr,
	}

	reg, ok := e.registry.ForWebhook(req.Key)
	if !ok {
		logger.WithFields(fields).Warn("no-plugin-for-webhook-key")
		return webhook.Status(http.StatusNotFound, "")
	}
	handler, ok := reg.Plugin.(plugin.WebhookHandler)
	if !ok {
		return webhook.Status(http.StatusNotFound, "")
	}

	var resp *webhook.Response
	err := reg.Call(func() error {
		var callErr error
		resp, callErr = handler.OnWebhook(ctx, req)
		return callErr
	})
	if err != nil {
		e.logPluginFailure(reg, err, "on-webhook", "")
		return webhook.Status(http.StatusInternalServerError, "")
	}
	if resp == nil {
		return &webhook.Response{Status: http.StatusOK}
	}

	fields["status"] = resp.StatusCode()
	logger.WithFields(fields).Debug("webhook-handled")
	return resp
}

// HookHandler serves POST /neb/<key>[/<path>]
func (e *Engine) HookHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.WebhookPathPrefix, e.handleHookRequest)
	return mux
}

func (e *Engine) newHookServer() *http.Server {
	return &http.Server{
		Addr:         e.config.Webhook.Addr,
		Handler:      e.HookHandler(),
		ReadTimeout:  constants.WebhookReadTimeout,
		WriteTimeout: constants.WebhookWriteTimeout,
		IdleTimeout:  constants.WebhookIdleTimeout,
	}
}

// serveHooks blocks until the server is shut down
func (e *Engine) serveHooks(srv *http.Server) {
	logger.WithFields(logrus.Fields{
		"address": srv.Addr,
		"keys":    e.registry.WebhookKeys(),
	}).Info("webhook-server-listening")

	// Shutdown makes ListenAndServe return ErrServerClosed
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("webhook-server-error: %v", err)
	}

	logger.Info("webhook-server-stopped")
}

// handleHookRequest adapts an HTTP request to Route
func (e *Engine) handleHookRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, constants.WebhookPathPrefix), "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.MaxWebhookBodyBytes))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WithField("key", key).Warn("webhook-body-too-large")
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Errorf("failed-to-read-webhook-body: %v", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	resp := e.Route(r.Context(), &webhook.Request{
		ID:         requestID,
		Key:        key,
		Path:       rest,
		Body:       body,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
		Query:      r.URL.Query(),
	})

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set(requestIDHeader, requestID)
	w.WriteHeader(resp.StatusCode())
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			logger.WithField("error", err).Debug("failed-to-write-webhook-response")
		}
	}
}
