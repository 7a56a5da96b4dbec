// Package prometheus relays Alertmanager webhook notifications into every
// joined room that has not opted out.
//
// Alerts arrive on /neb/prometheus and are rendered through a text/template
// (overridable per deployment with "!prometheus template set"), converted
// from markdown to HTML and queued for a dedicated delivery worker, so a
// slow or unreachable home server never blocks the webhook caller.
//
// A room opts out by setting the org.matrix.neb.plugin.prometheus.projects.tracking
// state event to {"enabled": false}, which "!prometheus track off" does.
package prometheus

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/delivery"
	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/plugin"
	"github.com/keepmind9/neb/internal/roomstate"
	"github.com/keepmind9/neb/internal/webhook"
)

const (
	// Name is the plugin, command and webhook key
	Name = "prometheus"
	// TrackingType is the room state event that switches relaying per room
	TrackingType = "org.matrix.neb.plugin.prometheus.projects.tracking"

	templateKey = "message_template"
)

// Plugin relays alerts
type Plugin struct {
	env        plugin.Env
	kv         *plugin.KeyValueStore
	queue      *delivery.Queue
	worker     *delivery.Worker
	log        *logrus.Entry
	token      string
	hmacSecret string
	fallback   string
}

// New builds the plugin from its options: secret_token, hmac_secret and
// template. Without a secret every caller is accepted.
func New(env plugin.Env) (*Plugin, error) {
	kv, err := env.OpenStore(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open prometheus store: %w", err)
	}

	fallback := env.OptionString("template", DefaultTemplate)
	if _, err := parseTemplate(fallback); err != nil {
		return nil, &plugin.ConfigurationError{Plugin: Name, Reason: "invalid template option: " + err.Error()}
	}

	p := &Plugin{
		env:        env,
		kv:         kv,
		queue:      delivery.NewQueue(),
		log:        logger.WithPlugin(Name),
		token:      env.OptionString("secret_token", ""),
		hmacSecret: env.OptionString("hmac_secret", ""),
		fallback:   fallback,
	}
	p.worker = delivery.NewWorker(Name, p.queue, env.Session, delivery.DefaultBackoff())

	if p.token == "" && p.hmacSecret == "" {
		p.log.Warn("prometheus-webhook-accepts-unverified-calls")
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) WebhookKey() string { return Name }

func (p *Plugin) WatchedStateTypes() []string { return []string{TrackingType} }

// Run delivers queued notices until ctx is cancelled
func (p *Plugin) Run(ctx context.Context) error {
	return p.worker.Run(ctx)
}

// Queue exposes the outbound queue
func (p *Plugin) Queue() *delivery.Queue {
	return p.queue
}

// verify applies the configured check. An HMAC secret wins over a token.
func (p *Plugin) verify(req *webhook.Request) webhook.Verification {
	switch {
	case p.hmacSecret != "":
		return webhook.VerifyRequestHMAC([]byte(p.hmacSecret), req)
	case p.token != "":
		return webhook.VerifyToken(p.token, req)
	default:
		return webhook.Verified
	}
}

func (p *Plugin) verificationMode() string {
	switch {
	case p.hmacSecret != "":
		return "hmac"
	case p.token != "":
		return "token"
	default:
		return "none"
	}
}

// OnWebhook queues one notice per alert per tracking room
func (p *Plugin) OnWebhook(ctx context.Context, req *webhook.Request) (*webhook.Response, error) {
	if v := p.verify(req); !v.OK() {
		p.log.WithFields(logrus.Fields{
			"remote_addr": req.RemoteAddr,
			"reason":      v.Reason(),
		}).Warn("prometheus-webhook-rejected")
		return v.Response(), nil
	}

	if !gjson.ValidBytes(req.Body) {
		return webhook.Status(http.StatusBadRequest, "invalid JSON body"), nil
	}

	tmpl, err := parseTemplate(p.template())
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored template: %w", err)
	}

	alerts := extractAlerts(req.Body)
	rooms := p.targetRooms()
	queued := 0
	for _, alert := range alerts {
		plain, html, err := render(tmpl, alert)
		if err != nil {
			p.log.WithFields(logrus.Fields{
				"alert": alert.Raw.Raw,
				"error": err,
			}).Error("failed-to-render-alert")
			plain, html = alert.Raw.Raw, ""
		}
		for _, roomID := range rooms {
			content := matrix.NoticeContent(plain)
			if html != "" {
				content = matrix.HTMLContent(matrix.MsgNotice, html, plain)
			}
			m := p.queue.Push(roomID, content)
			queued++
			p.log.WithFields(logrus.Fields{
				"room_id":  roomID,
				"priority": m.Priority,
			}).Debug("alert-notice-queued")
		}
	}

	p.log.WithFields(logrus.Fields{
		"alerts": len(alerts),
		"rooms":  len(rooms),
		"queued": queued,
	}).Info("prometheus-webhook-received")

	body, _ := sjson.SetBytes([]byte(`{}`), "alerts", len(alerts))
	body, _ = sjson.SetBytes(body, "queued", queued)
	return webhook.JSON(http.StatusOK, body), nil
}

// targetRooms lists joined rooms that have not switched tracking off
func (p *Plugin) targetRooms() []string {
	joined := p.env.Store.RoomIDsWithMembership(roomstate.MembershipJoin)
	sort.Strings(joined)

	rooms := joined[:0]
	for _, roomID := range joined {
		if p.tracking(roomID) {
			rooms = append(rooms, roomID)
		}
	}
	return rooms
}

func (p *Plugin) tracking(roomID string) bool {
	content, err := p.env.Store.Get(roomID, TrackingType, "")
	if err != nil {
		return true
	}
	enabled, ok := content["enabled"].(bool)
	return !ok || enabled
}

func (p *Plugin) template() string {
	return p.kv.GetString(templateKey, p.fallback)
}

// Commands exposes "prometheus"
func (p *Plugin) Commands() []*command.Table {
	admin := func(h command.Handler) command.Handler {
		return plugin.AdminOnly(p.env, h)
	}
	return []*command.Table{
		command.NewTable(Name, "Relay Prometheus alerts into rooms.").MustBind(
			command.Binding{
				Path:    []string{"status"},
				Help:    "Show the delivery queue and relaying rooms.",
				Handler: p.cmdStatus,
			},
			command.Binding{
				Path:    []string{"track"},
				Params:  []command.Param{{Name: "on|off"}},
				Help:    "Switch alert relaying for this room.",
				Handler: admin(p.cmdTrack),
			},
			command.Binding{
				Path:    []string{"template"},
				Help:    "Show the alert template.",
				Handler: p.cmdTemplateShow,
			},
			command.Binding{
				Path:     []string{"template", "set"},
				Params:   []command.Param{{Name: "template"}},
				Variadic: true,
				Help:     "Replace the alert template.",
				Handler:  admin(p.cmdTemplateSet),
			},
			command.Binding{
				Path:    []string{"template", "reset"},
				Help:    "Go back to the default template.",
				Handler: admin(p.cmdTemplateReset),
			},
		),
	}
}
