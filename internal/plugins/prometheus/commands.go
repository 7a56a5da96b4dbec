package prometheus

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/roomstate"
)

func (p *Plugin) cmdStatus(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	joined := len(p.env.Store.RoomIDsWithMembership(roomstate.MembershipJoin))
	return command.Text(fmt.Sprintf(
		"%d notices waiting for delivery. Relaying to %d of %d joined rooms. Webhook verification: %s.",
		p.queue.Len(), len(p.targetRooms()), joined, p.verificationMode(),
	)), nil
}

func (p *Plugin) cmdTrack(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	var enabled bool
	switch strings.ToLower(inv.Arg(0).String()) {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return command.Text("Usage: prometheus track on|off"), nil
	}

	content := map[string]any{"enabled": enabled}
	if err := p.env.Session.SendStateEvent(ctx, inv.RoomID(), TrackingType, "", content); err != nil {
		return command.Response{}, fmt.Errorf("failed to update tracking state: %w", err)
	}
	if enabled {
		return command.Text("Prometheus alerts will be relayed to this room."), nil
	}
	return command.Text("Prometheus alerts will no longer be relayed to this room."), nil
}

func (p *Plugin) cmdTemplateShow(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	return command.Text(p.template()), nil
}

func (p *Plugin) cmdTemplateSet(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	// the raw text keeps the spacing and newlines the tokenizer would collapse
	text := skipWords(inv.Raw, 2)
	if _, err := parseTemplate(text); err != nil {
		return command.Text("Invalid template: " + err.Error()), nil
	}
	if err := p.kv.Set(templateKey, text); err != nil {
		return command.Response{}, err
	}
	p.log.WithField("sender", inv.Sender()).Info("prometheus-template-updated")
	return command.Text("Template updated."), nil
}

func (p *Plugin) cmdTemplateReset(ctx context.Context, inv *command.Invocation) (command.Response, error) {
	if err := p.kv.Delete(templateKey); err != nil {
		return command.Response{}, err
	}
	return command.Text("Template reset to the default."), nil
}

// skipWords drops the first n whitespace separated words of s
func skipWords(s string, n int) string {
	for i := 0; i < n; i++ {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		idx := strings.IndexFunc(s, unicode.IsSpace)
		if idx < 0 {
			return ""
		}
		s = s[idx:]
	}
	return strings.TrimSpace(s)
}
