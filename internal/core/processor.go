package core

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/plugin"
	"github.com/keepmind9/neb/internal/roomstate"
)

// FatalCommandText answers a command whose handler failed unexpectedly
const FatalCommandText = "Fatal error processing command"

// processEvent keeps the store current and dispatches ev by type
func (e *Engine) processEvent(ctx context.Context, ev matrix.Event) {
	if ev.IsState() {
		e.store.Update(ev)
	}

	if handle, ok := e.handlers[ev.Type]; ok {
		handle(ctx, ev)
		return
	}
	e.fanOutEvent(ctx, ev)
}

// onMembership joins rooms admins invite the bot to and tracks the bot's
// own membership
func (e *Engine) onMembership(ctx context.Context, ev matrix.Event) {
	if ev.StateKey == nil || *ev.StateKey != e.session.UserID() {
		e.fanOutEvent(ctx, ev)
		return
	}

	fields := logrus.Fields{
		"room_id":  ev.RoomID,
		"sender":   ev.Sender,
		"event_id": ev.ID,
	}

	switch ev.Membership() {
	case matrix.MembershipInvite:
		e.store.SetMembership(ev.RoomID, roomstate.MembershipInvite)
		if !e.config.IsAdmin(ev.Sender) {
			logger.WithFields(fields).Warn("ignoring-invite-from-non-admin")
			return
		}
		if err := e.session.JoinRoom(ctx, ev.RoomID); err != nil {
			fields["error"] = err
			logger.WithFields(fields).Error("failed-to-join-room")
			return
		}
		e.store.SetMembership(ev.RoomID, roomstate.MembershipJoin)
		logger.WithFields(fields).Info("joined-room-on-admin-invite")
	case matrix.MembershipJoin:
		e.store.SetMembership(ev.RoomID, roomstate.MembershipJoin)
	case matrix.MembershipLeave, matrix.MembershipBan:
		e.store.SetMembership(ev.RoomID, roomstate.MembershipLeave)
		logger.WithFields(fields).Info("left-room")
	}
}

// onMessage runs commands and hands every other message to the plugins
func (e *Engine) onMessage(ctx context.Context, ev matrix.Event) {
	if ev.Sender == e.session.UserID() {
		return
	}
	if ev.MsgType() == matrix.MsgNotice {
		return
	}

	if e.registry.Router().IsCommand(ev.Body()) {
		e.handleCommand(ctx, ev)
		return
	}

	for _, reg := range e.registry.Plugins() {
		h, ok := reg.Plugin.(plugin.MessageHandler)
		if !ok {
			continue
		}
		err := reg.Call(func() error { return h.OnMessage(ctx, ev) })
		e.logPluginFailure(reg, err, "on-message", ev.ID)
	}
}

// handleCommand dispatches a command message and sends the reply as notices
func (e *Engine) handleCommand(ctx context.Context, ev matrix.Event) {
	name, _ := e.registry.Router().Split(ev.Body())

	fields := logrus.Fields{
		"room_id":  ev.RoomID,
		"sender":   ev.Sender,
		"command":  name,
		"event_id": ev.ID,
	}
	logger.WithFields(fields).Debug("command-received")

	var resp command.Response
	var err error
	if reg, ok := e.registry.ForCommand(name); ok {
		err = reg.Call(func() error {
			var callErr error
			resp, callErr = e.registry.Router().Dispatch(ctx, ev)
			return callErr
		})
		if err != nil {
			fields["plugin"] = reg.Name()
		}
	} else {
		resp, err = e.registry.Router().Dispatch(ctx, ev)
	}

	if err != nil {
		var userErr command.UserError
		if errors.As(err, &userErr) {
			logger.WithFields(fields).Debug("command-rejected")
			e.sendNotice(ctx, ev.RoomID, userErr.UserMessage())
			return
		}
		fields["error"] = err
		var panicErr *plugin.PanicError
		if errors.As(err, &panicErr) {
			fields["stack"] = string(panicErr.Stack)
			logger.WithFields(fields).Error("command-panic-recovered")
		} else {
			logger.WithFields(fields).Error("command-failed")
		}
		e.sendNotice(ctx, ev.RoomID, FatalCommandText)
		return
	}

	e.sendResponse(ctx, ev.RoomID, resp)
}

// sendResponse sends each text as its own notice, then the structured content
func (e *Engine) sendResponse(ctx context.Context, roomID string, resp command.Response) {
	if resp.Empty() {
		logger.WithField("room_id", roomID).Debug("command-produced-no-response")
		return
	}
	for _, text := range resp.Texts {
		e.sendNotice(ctx, roomID, text)
	}
	if resp.Content != nil {
		if err := e.session.SendMessage(ctx, roomID, resp.Content); err != nil {
			logger.WithFields(logrus.Fields{
				"room_id": roomID,
				"error":   err,
			}).Error("failed-to-send-command-response")
		}
	}
}

func (e *Engine) sendNotice(ctx context.Context, roomID, text string) {
	if err := e.session.SendMessage(ctx, roomID, matrix.NoticeContent(text)); err != nil {
		logger.WithFields(logrus.Fields{
			"room_id": roomID,
			"error":   err,
		}).Error("failed-to-send-notice")
	}
}

// fanOutEvent hands ev to every EventHandler, each isolated from the others
func (e *Engine) fanOutEvent(ctx context.Context, ev matrix.Event) {
	for _, reg := range e.registry.Plugins() {
		h, ok := reg.Plugin.(plugin.EventHandler)
		if !ok {
			continue
		}
		err := reg.Call(func() error { return h.OnEvent(ctx, ev) })
		e.logPluginFailure(reg, err, "on-event", ev.ID)
	}
}
