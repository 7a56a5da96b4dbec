// Package matrix is the boundary between neb and the Matrix home server.
//
// The rest of neb only talks to the home server through the Session
// interface: fetch a sync page, send a message, send a state event and join
// a room. Client implements Session on top of mautrix; tests use fakes.
//
// # Events
//
// Events cross the boundary as plain Event values with their content decoded
// into a map. State events are the ones with a non-nil StateKey.
//
// # Errors
//
// Any non-success response from the home server surfaces as *RemoteError.
// Transport failures (DNS, connection refused, timeouts) are returned wrapped
// as they come from the HTTP client.
package matrix

import (
	"context"
	"time"
)

// Well-known event and content values
const (
	EventMember  = "m.room.member"
	EventMessage = "m.room.message"

	MsgText   = "m.text"
	MsgNotice = "m.notice"

	MembershipInvite = "invite"
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipBan    = "ban"
)

// Session is the narrow set of home server calls the engine needs
type Session interface {
	// UserID is the bot's own fully qualified user ID
	UserID() string

	// Sync fetches the next page of the event stream after since. An empty
	// since requests the initial snapshot. The server returns an empty page
	// once timeout elapses without new events.
	Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResult, error)

	// SendMessage sends an m.room.message event with the given content
	SendMessage(ctx context.Context, roomID string, content map[string]any) error

	// SendStateEvent sets room state for (eventType, stateKey)
	SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error

	// JoinRoom joins the room by ID
	JoinRoom(ctx context.Context, roomID string) error
}

// Event is a single room event
type Event struct {
	ID        string
	Type      string
	RoomID    string
	Sender    string
	StateKey  *string
	Timestamp int64
	Content   map[string]any
}

// IsState reports whether the event carries a state key
func (e Event) IsState() bool {
	return e.StateKey != nil
}

// ContentString returns a string field of the content, or "" if it is
// missing or not a string
func (e Event) ContentString(key string) string {
	if e.Content == nil {
		return ""
	}
	s, _ := e.Content[key].(string)
	return s
}

// Membership returns the membership of an m.room.member event
func (e Event) Membership() string {
	return e.ContentString("membership")
}

// MsgType returns the msgtype of an m.room.message event
func (e Event) MsgType() string {
	return e.ContentString("msgtype")
}

// Body returns the plain text body of an m.room.message event
func (e Event) Body() string {
	return e.ContentString("body")
}

// JoinedRoom is the part of a sync page for a room the bot has joined
type JoinedRoom struct {
	State    []Event
	Timeline []Event
}

// SyncResult is one page of the event stream
type SyncResult struct {
	NextBatch string
	// Invited maps room ID to the stripped invite state of that room
	Invited map[string][]Event
	Joined  map[string]JoinedRoom
	Left    []string
}
