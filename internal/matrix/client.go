package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/sirupsen/logrus"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/keepmind9/neb/internal/logger"
	"github.com/keepmind9/neb/pkg/constants"
)

// ClientConfig holds the credentials of the bot account
type ClientConfig struct {
	HomeserverURL string
	UserID        string
	AccessToken   string
}

// Client implements Session with mautrix
type Client struct {
	cli    *mautrix.Client
	logOut io.Closer
}

// NewClient creates a mautrix-backed session. No request is made until the
// first call.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.HomeserverURL == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("homeserver url, user id and access token are required")
	}

	cli, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}

	// mautrix logs through zerolog; route those lines into logrus at debug level.
	out := logger.Writer(logrus.DebugLevel)
	cli.Log = zerolog.New(out).With().Timestamp().Str("component", "mautrix").Logger().Level(zerolog.InfoLevel)

	logger.WithFields(logrus.Fields{
		"homeserver": cfg.HomeserverURL,
		"user_id":    cfg.UserID,
		"token":      maskSecret(cfg.AccessToken),
	}).Info("matrix-client-created")

	return &Client{cli: cli, logOut: out}, nil
}

// UserID returns the bot's user ID
func (c *Client) UserID() string {
	return c.cli.UserID.String()
}

// Verify checks that the access token belongs to the configured user
func (c *Client) Verify(ctx context.Context) error {
	resp, err := c.cli.Whoami(ctx)
	if err != nil {
		return convertError(err)
	}
	if resp.UserID != c.cli.UserID {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, c.cli.UserID)
	}
	return nil
}

// Sync fetches one page of the event stream
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, syncDeadline(since, timeout))
	defer cancel()

	resp, err := c.cli.FullSyncRequest(reqCtx, mautrix.ReqSync{
		Since:   since,
		Timeout: int(timeout / time.Millisecond),
	})
	if err != nil {
		return nil, convertError(err)
	}
	return convertSync(resp), nil
}

// syncDeadline bounds one sync request. It must outlive the server-side long
// poll; the initial snapshot returns every joined room and gets longer.
func syncDeadline(since string, timeout time.Duration) time.Duration {
	if since == "" {
		return max(constants.InitialSyncRequestTimeout, timeout+constants.SyncRequestGrace)
	}
	return timeout + constants.SyncRequestGrace
}

// SendMessage sends an m.room.message event
func (c *Client) SendMessage(ctx context.Context, roomID string, content map[string]any) error {
	_, err := c.cli.SendMessageEvent(ctx, id.RoomID(roomID), event.EventMessage, content)
	return convertError(err)
}

// SendStateEvent sends a state event
func (c *Client) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error {
	evtType := event.Type{Type: eventType, Class: event.StateEventType}
	_, err := c.cli.SendStateEvent(ctx, id.RoomID(roomID), evtType, stateKey, content)
	return convertError(err)
}

// JoinRoom joins a room by ID
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	_, err := c.cli.JoinRoomByID(ctx, id.RoomID(roomID))
	return convertError(err)
}

// Close releases the log bridge
func (c *Client) Close() error {
	return c.logOut.Close()
}

// convertError turns mautrix HTTP errors carrying a response into RemoteError
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) && httpErr.Response != nil {
		return &RemoteError{StatusCode: httpErr.Response.StatusCode, Body: httpErrorBody(httpErr)}
	}
	var httpErrPtr *mautrix.HTTPError
	if errors.As(err, &httpErrPtr) && httpErrPtr.Response != nil {
		return &RemoteError{StatusCode: httpErrPtr.Response.StatusCode, Body: httpErrorBody(*httpErrPtr)}
	}
	return err
}

func httpErrorBody(httpErr mautrix.HTTPError) string {
	if httpErr.ResponseBody != "" {
		return httpErr.ResponseBody
	}
	if httpErr.RespError != nil {
		return httpErr.RespError.ErrCode + ": " + httpErr.RespError.Err
	}
	return httpErr.Message
}

func convertSync(resp *mautrix.RespSync) *SyncResult {
	res := &SyncResult{
		NextBatch: resp.NextBatch,
		Invited:   make(map[string][]Event, len(resp.Rooms.Invite)),
		Joined:    make(map[string]JoinedRoom, len(resp.Rooms.Join)),
	}

	for roomID, room := range resp.Rooms.Invite {
		if room == nil {
			continue
		}
		res.Invited[roomID.String()] = convertEvents(roomID, room.State.Events)
	}
	for roomID, room := range resp.Rooms.Join {
		if room == nil {
			continue
		}
		res.Joined[roomID.String()] = JoinedRoom{
			State:    convertEvents(roomID, room.State.Events),
			Timeline: convertEvents(roomID, room.Timeline.Events),
		}
	}
	for roomID := range resp.Rooms.Leave {
		res.Left = append(res.Left, roomID.String())
	}
	return res
}

func convertEvents(roomID id.RoomID, evts []*event.Event) []Event {
	out := make([]Event, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		out = append(out, convertEvent(roomID, evt))
	}
	return out
}

// convertEvent fills the room ID from the sync section, since events inside a
// sync page usually omit it
func convertEvent(roomID id.RoomID, evt *event.Event) Event {
	ev := Event{
		ID:        evt.ID.String(),
		Type:      evt.Type.Type,
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		StateKey:  evt.StateKey,
		Timestamp: evt.Timestamp,
		Content:   contentMap(evt.Content),
	}
	if ev.RoomID == "" {
		ev.RoomID = roomID.String()
	}
	return ev
}

func contentMap(content event.Content) map[string]any {
	if content.Raw != nil {
		out := make(map[string]any, len(content.Raw))
		for k, v := range content.Raw {
			out[k] = v
		}
		return out
	}
	if len(content.VeryRaw) > 0 {
		var out map[string]any
		if err := json.Unmarshal(content.VeryRaw, &out); err == nil {
			return out
		}
	}
	return nil
}

func maskSecret(s string) string {
	if len(s) <= constants.MinTokenLengthForMasking {
		return "***"
	}
	return s[:constants.TokenMaskPrefixLength] + "***" + s[len(s)-constants.TokenMaskSuffixLength:]
}
