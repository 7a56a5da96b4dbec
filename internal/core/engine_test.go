package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/util/ptr"

	"github.com/keepmind9/neb/internal/command"
	"github.com/keepmind9/neb/internal/matrix"
	"github.com/keepmind9/neb/internal/roomstate"
)

const botID = "@neb:example.org"

// SyncCall records one Sync request
type SyncCall struct {
	Since   string
	Timeout time.Duration
}

// SentMessage records one SendMessage call
type SentMessage struct {
	RoomID  string
	Content map[string]any
}

type syncReply struct {
	res *matrix.SyncResult
	err error
}

// MockSession replays scripted sync pages, then blocks until cancelled
type MockSession struct {
	mu        sync.Mutex
	replies   []syncReply
	syncCalls []SyncCall
	sent      []SentMessage
	joins     []string
	joinErr   error

	drained     chan struct{}
	drainedOnce sync.Once
}

func newMockSession(replies ...syncReply) *MockSession {
	return &MockSession{replies: replies, drained: make(chan struct{})}
}

func page(next string) *matrix.SyncResult {
	return &matrix.SyncResult{
		NextBatch: next,
		Invited:   map[string][]matrix.Event{},
		Joined:    map[string]matrix.JoinedRoom{},
	}
}

func reply(res *matrix.SyncResult) syncReply { return syncReply{res: res} }
func failure(err error) syncReply            { return syncReply{err: err} }

func (m *MockSession) UserID() string { return botID }

func (m *MockSession) Sync(ctx context.Context, since string, timeout time.Duration) (*matrix.SyncResult, error) {
	m.mu.Lock()
	m.syncCalls = append(m.syncCalls, SyncCall{Since: since, Timeout: timeout})
	if len(m.replies) == 0 {
		m.mu.Unlock()
		m.drainedOnce.Do(func() { close(m.drained) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	m.mu.Unlock()
	return r.res, r.err
}

func (m *MockSession) SendMessage(ctx context.Context, roomID string, content map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{RoomID: roomID, Content: content})
	return nil
}

func (m *MockSession) SendStateEvent(ctx context.Context, roomID, eventType, stateKey string, content any) error {
	return nil
}

func (m *MockSession) JoinRoom(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins = append(m.joins, roomID)
	return m.joinErr
}

func (m *MockSession) SyncCalls() []SyncCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SyncCall(nil), m.syncCalls...)
}

func (m *MockSession) Joins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.joins...)
}

// Bodies returns the body of every sent message
func (m *MockSession) Bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	bodies := make([]string, 0, len(m.sent))
	for _, s := range m.sent {
		body, _ := s.Content["body"].(string)
		bodies = append(bodies, body)
	}
	return bodies
}

func (m *MockSession) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

func testConfig() *Config {
	disabled := false
	return &Config{
		HomeserverURL: "https://matrix.example.org",
		UserID:        botID,
		AccessToken:   "token",
		Admins:        []string{"@admin:example.org"},
		CommandPrefix: "!",
		Sync:          SyncConfig{Timeout: "30s", RetryDelay: "1ms"},
		Webhook:       WebhookConfig{Enabled: &disabled},
	}
}

// runUntilDrained runs the engine until the session has no more pages
func runUntilDrained(t *testing.T, e *Engine, s *MockSession) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case <-s.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("sync script was not consumed")
	}
	cancel()
	require.NoError(t, <-done)
}

func textEvent(id, roomID, sender, body string) matrix.Event {
	return matrix.Event{
		ID:      id,
		Type:    matrix.EventMessage,
		RoomID:  roomID,
		Sender:  sender,
		Content: matrix.TextContent(body),
	}
}

func memberEvent(roomID, sender, target, membership string) matrix.Event {
	return matrix.Event{
		ID:       "$member-" + roomID,
		Type:     matrix.EventMember,
		RoomID:   roomID,
		Sender:   sender,
		StateKey: ptr.Ptr(target),
		Content:  map[string]any{"membership": membership},
	}
}

// recorder is a plugin exposing an echo command and recording callbacks
type recorder struct {
	name string

	mu       sync.Mutex
	messages []string
	events   []string
	syncs    int
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Commands() []*command.Table {
	return []*command.Table{
		command.NewTable(r.name, "Echo things").MustBind(
			command.Binding{
				Path:     []string{"say"},
				Variadic: true,
				Help:     "Repeat the words",
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					return command.Text(strings.Join(inv.Strings(), " ")), nil
				},
			},
			command.Binding{
				Path:   []string{"pair"},
				Params: []command.Param{{Name: "a"}, {Name: "b"}},
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					return command.Text(inv.Arg(0).String(), inv.Arg(1).String()), nil
				},
			},
			command.Binding{
				Path: []string{"fail"},
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					return command.Response{}, errors.New("backend down")
				},
			},
			command.Binding{
				Path: []string{"boom"},
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					panic("handler exploded")
				},
			},
			command.Binding{
				Path: []string{"quiet"},
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					return command.Response{}, nil
				},
			},
			command.Binding{
				Path: []string{"html"},
				Handler: func(ctx context.Context, inv *command.Invocation) (command.Response, error) {
					return command.Content(matrix.HTMLContent(matrix.MsgNotice, "<b>hi</b>", "hi")), nil
				},
			},
		),
	}
}

func (r *recorder) OnMessage(ctx context.Context, ev matrix.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ev.Body())
	return nil
}

func (r *recorder) OnEvent(ctx context.Context, ev matrix.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.Type)
	return nil
}

func (r *recorder) OnSync(ctx context.Context, res *matrix.SyncResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs++
	return nil
}

func (r *recorder) WatchedStateTypes() []string {
	return []string{"org.example.tracking"}
}

func (r *recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

// panicker fails every callback
type panicker struct{}

func (panicker) Name() string { return "panicker" }

func (panicker) OnMessage(ctx context.Context, ev matrix.Event) error {
	panic("message handler exploded")
}

func (panicker) OnEvent(ctx context.Context, ev matrix.Event) error {
	return fmt.Errorf("cannot handle %s", ev.Type)
}

func newTestEngine(t *testing.T, s *MockSession) (*Engine, *recorder) {
	t.Helper()
	e := NewEngine(testConfig(), s)
	rec := &recorder{name: "echo"}
	require.NoError(t, e.RegisterPlugin(rec))
	return e, rec
}

func TestEngine_CursorAdvancesAndBootstrapSkipsTimeline(t *testing.T) {
	first := page("s1")
	first.Joined["!a:example.org"] = matrix.JoinedRoom{
		Timeline: []matrix.Event{textEvent("$old", "!a:example.org", "@u:example.org", "!echo say old")},
	}
	second := page("s2")
	second.Joined["!a:example.org"] = matrix.JoinedRoom{
		Timeline: []matrix.Event{textEvent("$new", "!a:example.org", "@u:example.org", "!echo say new")},
	}
	s := newMockSession(reply(first), reply(second))
	e, rec := newTestEngine(t, s)

	runUntilDrained(t, e, s)

	calls := s.SyncCalls()
	require.Len(t, calls, 3)
	assert.Equal(t, SyncCall{Since: "", Timeout: 0}, calls[0])
	assert.Equal(t, SyncCall{Since: "s1", Timeout: 30 * time.Second}, calls[1])
	assert.Equal(t, SyncCall{Since: "s2", Timeout: 30 * time.Second}, calls[2])
	assert.Equal(t, "s2", e.Cursor())

	assert.Equal(t, []string{"new"}, s.Bodies())
	assert.Equal(t, 1, rec.syncs)
}

func TestEngine_SyncFailureIsRetriedWithSameCursor(t *testing.T) {
	s := newMockSession(
		reply(page("s1")),
		failure(&matrix.RemoteError{StatusCode: 502}),
		failure(errors.New("connection refused")),
		reply(page("s2")),
	)
	e, _ := newTestEngine(t, s)

	runUntilDrained(t, e, s)

	var since []string
	for _, c := range s.SyncCalls() {
		since = append(since, c.Since)
	}
	assert.Equal(t, []string{"", "s1", "s1", "s1", "s2"}, since)
	assert.Equal(t, "s2", e.Cursor())
}

func TestEngine_EmptyNextBatchKeepsCursor(t *testing.T) {
	s := newMockSession(reply(page("s1")), reply(page("")), reply(page("s3")))
	e, _ := newTestEngine(t, s)

	runUntilDrained(t, e, s)

	var since []string
	for _, c := range s.SyncCalls() {
		since = append(since, c.Since)
	}
	assert.Equal(t, []string{"", "s1", "s1", "s3"}, since)
	assert.Equal(t, "s3", e.Cursor())
}

func TestEngine_InviteAccessControl(t *testing.T) {
	boot := page("s1")
	boot.Invited["!admin-room:example.org"] = []matrix.Event{
		memberEvent("!admin-room:example.org", "@admin:example.org", botID, matrix.MembershipInvite),
	}
	boot.Invited["!stranger-room:example.org"] = []matrix.Event{
		memberEvent("!stranger-room:example.org", "@mallory:example.org", botID, matrix.MembershipInvite),
	}
	s := newMockSession(reply(boot))
	e, _ := newTestEngine(t, s)

	runUntilDrained(t, e, s)

	assert.Equal(t, []string{"!admin-room:example.org"}, s.Joins())
	assert.Equal(t, roomstate.MembershipJoin, e.Store().Membership("!admin-room:example.org"))
	assert.Equal(t, roomstate.MembershipInvite, e.Store().Membership("!stranger-room:example.org"))
}

func TestEngine_InviteForSomeoneElseIsNotJoined(t *testing.T) {
	s := newMockSession()
	e, _ := newTestEngine(t, s)

	e.processEvent(context.Background(), memberEvent("!r:example.org", "@admin:example.org", "@friend:example.org", matrix.MembershipInvite))

	assert.Empty(t, s.Joins())
}

func TestEngine_PluginFailureDoesNotStopOthers(t *testing.T) {
	steady := page("s2")
	steady.Joined["!a:example.org"] = matrix.JoinedRoom{
		Timeline: []matrix.Event{
			textEvent("$1", "!a:example.org", "@u:example.org", "hello"),
			{ID: "$2", Type: "m.reaction", RoomID: "!a:example.org", Sender: "@u:example.org", Content: map[string]any{}},
			textEvent("$3", "!a:example.org", "@u:example.org", "world"),
		},
	}
	s := newMockSession(reply(page("s1")), reply(steady))
	e := NewEngine(testConfig(), s)
	require.NoError(t, e.RegisterPlugin(panicker{}))
	rec := &recorder{name: "echo"}
	require.NoError(t, e.RegisterPlugin(rec))

	runUntilDrained(t, e, s)

	assert.Equal(t, []string{"hello", "world"}, rec.Messages())
	assert.Equal(t, []string{"m.reaction"}, rec.events)
	assert.Len(t, s.SyncCalls(), 3, "the loop keeps fetching")
}

func TestEngine_StateEventsUpdateStore(t *testing.T) {
	steady := page("s2")
	steady.Joined["!a:example.org"] = matrix.JoinedRoom{
		State: []matrix.Event{{
			ID:       "$state",
			Type:     "org.example.tracking",
			RoomID:   "!a:example.org",
			StateKey: ptr.Ptr(""),
			Content:  map[string]any{"enabled": false},
		}},
	}
	steady.Left = []string{"!gone:example.org"}
	s := newMockSession(reply(page("s1")), reply(steady))
	e, _ := newTestEngine(t, s)

	runUntilDrained(t, e, s)

	content, err := e.Store().Get("!a:example.org", "org.example.tracking", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"enabled": false}, content)
	assert.Equal(t, roomstate.MembershipLeave, e.Store().Membership("!gone:example.org"))
}

func TestEngine_StopCancelsRun(t *testing.T) {
	s := newMockSession(reply(page("s1")))
	e, _ := newTestEngine(t, s)

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	<-s.drained

	require.NoError(t, e.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestEngine_StopBeforeRun(t *testing.T) {
	s := newMockSession(reply(page("s1")))
	e, _ := newTestEngine(t, s)

	require.NoError(t, e.Stop())

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept going after an earlier Stop")
	}
	assert.Empty(t, s.SyncCalls())
}

func TestEngine_PluginEnv(t *testing.T) {
	cfg := testConfig()
	cfg.DataDir = t.TempDir()
	cfg.Plugins = map[string]PluginConfig{
		"prometheus": {Enabled: true, Options: map[string]any{"secret_token": "abc"}},
	}
	e := NewEngine(cfg, newMockSession())

	env := e.PluginEnv("prometheus")
	assert.Equal(t, "prometheus", env.Name)
	assert.Equal(t, "abc", env.OptionString("secret_token", ""))
	assert.Same(t, e.Store(), env.Store)
	assert.True(t, env.IsAdmin("@admin:example.org"))
}
