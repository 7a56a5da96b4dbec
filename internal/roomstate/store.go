// Package roomstate caches the latest content of selected room state events.
//
// A Store only tracks event types in its watch-set; every other state type is
// invisible to it. Content is replaced wholesale per room by InitFromSync and
// kept current by Update. The bot's own membership in each room is tracked
// alongside.
package roomstate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/keepmind9/neb/internal/matrix"
)

// ErrNotFound is matched by every NotFoundError
var ErrNotFound = errors.New("room state not found")

// NotFoundError names the missing entry
type NotFoundError struct {
	RoomID   string
	Type     string
	StateKey string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s state with key %q in %s", e.Type, e.StateKey, e.RoomID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Membership of the bot in a room
type Membership string

const (
	MembershipNone   Membership = ""
	MembershipInvite Membership = matrix.MembershipInvite
	MembershipJoin   Membership = matrix.MembershipJoin
	MembershipLeave  Membership = matrix.MembershipLeave
)

// Key identifies one piece of room state
type Key struct {
	Type     string
	StateKey string
}

type room struct {
	membership Membership
	state      map[Key]map[string]any
}

// Store is safe for concurrent use
type Store struct {
	mu    sync.RWMutex
	types map[string]struct{}
	rooms map[string]*room
}

// New creates a store watching the given state event types
func New(types ...string) *Store {
	s := &Store{
		types: make(map[string]struct{}),
		rooms: make(map[string]*room),
	}
	s.Watch(types...)
	return s
}

// Watch adds types to the watch-set. State of those types seen earlier is
// not recovered; call it before the first sync.
func (s *Store) Watch(types ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range types {
		s.types[t] = struct{}{}
	}
}

// Update stores the content of a watched state event. Anything else,
// including malformed events, is ignored.
func (s *Store) Update(ev matrix.Event) {
	if ev.RoomID == "" || ev.StateKey == nil || ev.Content == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.types[ev.Type]; !ok {
		return
	}
	r := s.roomLocked(ev.RoomID)
	r.state[Key{Type: ev.Type, StateKey: *ev.StateKey}] = copyContent(ev.Content)
}

// InitFromSync replaces the watched state of every joined room in res with
// the state list of that room. Rooms absent from res are left alone.
func (s *Store) InitFromSync(res *matrix.SyncResult) {
	if res == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID, joined := range res.Joined {
		state := make(map[Key]map[string]any)
		for _, ev := range joined.State {
			if ev.StateKey == nil || ev.Content == nil {
				continue
			}
			if _, ok := s.types[ev.Type]; !ok {
				continue
			}
			state[Key{Type: ev.Type, StateKey: *ev.StateKey}] = copyContent(ev.Content)
		}
		r := s.roomLocked(roomID)
		r.state = state
		r.membership = MembershipJoin
	}
}

// Get returns a copy of the content stored for (eventType, stateKey)
func (s *Store) Get(roomID, eventType, stateKey string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.rooms[roomID]; ok {
		if content, ok := r.state[Key{Type: eventType, StateKey: stateKey}]; ok {
			return copyContent(content), nil
		}
	}
	return nil, &NotFoundError{RoomID: roomID, Type: eventType, StateKey: stateKey}
}

// RoomIDs returns every room the store knows about
func (s *Store) RoomIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	return ids
}

// RoomIDsWithMembership returns the rooms where the bot has membership m
func (s *Store) RoomIDsWithMembership(m Membership) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, r := range s.rooms {
		if r.membership == m {
			ids = append(ids, id)
		}
	}
	return ids
}

// SetMembership records the bot's membership in a room
func (s *Store) SetMembership(roomID string, m Membership) {
	if roomID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomLocked(roomID).membership = m
}

// Membership returns the bot's membership in a room
func (s *Store) Membership(roomID string) Membership {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rooms[roomID]; ok {
		return r.membership
	}
	return MembershipNone
}

// Snapshot returns a deep copy of all stored state, keyed by room ID
func (s *Store) Snapshot() map[string]map[Key]map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[Key]map[string]any, len(s.rooms))
	for id, r := range s.rooms {
		state := make(map[Key]map[string]any, len(r.state))
		for k, v := range r.state {
			state[k] = copyContent(v)
		}
		out[id] = state
	}
	return out
}

func (s *Store) roomLocked(roomID string) *room {
	r, ok := s.rooms[roomID]
	if !ok {
		r = &room{state: make(map[Key]map[string]any)}
		s.rooms[roomID] = r
	}
	return r
}

// copyContent copies the top level only; nested values are shared
func copyContent(content map[string]any) map[string]any {
	out := make(map[string]any, len(content))
	for k, v := range content {
		out[k] = v
	}
	return out
}
