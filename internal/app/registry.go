package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotMember      = errors.New("not a member of room")
)

// MembershipHook runs under the registry write lock right after a membership
// change, so whatever it enqueues is ordered with the change itself.
// It must not block and must not call back into the Registry.
type MembershipHook func(room core.RoomService, count int)

type roomSet map[domain.RoomName]struct{}

func (s roomSet) sorted() []domain.RoomName {
	out := make([]domain.RoomName, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type sessionEntry struct {
	Session core.MemberSession
	Cancel  context.CancelFunc

	rooms     roomSet
	streaming roomSet
	camera    atomic.Bool
	joined    bool
}

// Registry is the room registry and the session directory behind one lock.
// Rooms exist only while they have members.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[core.SessionID]*sessionEntry
	rooms        roomTable
	onMembership MembershipHook
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		rooms:    newRoomTable(),
	}
}

// OnMembership sets the hook fired on join, leave and disconnect.
func (r *Registry) OnMembership(fn MembershipHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onMembership = fn
}

func (r *Registry) Connect(sid core.SessionID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{
		Session:   sess,
		Cancel:    cancel,
		rooms:     make(roomSet),
		streaming: make(roomSet),
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session connected")
}

func (r *Registry) GetSession(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Join adds sid to room, creating the room on first join. Joining twice is
// harmless. The camera flag is switched on the first time sid joins any room.
func (r *Registry) Join(sid core.SessionID, name domain.RoomName) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return 0, ErrUnknownSession
	}
	room := r.rooms.getOrCreate(name)
	room.AddMember(sid, e.Session)
	e.rooms[name] = struct{}{}
	if !e.joined {
		e.joined = true
		e.camera.Store(true)
	}
	count := room.MemberCount()
	r.announceLocked(room, count)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(name)).Int("count", count).Msg("joined room")
	return count, nil
}

// Leave removes sid from room. It returns the remaining member count, which
// is zero when the room was deleted.
func (r *Registry) Leave(sid core.SessionID, name domain.RoomName) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return 0, ErrUnknownSession
	}
	room, ok := r.rooms.get(name)
	if !ok {
		return 0, ErrNotMember
	}
	if _, member := e.rooms[name]; !member {
		return room.MemberCount(), ErrNotMember
	}
	return r.leaveLocked(sid, e, room), nil
}

func (r *Registry) leaveLocked(sid core.SessionID, e *sessionEntry, room core.RoomService) int {
	name := room.Name()
	room.RemoveMember(sid)
	delete(e.rooms, name)
	delete(e.streaming, name)
	count := room.MemberCount()
	if r.rooms.dropIfEmpty(room) {
		log.Info().Str("module", "app.registry").Str("room", string(name)).Msg("room deleted")
	} else {
		r.announceLocked(room, count)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(name)).Int("count", count).Msg("left room")
	return count
}

// Disconnect leaves every room of sid and drops its directory entry.
// ok is false when sid was already gone, which makes repeated calls no-ops.
func (r *Registry) Disconnect(sid core.SessionID) (left []domain.RoomName, cancel context.CancelFunc, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, nil, false
	}
	left = e.rooms.sorted()
	for _, name := range left {
		if room, exists := r.rooms.get(name); exists {
			r.leaveLocked(sid, e, room)
		}
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("rooms", len(left)).Msg("session disconnected")
	return left, e.Cancel, true
}

func (r *Registry) announceLocked(room core.RoomService, count int) {
	if r.onMembership != nil {
		r.onMembership(room, count)
	}
}

// ToggleCamera flips the camera flag and returns the new value.
func (r *Registry) ToggleCamera(sid core.SessionID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false, ErrUnknownSession
	}
	for {
		old := e.camera.Load()
		if e.camera.CompareAndSwap(old, !old) {
			log.Info().Str("module", "app.registry").Str("sid", string(sid)).Bool("camera", !old).Msg("camera toggled")
			return !old, nil
		}
	}
}

// CameraEnabled is polled by the ingest loop once per iteration.
func (r *Registry) CameraEnabled(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	return e.camera.Load()
}

func (r *Registry) IsMember(sid core.SessionID, name domain.RoomName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	_, member := e.rooms[name]
	return member
}

func (r *Registry) RoomsOf(sid core.SessionID) []domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	return e.rooms.sorted()
}

// MarkStreaming records that sid streams its capture into room.
func (r *Registry) MarkStreaming(sid core.SessionID, name domain.RoomName) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return ErrUnknownSession
	}
	if _, member := e.rooms[name]; !member {
		return ErrNotMember
	}
	e.streaming[name] = struct{}{}
	return nil
}

// UnmarkStreaming returns how many streaming rooms remain for sid.
func (r *Registry) UnmarkStreaming(sid core.SessionID, name domain.RoomName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return 0
	}
	delete(e.streaming, name)
	return len(e.streaming)
}

func (r *Registry) ClearStreaming(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		clear(e.streaming)
	}
}

func (r *Registry) StreamingRooms(sid core.SessionID) []domain.RoomName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	return e.streaming.sorted()
}

func (r *Registry) IsStreaming(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return ok && len(e.streaming) > 0
}

func (r *Registry) IsStreamingIn(sid core.SessionID, name domain.RoomName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	_, streaming := e.streaming[name]
	return streaming
}

func (r *Registry) Room(name domain.RoomName) (core.RoomService, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms.get(name)
}

// Fanout delivers data to the members of room while membership is frozen by
// the registry read lock. ok is false when the room does not exist.
func (r *Registry) Fanout(name domain.RoomName, from core.SessionID, data core.Frame, excludeSender bool) (res core.PublishResult, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms.get(name)
	if !ok {
		return res, false
	}
	return room.Broadcast(from, data, excludeSender), true
}

func (r *Registry) HasRoom(name domain.RoomName) bool {
	_, ok := r.Room(name)
	return ok
}

func (r *Registry) Rooms() []domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms.list()
}

func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
