package core

import (
	"sort"
	"sync"

	"github.com/dkeye/airboard/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	name  domain.RoomName
	mu    sync.RWMutex
	bySID map[SessionID]MemberSession
}

func NewRoomService(name domain.RoomName) RoomService {
	return &roomImpl{
		name:  name,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *roomImpl) Name() domain.RoomName { return r.name }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

// AddMember reports whether sid was not a member before.
func (r *roomImpl) AddMember(sid SessionID, ms MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.bySID[sid]
	r.bySID[sid] = ms
	if !existed {
		log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Msg("member added")
	}
	return !existed
}

// RemoveMember reports whether sid was a member.
func (r *roomImpl) RemoveMember(sid SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySID[sid]; !ok {
		return false
	}
	delete(r.bySID, sid)
	log.Info().Str("module", "core.room").Str("room", string(r.name)).Str("sid", string(sid)).Msg("member removed")
	return true
}

// Broadcast enqueues data on every member connection under the read lock,
// so the recipient set is exactly the membership at that instant.
func (r *roomImpl) Broadcast(from SessionID, data Frame, excludeSender bool) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, m := range r.bySID {
		if excludeSender && sid == from {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("room", string(r.name)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *roomImpl) Members() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionID, 0, len(r.bySID))
	for sid := range r.bySID {
		out = append(out, sid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
