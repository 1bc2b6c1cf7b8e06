package app

import (
	"sort"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
)

// roomTable maps room names to rooms. It has no lock of its own:
// every access happens under Registry.mu.
type roomTable struct {
	rooms map[domain.RoomName]core.RoomService
}

func newRoomTable() roomTable {
	return roomTable{rooms: make(map[domain.RoomName]core.RoomService)}
}

func (t roomTable) get(name domain.RoomName) (core.RoomService, bool) {
	room, ok := t.rooms[name]
	return room, ok
}

func (t roomTable) getOrCreate(name domain.RoomName) core.RoomService {
	if room, ok := t.rooms[name]; ok {
		return room
	}
	room := core.NewRoomService(name)
	t.rooms[name] = room
	return room
}

// dropIfEmpty deletes the room once its member set is empty.
func (t roomTable) dropIfEmpty(room core.RoomService) bool {
	if room.MemberCount() > 0 {
		return false
	}
	delete(t.rooms, room.Name())
	return true
}

func (t roomTable) list() []domain.RoomInfo {
	out := make([]domain.RoomInfo, 0, len(t.rooms))
	for name, r := range t.rooms {
		sids := r.Members()
		members := make([]domain.ParticipantID, len(sids))
		for i, sid := range sids {
			members[i] = sid.Participant()
		}
		out = append(out, domain.RoomInfo{Name: name, MemberCount: len(sids), Members: members})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
