package core

import "github.com/dkeye/airboard/internal/domain"

// PublishResult reports delivery stats/backpressure to the router.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// RoomService is the core-facing API of a room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Name() domain.RoomName
	MemberCount() int
	Members() []SessionID

	AddMember(sid SessionID, ms MemberSession) bool
	RemoveMember(sid SessionID) bool
	Broadcast(from SessionID, data Frame, excludeSender bool) PublishResult
}
