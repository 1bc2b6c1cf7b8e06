package core

import "github.com/dkeye/airboard/internal/domain"

type SessionID string

func (s SessionID) Participant() domain.ParticipantID { return domain.ParticipantID(s) }

// MemberSession binds domain.Participant and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
}
