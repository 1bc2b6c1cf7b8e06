// Package domain contains entity without logic, just meta-data
package domain

import (
	"github.com/google/uuid"
)

type ParticipantID string

// Participant is one connected client. The ID is minted per connection and
// is never reused while the connection is live.
type Participant struct {
	ID ParticipantID `json:"id"`
	// ClientToken is the browser cookie token; several tabs may share it.
	ClientToken string `json:"-"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(clientToken string) *Participant {
	return &Participant{
		ID:          ParticipantID(uuid.NewString()),
		ClientToken: clientToken,
	}
}
