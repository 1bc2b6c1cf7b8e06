package domain

import (
	"errors"
	"strings"
)

const MaxRoomNameLen = 64

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameTooLong = errors.New("room name too long")
)

type RoomName string

// ParseRoomName trims and checks a client supplied room identifier.
func ParseRoomName(raw string) (RoomName, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen {
		return "", ErrRoomNameTooLong
	}
	return RoomName(name), nil
}

type RoomInfo struct {
	Name        RoomName        `json:"name"`
	MemberCount int             `json:"count"`
	Members     []ParticipantID `json:"members"`
}
