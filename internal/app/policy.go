package app

import (
	"fmt"

	"github.com/dkeye/airboard/internal/core"
	"github.com/dkeye/airboard/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

type Policy interface {
	OnBackPressure(room domain.RoomName, member core.MemberSession) BackpressureAction
}

// DropPolicy discards the event for the slow member only.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return DropFrame
}

// KickPolicy closes the slow member's connection; its disconnect then runs the usual cleanup.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(domain.RoomName, core.MemberSession) BackpressureAction {
	return KickMember
}

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "kick":
		return KickPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
