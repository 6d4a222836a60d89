package app

import (
	"chatrooms/internal/core"
	"chatrooms/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickMember
)

// Policy decides what happens to a member whose outbound buffer is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, cid core.ConnID) BackpressureAction
}

// SimplePolicy disconnects any member that cannot keep up with its room.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room domain.RoomID, cid core.ConnID) BackpressureAction {
	return KickMember
}
