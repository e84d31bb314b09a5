package app

import "github.com/skillswap/hub/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickConnection
)

// Policy decides what the relay does with a destination whose send buffer is
// full. A dropped frame is reconciled by the client's history fetch on
// reconnect.
type Policy interface {
	OnBackpressure(room domain.RoomID, id domain.ConnID) BackpressureAction
}

type DropPolicy struct{}

func (DropPolicy) OnBackpressure(domain.RoomID, domain.ConnID) BackpressureAction {
	return DropFrame
}

type KickPolicy struct{}

func (KickPolicy) OnBackpressure(domain.RoomID, domain.ConnID) BackpressureAction {
	return KickConnection
}
