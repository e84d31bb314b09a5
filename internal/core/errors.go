package core

import "errors"

// Expected, recoverable conditions. These are signaled back to the calling
// client, never treated as crashes.
var (
	ErrAlreadyBound      = errors.New("connection already bound to another user")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrUnauthenticated   = errors.New("connection not authenticated")
	ErrAlreadyInProgress = errors.New("call already in progress")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrStaleClear        = errors.New("stale clear timestamp")
	ErrNotInRoom         = errors.New("connection is not a member of the room")
	ErrBackpressure      = errors.New("backpressure")
)
