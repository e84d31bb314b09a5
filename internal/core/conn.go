package core

import (
	"context"

	"github.com/skillswap/hub/internal/domain"
)

// Frame is a single encoded hub-to-client event.
type Frame []byte

// Conn abstracts one live channel endpoint for the hub.
// Owned by the adapter; the adapter must Close() it.
type Conn interface {
	TrySend(Frame) error
	Close()
}

// Publisher is the narrow capability handed to business logic that needs to
// emit live events (e.g. the code persisting messages). It keeps the hub out
// of unrelated request handlers.
type Publisher interface {
	Publish(ctx context.Context, msg domain.Message) int
	NotifyCleared(room domain.RoomID, user domain.UserID)
}
