package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillswap/hub/internal/domain"
)

// MessageStore is the durable persistence collaborator. The hub appends a
// message here before relaying it, so the store's id and timestamp are the
// canonical ones on the wire. History is served with the reader's cleared-at
// watermark applied.
type MessageStore interface {
	Append(ctx context.Context, room domain.RoomID, sender domain.UserID, body string) (domain.Message, error)
	History(ctx context.Context, room domain.RoomID, since time.Time) ([]domain.Message, error)
}

// memoryMessageStore keeps messages per room in append order. Real
// deployments swap in the external store; this one backs tests and
// single-process runs.
type memoryMessageStore struct {
	mu     sync.RWMutex
	byRoom map[domain.RoomID][]domain.Message
}

func NewMemoryMessageStore() MessageStore {
	return &memoryMessageStore{byRoom: make(map[domain.RoomID][]domain.Message)}
}

func (s *memoryMessageStore) Append(_ context.Context, room domain.RoomID, sender domain.UserID, body string) (domain.Message, error) {
	msg := domain.Message{
		ID:     domain.MessageID(uuid.NewString()),
		Room:   room,
		Sender: sender,
		Body:   body,
		SentAt: time.Now(),
	}
	s.mu.Lock()
	s.byRoom[room] = append(s.byRoom[room], msg)
	s.mu.Unlock()
	return msg, nil
}

func (s *memoryMessageStore) History(_ context.Context, room domain.RoomID, since time.Time) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.byRoom[room]
	out := make([]domain.Message, 0, len(all))
	for _, m := range all {
		if m.SentAt.After(since) {
			out = append(out, m)
		}
	}
	return out, nil
}
