package app

import (
	"context"
	"sync"
	"time"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// WatermarkStore holds the per-(user, room) cleared-at timestamp. No
// watermark is equivalent to cleared-at = -infinity. The external message
// store consults Get when serving history.
type WatermarkStore interface {
	// Clear sets or overwrites the watermark. A clear older than the
	// existing watermark is rejected with ErrStaleClear so a delayed
	// duplicate cannot un-hide history a later clear already hid.
	Clear(ctx context.Context, user domain.UserID, room domain.RoomID, at time.Time) error
	Get(ctx context.Context, user domain.UserID, room domain.RoomID) (time.Time, bool, error)
}

type markKey struct {
	user domain.UserID
	room domain.RoomID
}

type MemoryWatermarks struct {
	mu    sync.RWMutex
	marks map[markKey]time.Time
}

var _ WatermarkStore = (*MemoryWatermarks)(nil)

func NewMemoryWatermarks() *MemoryWatermarks {
	return &MemoryWatermarks{marks: make(map[markKey]time.Time)}
}

func (s *MemoryWatermarks) Clear(_ context.Context, user domain.UserID, room domain.RoomID, at time.Time) error {
	k := markKey{user: user, room: room}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.marks[k]; ok && at.Before(cur) {
		return core.ErrStaleClear
	}
	s.marks[k] = at
	return nil
}

func (s *MemoryWatermarks) Get(_ context.Context, user domain.UserID, room domain.RoomID) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.marks[markKey{user: user, room: room}]
	return at, ok, nil
}
