package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/domain"
)

// RoomManager keeps, per room, the set of subscribed connections plus the
// reverse index. Both views mutate under one lock so they cannot diverge;
// the guards below fail loudly anyway because a divergence here means
// misdelivered messages.
type RoomManager struct {
	mu      sync.RWMutex
	members map[domain.RoomID]map[domain.ConnID]struct{}
	joined  map[domain.ConnID]map[domain.RoomID]struct{}
}

func NewRoomManager() *RoomManager {
	return &RoomManager{
		members: make(map[domain.RoomID]map[domain.ConnID]struct{}),
		joined:  make(map[domain.ConnID]map[domain.RoomID]struct{}),
	}
}

// RoomInfo is a read-only occupancy view for APIs.
type RoomInfo struct {
	ID      domain.RoomID `json:"id"`
	Members int           `json:"members"`
}

// Join subscribes the connection to room and, in the same step, leaves every
// currently-joined room not listed in keep. A client that sends no keep set
// gets single-active-room semantics; the initial conversation-list load passes
// the full set. Joining a room already joined is a no-op.
func (m *RoomManager) Join(id domain.ConnID, room domain.RoomID, keep []domain.RoomID) {
	keepSet := make(map[domain.RoomID]struct{}, len(keep)+1)
	keepSet[room] = struct{}{}
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.joined[id]
	if !ok {
		cur = make(map[domain.RoomID]struct{})
		m.joined[id] = cur
	}
	var drop []domain.RoomID
	for r := range cur {
		if _, ok := keepSet[r]; !ok {
			drop = append(drop, r)
		}
	}
	for _, r := range drop {
		m.removeLocked(id, r)
	}

	if _, ok := cur[room]; ok {
		return
	}
	cur[room] = struct{}{}
	set, ok := m.members[room]
	if !ok {
		set = make(map[domain.ConnID]struct{})
		m.members[room] = set
	}
	set[id] = struct{}{}
	log.Info().Str("module", "app.rooms").Str("conn", string(id)).Str("room", string(room)).Int("left", len(drop)).Msg("joined room")
}

// Leave unsubscribes the connection from room. Leaving a room not joined is
// a no-op.
func (m *RoomManager) Leave(id domain.ConnID, room domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.joined[id]
	if !ok {
		return
	}
	if _, ok := cur[room]; !ok {
		return
	}
	m.removeLocked(id, room)
	log.Info().Str("module", "app.rooms").Str("conn", string(id)).Str("room", string(room)).Msg("left room")
}

// LeaveAll removes the connection from every room it joined and returns those
// rooms. Used by the disconnect cascade.
func (m *RoomManager) LeaveAll(id domain.ConnID) []domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.joined[id]
	if !ok {
		return nil
	}
	rooms := make([]domain.RoomID, 0, len(cur))
	for r := range cur {
		rooms = append(rooms, r)
	}
	for _, r := range rooms {
		m.removeLocked(id, r)
	}
	delete(m.joined, id)
	return rooms
}

// removeLocked drops conn from room in both views. The forward and reverse
// indexes mutate under one lock, so a mismatch is a programming error: log it
// and abort rather than guess which side is right.
func (m *RoomManager) removeLocked(id domain.ConnID, room domain.RoomID) {
	set, ok := m.members[room]
	if !ok {
		log.Error().Str("module", "app.rooms").Str("conn", string(id)).Str("room", string(room)).Msg("membership index divergence: reverse index names an unknown room")
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m.members, room)
	}
	if cur, ok := m.joined[id]; ok {
		delete(cur, room)
	}
}

// MembersOf snapshots the connections currently in room. The snapshot is not
// a live view; membership can change concurrently.
func (m *RoomManager) MembersOf(room domain.RoomID) []domain.ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.members[room]
	out := make([]domain.ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomsOf snapshots the rooms the connection has joined.
func (m *RoomManager) RoomsOf(id domain.ConnID) []domain.RoomID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur := m.joined[id]
	out := make([]domain.RoomID, 0, len(cur))
	for r := range cur {
		out = append(out, r)
	}
	return out
}

// IsMember reports whether the connection is currently in room.
func (m *RoomManager) IsMember(id domain.ConnID, room domain.RoomID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur, ok := m.joined[id]
	if !ok {
		return false
	}
	_, ok = cur[room]
	return ok
}

// List reports occupancy for every non-empty room.
func (m *RoomManager) List() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomInfo, 0, len(m.members))
	for room, set := range m.members {
		out = append(out, RoomInfo{ID: room, Members: len(set)})
	}
	return out
}
