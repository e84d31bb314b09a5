package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// Relay fans an event out to every connection currently in a room. Publishes
// for one room are serialized on a per-room lock, so each connection sees the
// room's events in publish order; delivery itself is TrySend into each
// connection's buffer, so one backpressured client never delays the rest.
type Relay struct {
	rooms    *RoomManager
	registry *Registry
	marks    WatermarkStore
	policy   Policy
	kick     func(domain.ConnID)

	mu        sync.Mutex
	roomLocks map[domain.RoomID]*sync.Mutex
}

var _ core.Publisher = (*Relay)(nil)

func NewRelay(rooms *RoomManager, registry *Registry, marks WatermarkStore, policy Policy) *Relay {
	return &Relay{
		rooms:     rooms,
		registry:  registry,
		marks:     marks,
		policy:    policy,
		roomLocks: make(map[domain.RoomID]*sync.Mutex),
	}
}

// SetKick installs the disconnect cascade used when the policy answers
// KickConnection. The kick must not run on the publishing goroutine.
func (rl *Relay) SetKick(kick func(domain.ConnID)) {
	rl.kick = kick
}

func (rl *Relay) roomLock(room domain.RoomID) *sync.Mutex {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.roomLocks[room]
	if !ok {
		l = &sync.Mutex{}
		rl.roomLocks[room] = l
	}
	return l
}

// Publish delivers a persisted message to every current member of its room
// and reports how many connections took it. A room with no members degrades
// to a no-op; durability already happened at the store.
//
// The watermark is consulted per destination but never suppresses a live
// message: sentAt is at or past every correctly-recorded clear, and on a
// racing clear with an equal or later timestamp the tie must favor delivery.
// Only history reads filter on the watermark.
func (rl *Relay) Publish(ctx context.Context, msg domain.Message) int {
	l := rl.roomLock(msg.Room)
	l.Lock()
	defer l.Unlock()

	frame, err := encodeEvent(struct {
		Type    string         `json:"type"`
		Message domain.Message `json:"message"`
	}{"newMessage", msg})
	if err != nil {
		return 0
	}

	sent := 0
	for _, id := range rl.rooms.MembersOf(msg.Room) {
		if user, bound := rl.registry.UserOf(id); bound {
			if at, ok, err := rl.marks.Get(ctx, user, msg.Room); err == nil && ok && at.After(msg.SentAt) {
				log.Debug().Str("module", "app.relay").Str("user", string(user)).Str("room", string(msg.Room)).Time("cleared_at", at).Time("sent_at", msg.SentAt).Msg("watermark ahead of live message, delivering anyway")
			}
		}
		if rl.deliver(msg.Room, id, frame) {
			sent++
		}
	}
	log.Debug().Str("module", "app.relay").Str("room", string(msg.Room)).Int("sent_to", sent).Msg("published")
	return sent
}

// NotifyCleared tells every connection of one specific user currently in the
// room that their watermark moved. The other party is not told; clearing is a
// private view operation.
func (rl *Relay) NotifyCleared(room domain.RoomID, user domain.UserID) {
	rl.ToUserInRoom(room, user, struct {
		Type string        `json:"type"`
		Room domain.RoomID `json:"room"`
	}{"chatCleared", room})
}

// Room sends an event to every connection currently in the room.
func (rl *Relay) Room(room domain.RoomID, v any) {
	frame, err := encodeEvent(v)
	if err != nil {
		return
	}
	l := rl.roomLock(room)
	l.Lock()
	defer l.Unlock()
	for _, id := range rl.rooms.MembersOf(room) {
		rl.deliver(room, id, frame)
	}
}

// RoomExcept sends an event to every connection in the room not owned by
// except. Used for call-incoming so a caller's second device does not ring
// itself.
func (rl *Relay) RoomExcept(room domain.RoomID, except domain.UserID, v any) {
	frame, err := encodeEvent(v)
	if err != nil {
		return
	}
	l := rl.roomLock(room)
	l.Lock()
	defer l.Unlock()
	for _, id := range rl.rooms.MembersOf(room) {
		if user, ok := rl.registry.UserOf(id); ok && user == except {
			continue
		}
		rl.deliver(room, id, frame)
	}
}

// ToUserInRoom sends an event to the user's connections that are currently in
// the room.
func (rl *Relay) ToUserInRoom(room domain.RoomID, user domain.UserID, v any) {
	frame, err := encodeEvent(v)
	if err != nil {
		return
	}
	l := rl.roomLock(room)
	l.Lock()
	defer l.Unlock()
	for _, id := range rl.registry.ConnectionsFor(user) {
		if !rl.rooms.IsMember(id, room) {
			continue
		}
		rl.deliver(room, id, frame)
	}
}

// All sends an event to every live connection. Presence edges use this.
func (rl *Relay) All(v any) {
	frame, err := encodeEvent(v)
	if err != nil {
		return
	}
	for _, conn := range rl.registry.AllConns() {
		_ = conn.TrySend(frame)
	}
}

func (rl *Relay) deliver(room domain.RoomID, id domain.ConnID, frame core.Frame) bool {
	conn, ok := rl.registry.Conn(id)
	if !ok {
		return false
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Str("module", "app.relay").Str("conn", string(id)).Str("room", string(room)).Err(err).Msg("delivery failed")
		if rl.policy != nil && rl.kick != nil && rl.policy.OnBackpressure(room, id) == KickConnection {
			rl.kick(id)
		}
		return false
	}
	return true
}

func encodeEvent(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "app.relay").Err(err).Msg("encode event")
		return nil, err
	}
	return b, nil
}
