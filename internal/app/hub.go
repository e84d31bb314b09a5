package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// Options tune the hub's timers and backpressure behavior.
type Options struct {
	RingTimeout    time.Duration
	EndedRetention time.Duration
	Policy         Policy
}

// Hub wires the registry, membership, presence, relay, watermarks and call
// signaling together and is the only entry point the transport adapter talks
// to. Collaborators are injected; nothing here is a process-wide singleton.
type Hub struct {
	Registry *Registry
	Rooms    *RoomManager
	Presence *Presence
	Relay    *Relay
	Marks    WatermarkStore
	Calls    *CallManager
	Store    core.MessageStore
}

func NewHub(store core.MessageStore, marks WatermarkStore, opts Options) *Hub {
	if opts.RingTimeout <= 0 {
		opts.RingTimeout = 30 * time.Second
	}
	if opts.EndedRetention <= 0 {
		opts.EndedRetention = 30 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = DropPolicy{}
	}

	registry := NewRegistry()
	presence := NewPresence()
	registry.Watch(presence)
	rooms := NewRoomManager()
	relay := NewRelay(rooms, registry, marks, opts.Policy)

	h := &Hub{
		Registry: registry,
		Rooms:    rooms,
		Presence: presence,
		Relay:    relay,
		Marks:    marks,
		Store:    store,
	}
	h.Calls = NewCallManager(&callNotifier{relay: relay}, opts.RingTimeout, opts.EndedRetention)

	// A kicked slow consumer goes through the same cascade as a disconnect.
	// Run it off the publishing goroutine: the cascade may notify the same
	// room the publisher currently holds the lock for.
	relay.SetKick(func(id domain.ConnID) {
		go h.Drop(id)
	})

	presence.Subscribe("hub.broadcast", func(user domain.UserID, online bool) {
		typ := "userOnline"
		if !online {
			typ = "userOffline"
		}
		relay.All(struct {
			Type string        `json:"type"`
			User domain.UserID `json:"user"`
		}{typ, user})
	})

	return h
}

// Attach starts tracking a new anonymous connection.
func (h *Hub) Attach(id domain.ConnID, conn core.Conn, cancel context.CancelFunc) {
	h.Registry.Add(id, conn, cancel)
}

// Authenticate binds the connection to its user after token verification.
func (h *Hub) Authenticate(id domain.ConnID, user domain.UserID) error {
	return h.Registry.Bind(id, user)
}

// UserOf reports the authenticated user of a connection.
func (h *Hub) UserOf(id domain.ConnID) (domain.UserID, bool) {
	return h.Registry.UserOf(id)
}

// Drop removes a connection and cascades: room membership, presence, and any
// call session the user can no longer attend. Idempotent.
func (h *Hub) Drop(id domain.ConnID) {
	user, bound := h.Registry.UserOf(id)
	h.Rooms.LeaveAll(id)
	h.Registry.Remove(id)
	if bound {
		h.Calls.OnDisconnect(user, h.userInRoom)
	}
}

func (h *Hub) userInRoom(room domain.RoomID, user domain.UserID) bool {
	for _, id := range h.Registry.ConnectionsFor(user) {
		if h.Rooms.IsMember(id, room) {
			return true
		}
	}
	return false
}

// Join subscribes an authenticated connection to a room, leaving rooms not in
// keep in the same step.
func (h *Hub) Join(id domain.ConnID, room domain.RoomID, keep []domain.RoomID) error {
	if _, ok := h.Registry.UserOf(id); !ok {
		return core.ErrUnauthenticated
	}
	h.Rooms.Join(id, room, keep)
	return nil
}

// Leave unsubscribes the connection from a room.
func (h *Hub) Leave(id domain.ConnID, room domain.RoomID) error {
	if _, ok := h.Registry.UserOf(id); !ok {
		return core.ErrUnauthenticated
	}
	h.Rooms.Leave(id, room)
	return nil
}

// SendMessage persists the message at the store, then relays it live. The
// store's id and timestamp are canonical.
func (h *Hub) SendMessage(ctx context.Context, id domain.ConnID, room domain.RoomID, body string) (domain.Message, error) {
	user, ok := h.Registry.UserOf(id)
	if !ok {
		return domain.Message{}, core.ErrUnauthenticated
	}
	msg, err := h.Store.Append(ctx, room, user, body)
	if err != nil {
		return domain.Message{}, err
	}
	h.Relay.Publish(ctx, msg)
	return msg, nil
}

// ClearChat moves the caller's watermark for the room to now and notifies
// their own connections in that room. The other party's view is unaffected.
func (h *Hub) ClearChat(ctx context.Context, id domain.ConnID, room domain.RoomID) error {
	user, ok := h.Registry.UserOf(id)
	if !ok {
		return core.ErrUnauthenticated
	}
	if err := h.Marks.Clear(ctx, user, room, time.Now()); err != nil {
		return err
	}
	h.Relay.NotifyCleared(room, user)
	return nil
}

// History serves the room's messages with the caller's watermark applied.
func (h *Hub) History(ctx context.Context, id domain.ConnID, room domain.RoomID) ([]domain.Message, error) {
	user, ok := h.Registry.UserOf(id)
	if !ok {
		return nil, core.ErrUnauthenticated
	}
	since, _, err := h.Marks.Get(ctx, user, room)
	if err != nil {
		return nil, err
	}
	return h.Store.History(ctx, room, since)
}

// Ring initiates a call in the room on behalf of the connection's user. The
// connection must be a member; call participants are always reachable through
// their room, so disconnect cleanup can find them.
func (h *Hub) Ring(id domain.ConnID, room domain.RoomID) error {
	user, ok := h.Registry.UserOf(id)
	if !ok {
		return core.ErrUnauthenticated
	}
	if !h.Rooms.IsMember(id, room) {
		return core.ErrNotInRoom
	}
	return h.Calls.Ring(room, user)
}

func (h *Hub) Accept(id domain.ConnID, room domain.RoomID) error {
	user, ok := h.Registry.UserOf(id)
	if !ok {
		return core.ErrUnauthenticated
	}
	if !h.Rooms.IsMember(id, room) {
		return core.ErrNotInRoom
	}
	return h.Calls.Accept(room, user)
}

func (h *Hub) Reject(id domain.ConnID, room domain.RoomID) error {
	if _, ok := h.Registry.UserOf(id); !ok {
		return core.ErrUnauthenticated
	}
	return h.Calls.Reject(room)
}

func (h *Hub) End(id domain.ConnID, room domain.RoomID) error {
	if _, ok := h.Registry.UserOf(id); !ok {
		return core.ErrUnauthenticated
	}
	return h.Calls.End(room)
}

// OnlineUsers snapshots current presence for a freshly-connected client.
func (h *Hub) OnlineUsers() []domain.UserID {
	return h.Presence.Snapshot()
}

// Close cancels every connection context; the read pumps run the disconnect
// cascade as they exit.
func (h *Hub) Close() {
	log.Info().Str("module", "app.hub").Msg("closing hub")
	h.Registry.Shutdown()
}

// callNotifier adapts the relay to the call state machine's notifications.
type callNotifier struct {
	relay *Relay
}

type callEvent struct {
	Type   string        `json:"type"`
	Room   domain.RoomID `json:"room"`
	Caller domain.UserID `json:"caller,omitempty"`
	User   domain.UserID `json:"user,omitempty"`
}

func (n *callNotifier) CallIncoming(room domain.RoomID, caller domain.UserID) {
	n.relay.RoomExcept(room, caller, callEvent{Type: "call-incoming", Room: room, Caller: caller})
}

func (n *callNotifier) CallAccepted(room domain.RoomID, callee domain.UserID) {
	n.relay.Room(room, callEvent{Type: "call-accepted", Room: room, User: callee})
}

func (n *callNotifier) CallRejected(room domain.RoomID) {
	n.relay.Room(room, callEvent{Type: "call-rejected", Room: room})
}

func (n *callNotifier) CallEnded(room domain.RoomID) {
	n.relay.Room(room, callEvent{Type: "call-ended", Room: room})
}
