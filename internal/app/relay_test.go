package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/skillswap/hub/internal/app"
	"github.com/skillswap/hub/internal/domain"
)

type relayFixture struct {
	registry *app.Registry
	rooms    *app.RoomManager
	marks    *app.MemoryWatermarks
	relay    *app.Relay
}

func newRelayFixture() *relayFixture {
	registry := app.NewRegistry()
	rooms := app.NewRoomManager()
	marks := app.NewMemoryWatermarks()
	return &relayFixture{
		registry: registry,
		rooms:    rooms,
		marks:    marks,
		relay:    app.NewRelay(rooms, registry, marks, app.DropPolicy{}),
	}
}

func (f *relayFixture) member(t *testing.T, id domain.ConnID, user domain.UserID, room domain.RoomID) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	f.registry.Add(id, conn, nil)
	if err := f.registry.Bind(id, user); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	f.rooms.Join(id, room, f.rooms.RoomsOf(id))
	return conn
}

func msg(room domain.RoomID, sender domain.UserID, body string, at time.Time) domain.Message {
	return domain.Message{
		ID:     domain.MessageID(uuid.NewString()),
		Room:   room,
		Sender: sender,
		Body:   body,
		SentAt: at,
	}
}

func TestPublishOrderPerRoom(t *testing.T) {
	f := newRelayFixture()
	a := f.member(t, "a1", "alice", "ex-1")
	b := f.member(t, "b1", "bob", "ex-1")

	now := time.Now()
	for i := 0; i < 5; i++ {
		f.relay.Publish(context.Background(), msg("ex-1", "alice", fmt.Sprintf("m%d", i), now))
	}

	want := []string{"m0", "m1", "m2", "m3", "m4"}
	for name, conn := range map[string]*fakeConn{"a": a, "b": b} {
		got := conn.bodies()
		if len(got) != len(want) {
			t.Fatalf("%s received %d messages; want %d", name, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s out of order: got %v", name, got)
			}
		}
	}
}

func TestNoDeliveryAfterLeaveOrBeforeJoin(t *testing.T) {
	f := newRelayFixture()
	a := f.member(t, "a1", "alice", "ex-1")
	b := f.member(t, "b1", "bob", "ex-1")

	f.rooms.Leave("b1", "ex-1")
	f.relay.Publish(context.Background(), msg("ex-1", "alice", "while-away", time.Now()))

	// rejoining must not retroactively deliver
	f.rooms.Join("b1", "ex-1", nil)
	if got := b.bodies(); len(got) != 0 {
		t.Fatalf("bob received %v after leaving", got)
	}
	if got := a.bodies(); len(got) != 1 {
		t.Fatalf("alice received %v; want the one message", got)
	}
}

func TestPublishToEmptyRoomIsNoop(t *testing.T) {
	f := newRelayFixture()
	if sent := f.relay.Publish(context.Background(), msg("ghost", "alice", "x", time.Now())); sent != 0 {
		t.Fatalf("sent = %d; want 0", sent)
	}
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	f := newRelayFixture()
	slow := f.member(t, "s1", "slowpoke", "ex-1")
	slow.full = true
	fast := f.member(t, "f1", "speedy", "ex-1")

	sent := f.relay.Publish(context.Background(), msg("ex-1", "speedy", "hello", time.Now()))
	if sent != 1 {
		t.Fatalf("sent = %d; want 1", sent)
	}
	if got := fast.bodies(); len(got) != 1 || got[0] != "hello" {
		t.Fatalf("fast conn got %v", got)
	}
	if got := slow.count(); got != 0 {
		t.Fatalf("slow conn got %d frames; want 0", got)
	}
}

func TestOwnClearNeverSuppressesLiveMessage(t *testing.T) {
	f := newRelayFixture()
	a := f.member(t, "a1", "alice", "ex-1")
	b := f.member(t, "b1", "bob", "ex-1")

	// alice cleared with a timestamp ahead of the message (clock skew / racing
	// clear); the live event must still reach her connections.
	sentAt := time.UnixMilli(150)
	if err := f.marks.Clear(context.Background(), "alice", "ex-1", time.UnixMilli(500)); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	f.relay.Publish(context.Background(), msg("ex-1", "bob", "post-clear", sentAt))
	if got := a.bodies(); len(got) != 1 {
		t.Fatalf("alice got %v; a live message was suppressed by her own clear", got)
	}
	if got := b.bodies(); len(got) != 1 {
		t.Fatalf("bob got %v", got)
	}
}

func TestNotifyClearedTargetsOnlyClearingUser(t *testing.T) {
	f := newRelayFixture()
	a1 := f.member(t, "a1", "alice", "ex-1")
	a2 := f.member(t, "a2", "alice", "ex-1")
	b := f.member(t, "b1", "bob", "ex-1")
	// alice's connection elsewhere must not be told either
	a3 := f.member(t, "a3", "alice", "ex-2")

	f.relay.NotifyCleared("ex-1", "alice")

	if a1.countType("chatCleared") != 1 || a2.countType("chatCleared") != 1 {
		t.Fatal("alice's connections in the room missed chatCleared")
	}
	if b.countType("chatCleared") != 0 {
		t.Fatal("bob was told about alice's private clear")
	}
	if a3.countType("chatCleared") != 0 {
		t.Fatal("alice's connection outside the room was notified")
	}
}
