package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/skillswap/hub/internal/app"
	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// presenceEvents extracts (type, user) pairs for presence frames.
func presenceEvents(c *fakeConn, typ string, user domain.UserID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.frames {
		var env struct {
			Type string        `json:"type"`
			User domain.UserID `json:"user"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			continue
		}
		if env.Type == typ && env.User == user {
			n++
		}
	}
	return n
}

func TestUnauthenticatedOperationsRejected(t *testing.T) {
	h := newTestHub()
	conn := &fakeConn{}
	h.Attach("anon", conn, nil)

	if err := h.Join("anon", "ex-1", nil); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("Join = %v; want ErrUnauthenticated", err)
	}
	if err := h.Ring("anon", "ex-1"); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("Ring = %v; want ErrUnauthenticated", err)
	}
	if _, err := h.SendMessage(context.Background(), "anon", "ex-1", "hi"); !errors.Is(err, core.ErrUnauthenticated) {
		t.Fatalf("SendMessage = %v; want ErrUnauthenticated", err)
	}
	// no state must have leaked from the rejected operations
	if len(h.Rooms.MembersOf("ex-1")) != 0 {
		t.Fatal("rejected join mutated membership")
	}
}

func TestCallRejectScenario(t *testing.T) {
	h := newTestHub()
	a1 := connect(t, h, "a1", "alice")
	b1 := connect(t, h, "b1", "bob")
	b2 := connect(t, h, "b2", "bob")
	for _, id := range []domain.ConnID{"a1", "b1", "b2"} {
		if err := h.Join(id, "ex-42", nil); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}

	if err := h.Ring("a1", "ex-42"); err != nil {
		t.Fatalf("Ring: %v", err)
	}
	if b1.countType("call-incoming") != 1 || b2.countType("call-incoming") != 1 {
		t.Fatal("bob's connections did not all receive call-incoming")
	}
	if a1.countType("call-incoming") != 0 {
		t.Fatal("caller's own connection rang itself")
	}

	if err := h.Reject("b1", "ex-42"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	for name, c := range map[string]*fakeConn{"a1": a1, "b1": b1, "b2": b2} {
		if c.countType("call-rejected") != 1 {
			t.Fatalf("%s missed call-rejected", name)
		}
	}

	if err := h.Accept("b1", "ex-42"); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("Accept after reject = %v; want ErrInvalidTransition", err)
	}
}

func TestActiveCallEndsOnDisconnect(t *testing.T) {
	h := newTestHub()
	connect(t, h, "a1", "alice")
	b1 := connect(t, h, "b1", "bob")
	for _, id := range []domain.ConnID{"a1", "b1"} {
		if err := h.Join(id, "ex-42", nil); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}

	if err := h.Ring("a1", "ex-42"); err != nil {
		t.Fatalf("Ring: %v", err)
	}
	if err := h.Accept("b1", "ex-42"); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	h.Drop("a1")

	if b1.countType("call-ended") != 1 {
		t.Fatal("remaining participant not told the call ended")
	}
	// a fresh ring must be possible immediately
	if err := h.Ring("b1", "ex-42"); err != nil {
		t.Fatalf("Ring after disconnect-ended call = %v; want nil", err)
	}
}

func TestRingRequiresRoomMembership(t *testing.T) {
	h := newTestHub()
	connect(t, h, "a1", "alice")
	connect(t, h, "b1", "bob")
	if err := h.Join("b1", "ex-42", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}

	// authenticated but never joined the room
	if err := h.Ring("a1", "ex-42"); !errors.Is(err, core.ErrNotInRoom) {
		t.Fatalf("Ring from non-member = %v; want ErrNotInRoom", err)
	}
	if _, ok := h.Calls.State("ex-42"); ok {
		t.Fatal("rejected ring created a session")
	}

	if err := h.Join("a1", "ex-42", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := h.Ring("a1", "ex-42"); err != nil {
		t.Fatalf("Ring after joining = %v; want nil", err)
	}
	// accepting from outside the room is rejected the same way
	if err := h.Leave("b1", "ex-42"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := h.Accept("b1", "ex-42"); !errors.Is(err, core.ErrNotInRoom) {
		t.Fatalf("Accept from non-member = %v; want ErrNotInRoom", err)
	}
}

func TestRingingEndsWhenCallerDisconnectsAfterLeaving(t *testing.T) {
	// a long ring timeout keeps the expiry timer out of this scenario
	h := app.NewHub(core.NewMemoryMessageStore(), app.NewMemoryWatermarks(), app.Options{
		RingTimeout:    time.Hour,
		EndedRetention: time.Hour,
	})
	connect(t, h, "a1", "alice")
	b1 := connect(t, h, "b1", "bob")
	for _, id := range []domain.ConnID{"a1", "b1"} {
		if err := h.Join(id, "ex-42", nil); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}
	if err := h.Ring("a1", "ex-42"); err != nil {
		t.Fatalf("Ring: %v", err)
	}

	// the caller leaves the room before the socket drops; the cleanup must
	// still find the ringing session and end it
	if err := h.Leave("a1", "ex-42"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	h.Drop("a1")

	if state, _ := h.Calls.State("ex-42"); state != app.CallEnded {
		t.Fatalf("state = %v; want Ended after caller disconnected", state)
	}
	if b1.countType("call-ended") != 1 {
		t.Fatal("callee not told the ring ended")
	}
	// bob is free to start a fresh call
	if err := h.Ring("b1", "ex-42"); err != nil {
		t.Fatalf("Ring after cleanup = %v; want nil", err)
	}
}

func TestClearIsPrivateAndLiveMessagesStillArrive(t *testing.T) {
	h := newTestHub()
	ctx := context.Background()
	a1 := connect(t, h, "a1", "alice")
	b1 := connect(t, h, "b1", "bob")
	for _, id := range []domain.ConnID{"a1", "b1"} {
		if err := h.Join(id, "ex-1", nil); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}

	if _, err := h.SendMessage(ctx, "b1", "ex-1", "before"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if err := h.ClearChat(ctx, "a1", "ex-1"); err != nil {
		t.Fatalf("ClearChat: %v", err)
	}
	if a1.countType("chatCleared") != 1 {
		t.Fatal("clearing user not notified")
	}
	if b1.countType("chatCleared") != 0 {
		t.Fatal("other party saw a private clear")
	}

	if _, err := h.SendMessage(ctx, "b1", "ex-1", "after"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	bodies := a1.bodies()
	if len(bodies) != 2 || bodies[1] != "after" {
		t.Fatalf("alice's live feed = %v; a post-clear message was suppressed", bodies)
	}

	// history, though, is filtered by the watermark
	hist, err := h.History(ctx, "a1", "ex-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 || hist[0].Body != "after" {
		t.Fatalf("history = %v; want only the post-clear message", hist)
	}
	full, err := h.History(ctx, "b1", "ex-1")
	if err != nil {
		t.Fatalf("History(bob): %v", err)
	}
	if len(full) != 2 {
		t.Fatalf("bob's history = %d messages; clearing must not affect the other party", len(full))
	}
}

func TestPresenceBroadcastFiresOncePerEdge(t *testing.T) {
	h := newTestHub()
	watcher := connect(t, h, "w1", "carol")

	connect(t, h, "a1", "alice")
	connect(t, h, "a2", "alice")
	if got := presenceEvents(watcher, "userOnline", "alice"); got != 1 {
		t.Fatalf("userOnline(alice) broadcast %d times; want 1", got)
	}

	h.Drop("a1")
	if got := presenceEvents(watcher, "userOffline", "alice"); got != 0 {
		t.Fatalf("userOffline fired with a device still connected (%d)", got)
	}
	h.Drop("a2")
	if got := presenceEvents(watcher, "userOffline", "alice"); got != 1 {
		t.Fatalf("userOffline(alice) broadcast %d times; want exactly 1", got)
	}

	users := h.OnlineUsers()
	if len(users) != 1 || users[0] != "carol" {
		t.Fatalf("OnlineUsers = %v; want [carol]", users)
	}
}

func TestDropIsIdempotentAndCascades(t *testing.T) {
	h := newTestHub()
	connect(t, h, "a1", "alice")
	if err := h.Join("a1", "ex-1", nil); err != nil {
		t.Fatalf("Join: %v", err)
	}

	h.Drop("a1")
	h.Drop("a1")

	if len(h.Rooms.MembersOf("ex-1")) != 0 {
		t.Fatal("membership survived disconnect")
	}
	if h.Presence.IsOnline("alice") {
		t.Fatal("presence survived disconnect")
	}
}
