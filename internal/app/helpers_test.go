package app_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillswap/hub/internal/app"
	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	m.Run()
}

// fakeConn records every frame it takes. Setting full simulates a
// backpressured consumer.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// types decodes the "type" field of every recorded frame, in order.
func (c *fakeConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(f, &env); err != nil {
			out = append(out, "?")
			continue
		}
		out = append(out, env.Type)
	}
	return out
}

// bodies returns the message bodies of recorded newMessage frames, in order.
func (c *fakeConn) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.frames {
		var env struct {
			Type    string         `json:"type"`
			Message domain.Message `json:"message"`
		}
		if err := json.Unmarshal(f, &env); err != nil || env.Type != "newMessage" {
			continue
		}
		out = append(out, env.Message.Body)
	}
	return out
}

func (c *fakeConn) countType(typ string) int {
	n := 0
	for _, t := range c.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func newTestHub() *app.Hub {
	return app.NewHub(core.NewMemoryMessageStore(), app.NewMemoryWatermarks(), app.Options{
		RingTimeout:    50 * time.Millisecond,
		EndedRetention: time.Hour,
	})
}

// connect attaches an authenticated fake connection.
func connect(t *testing.T, h *app.Hub, id domain.ConnID, user domain.UserID) *fakeConn {
	t.Helper()
	conn := &fakeConn{}
	h.Attach(id, conn, nil)
	if err := h.Authenticate(id, user); err != nil {
		t.Fatalf("Authenticate(%s, %s): %v", id, user, err)
	}
	return conn
}
