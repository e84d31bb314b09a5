package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// CallState is the lifecycle state of a room's call session. Idle is the
// absence of a session record.
type CallState string

const (
	CallRinging CallState = "ringing"
	CallActive  CallState = "active"
	CallEnded   CallState = "ended"
)

// CallNotifier delivers signaling events. The relay implements it; the state
// machine itself never touches transports.
type CallNotifier interface {
	CallIncoming(room domain.RoomID, caller domain.UserID)
	CallAccepted(room domain.RoomID, callee domain.UserID)
	CallRejected(room domain.RoomID)
	CallEnded(room domain.RoomID)
}

// callSession carries no media; it only tracks signaling intent for one room.
type callSession struct {
	room      domain.RoomID
	caller    domain.UserID
	callee    domain.UserID // set on accept
	state     CallState
	createdAt time.Time
	updatedAt time.Time
	ringTimer *time.Timer
	dropTimer *time.Timer
}

// CallManager is the per-room call signaling state machine. At most one
// session exists per room; terminal sessions are retained briefly so
// duplicate end/reject events resolve as idempotent no-ops.
type CallManager struct {
	mu       sync.Mutex
	sessions map[domain.RoomID]*callSession

	notifier    CallNotifier
	ringTimeout time.Duration
	retention   time.Duration
	now         func() time.Time
}

func NewCallManager(notifier CallNotifier, ringTimeout, retention time.Duration) *CallManager {
	return &CallManager{
		sessions:    make(map[domain.RoomID]*callSession),
		notifier:    notifier,
		ringTimeout: ringTimeout,
		retention:   retention,
		now:         time.Now,
	}
}

// Ring starts a call in the room. Fails with ErrAlreadyInProgress while a
// session is Ringing or Active; a retained Ended session behaves as Idle.
// Room members other than the caller are notified.
func (c *CallManager) Ring(room domain.RoomID, caller domain.UserID) error {
	c.mu.Lock()
	if s, ok := c.sessions[room]; ok {
		if s.state != CallEnded {
			c.mu.Unlock()
			return core.ErrAlreadyInProgress
		}
		c.discardLocked(s)
	}
	now := c.now()
	s := &callSession{
		room:      room,
		caller:    caller,
		state:     CallRinging,
		createdAt: now,
		updatedAt: now,
	}
	s.ringTimer = time.AfterFunc(c.ringTimeout, func() { c.expire(room) })
	c.sessions[room] = s
	c.mu.Unlock()

	log.Info().Str("module", "app.call").Str("room", string(room)).Str("caller", string(caller)).Msg("ringing")
	c.notifier.CallIncoming(room, caller)
	return nil
}

// Accept moves Ringing to Active, first-accept-wins. Accepting an already
// Active call is an idempotent no-op; anything else is ErrInvalidTransition.
func (c *CallManager) Accept(room domain.RoomID, callee domain.UserID) error {
	c.mu.Lock()
	s, ok := c.sessions[room]
	if !ok {
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
	switch s.state {
	case CallActive:
		c.mu.Unlock()
		return nil
	case CallRinging:
		s.ringTimer.Stop()
		s.state = CallActive
		s.callee = callee
		s.updatedAt = c.now()
		c.mu.Unlock()
		log.Info().Str("module", "app.call").Str("room", string(room)).Str("callee", string(callee)).Msg("call accepted")
		c.notifier.CallAccepted(room, callee)
		return nil
	default:
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
}

// Reject ends a Ringing call. Rejecting a retained Ended session is treated
// as a duplicate and succeeds as a no-op.
func (c *CallManager) Reject(room domain.RoomID) error {
	c.mu.Lock()
	s, ok := c.sessions[room]
	if !ok {
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
	switch s.state {
	case CallRinging:
		c.endLocked(s)
		c.mu.Unlock()
		log.Info().Str("module", "app.call").Str("room", string(room)).Msg("call rejected")
		c.notifier.CallRejected(room)
		return nil
	case CallEnded:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
}

// End hangs up an Active call. Ending an already Ended call is a no-op;
// ending while Idle or Ringing is ErrInvalidTransition (a ringing call exits
// via accept, reject, timeout, or caller disconnect).
func (c *CallManager) End(room domain.RoomID) error {
	c.mu.Lock()
	s, ok := c.sessions[room]
	if !ok {
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
	switch s.state {
	case CallActive:
		c.endLocked(s)
		c.mu.Unlock()
		log.Info().Str("module", "app.call").Str("room", string(room)).Msg("call ended")
		c.notifier.CallEnded(room)
		return nil
	case CallEnded:
		c.mu.Unlock()
		return nil
	default:
		c.mu.Unlock()
		return core.ErrInvalidTransition
	}
}

// State reports the current session state; false means Idle.
func (c *CallManager) State(room domain.RoomID) (CallState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[room]
	if !ok {
		return "", false
	}
	return s.state, true
}

// OnDisconnect runs the disconnect cleanup for a user who just lost a
// connection. Every session the user participates in is examined, whether or
// not the dropped connection was still in the room. stillPresent reports
// whether the user holds another live connection in a room, so a multi-device
// participant does not kill their own call.
func (c *CallManager) OnDisconnect(user domain.UserID, stillPresent func(domain.RoomID, domain.UserID) bool) {
	c.mu.Lock()
	var candidates []*callSession
	for _, s := range c.sessions {
		switch s.state {
		case CallRinging:
			if s.caller == user {
				candidates = append(candidates, s)
			}
		case CallActive:
			if s.caller == user || s.callee == user {
				candidates = append(candidates, s)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range candidates {
		room := s.room
		if stillPresent(room, user) {
			continue
		}
		c.mu.Lock()
		cur, ok := c.sessions[room]
		ended := ok && cur == s && cur.state != CallEnded
		if ended {
			c.endLocked(cur)
		}
		c.mu.Unlock()
		if ended {
			log.Info().Str("module", "app.call").Str("room", string(room)).Str("user", string(user)).Msg("call ended by disconnect")
			c.notifier.CallEnded(room)
		}
	}
}

// expire fires when the ring timer lapses with no accept or reject.
func (c *CallManager) expire(room domain.RoomID) {
	c.mu.Lock()
	s, ok := c.sessions[room]
	if !ok || s.state != CallRinging {
		c.mu.Unlock()
		return
	}
	c.endLocked(s)
	c.mu.Unlock()
	log.Warn().Str("module", "app.call").Str("room", string(room)).Dur("timeout", c.ringTimeout).Msg("ring timed out")
	c.notifier.CallRejected(room)
}

// endLocked makes the session terminal and schedules its discard.
func (c *CallManager) endLocked(s *callSession) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	s.state = CallEnded
	s.updatedAt = c.now()
	room := s.room
	s.dropTimer = time.AfterFunc(c.retention, func() { c.purge(room) })
}

// discardLocked removes a session record immediately.
func (c *CallManager) discardLocked(s *callSession) {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	if s.dropTimer != nil {
		s.dropTimer.Stop()
	}
	delete(c.sessions, s.room)
}

func (c *CallManager) purge(room domain.RoomID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[room]; ok && s.state == CallEnded {
		delete(c.sessions, room)
	}
}
