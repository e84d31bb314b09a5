package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/domain"
)

// PresenceCallback receives online/offline edge transitions.
type PresenceCallback func(user domain.UserID, online bool)

// Presence derives per-user online state from the registry's connection
// counts. The counts are a cache invalidated synchronously on every registry
// mutation; a transition fires only on the 0→1 and 1→0 edges, so a second
// device connecting never re-announces an already-online user.
type Presence struct {
	mu        sync.RWMutex
	counts    map[domain.UserID]int
	observers map[string]PresenceCallback

	// dispatchMu serializes the count change together with its callback
	// fan-out, so an offline edge can never be observed before the online
	// edge that preceded it.
	dispatchMu sync.Mutex
}

var _ RegistryWatcher = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{
		counts:    make(map[domain.UserID]int),
		observers: make(map[string]PresenceCallback),
	}
}

func (p *Presence) ConnectionBound(user domain.UserID, _ domain.ConnID) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	p.counts[user]++
	edge := p.counts[user] == 1
	obs := p.observersLocked(edge)
	p.mu.Unlock()

	if edge {
		log.Info().Str("module", "app.presence").Str("user", string(user)).Msg("user online")
		for _, cb := range obs {
			cb(user, true)
		}
	}
}

func (p *Presence) ConnectionDropped(user domain.UserID, _ domain.ConnID) {
	p.dispatchMu.Lock()
	defer p.dispatchMu.Unlock()

	p.mu.Lock()
	n, ok := p.counts[user]
	if !ok {
		p.mu.Unlock()
		return
	}
	edge := false
	if n <= 1 {
		delete(p.counts, user)
		edge = true
	} else {
		p.counts[user] = n - 1
	}
	obs := p.observersLocked(edge)
	p.mu.Unlock()

	if edge {
		log.Info().Str("module", "app.presence").Str("user", string(user)).Msg("user offline")
		for _, cb := range obs {
			cb(user, false)
		}
	}
}

// observersLocked snapshots callbacks so they run outside the lock.
func (p *Presence) observersLocked(need bool) []PresenceCallback {
	if !need {
		return nil
	}
	out := make([]PresenceCallback, 0, len(p.observers))
	for _, cb := range p.observers {
		out = append(out, cb)
	}
	return out
}

// IsOnline reports whether the user holds at least one live connection.
func (p *Presence) IsOnline(user domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counts[user] > 0
}

// Snapshot lists every currently-online user, for clients that just
// subscribed and cannot wait for future edges.
func (p *Presence) Snapshot() []domain.UserID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.UserID, 0, len(p.counts))
	for u := range p.counts {
		out = append(out, u)
	}
	return out
}

// Subscribe registers an edge observer under the given id.
func (p *Presence) Subscribe(observerID string, cb PresenceCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers[observerID] = cb
}

// Unsubscribe removes an observer. Unknown ids are a no-op.
func (p *Presence) Unsubscribe(observerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.observers, observerID)
}
