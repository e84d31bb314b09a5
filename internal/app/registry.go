package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/skillswap/hub/internal/core"
	"github.com/skillswap/hub/internal/domain"
)

// RegistryWatcher receives registry mutations synchronously, before the
// mutating call returns. The presence tracker is the consumer; it must not
// block.
type RegistryWatcher interface {
	ConnectionBound(user domain.UserID, id domain.ConnID)
	ConnectionDropped(user domain.UserID, id domain.ConnID)
}

type connEntry struct {
	conn   core.Conn
	user   domain.UserID // empty until the auth handshake binds it
	cancel context.CancelFunc
}

// Registry is the single source of truth for connection liveness. Every other
// component references connections by id only.
type Registry struct {
	mu      sync.RWMutex
	conns   map[domain.ConnID]*connEntry
	byUser  map[domain.UserID]map[domain.ConnID]struct{}
	watcher RegistryWatcher
}

func NewRegistry() *Registry {
	return &Registry{
		conns:  make(map[domain.ConnID]*connEntry),
		byUser: make(map[domain.UserID]map[domain.ConnID]struct{}),
	}
}

// Watch sets the synchronous mutation observer. Must be called before the
// first connection is added.
func (r *Registry) Watch(w RegistryWatcher) {
	r.watcher = w
}

// Add tracks a new, still-anonymous connection.
func (r *Registry) Add(id domain.ConnID, conn core.Conn, cancel context.CancelFunc) {
	r.mu.Lock()
	r.conns[id] = &connEntry{conn: conn, cancel: cancel}
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("connection added")
}

// Bind associates an authenticated user with a connection. A connection
// belongs to exactly one user for its lifetime; rebinding to the same user is
// a no-op.
func (r *Registry) Bind(id domain.ConnID, user domain.UserID) error {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return core.ErrUnknownConnection
	}
	if e.user == user {
		r.mu.Unlock()
		return nil
	}
	if e.user != "" {
		r.mu.Unlock()
		return core.ErrAlreadyBound
	}
	e.user = user
	set, ok := r.byUser[user]
	if !ok {
		set = make(map[domain.ConnID]struct{})
		r.byUser[user] = set
	}
	set[id] = struct{}{}
	w := r.watcher
	r.mu.Unlock()

	if w != nil {
		w.ConnectionBound(user, id)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("user", string(user)).Msg("connection bound")
	return nil
}

// Remove drops the connection, cancels its context and closes the transport,
// so a removal initiated server-side (kick, shutdown) actually terminates the
// socket instead of waiting for the client. Idempotent; removing an unknown
// connection is a no-op. Returns the bound user, if any.
func (r *Registry) Remove(id domain.ConnID) (domain.UserID, bool) {
	r.mu.Lock()
	e, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.conns, id)
	user := e.user
	if user != "" {
		if set, ok := r.byUser[user]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byUser, user)
			}
		}
	}
	if e.cancel != nil {
		e.cancel()
	}
	w := r.watcher
	r.mu.Unlock()

	if e.conn != nil {
		e.conn.Close()
	}
	if user != "" && w != nil {
		w.ConnectionDropped(user, id)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("connection removed")
	return user, user != ""
}

// UserOf reports the bound user of a connection.
func (r *Registry) UserOf(id domain.ConnID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok || e.user == "" {
		return "", false
	}
	return e.user, true
}

// Conn returns the transport endpoint of a live connection.
func (r *Registry) Conn(id domain.ConnID) (core.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ConnectionsFor snapshots all live connection ids bound to a user.
func (r *Registry) ConnectionsFor(user domain.UserID) []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[user]
	out := make([]domain.ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// AllConns snapshots every live transport endpoint, bound or not.
func (r *Registry) AllConns() []core.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Conn, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.conn)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Shutdown cancels every connection context. The read pumps observe the
// cancellation and run the usual disconnect cascade.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(r.conns))
	for _, e := range r.conns {
		if e.cancel != nil {
			cancels = append(cancels, e.cancel)
		}
	}
	r.mu.RUnlock()
	for _, cancel := range cancels {
		cancel()
	}
	log.Info().Str("module", "app.registry").Int("count", len(cancels)).Msg("shutdown: canceled sessions")
}
