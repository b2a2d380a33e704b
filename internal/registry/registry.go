// internal/registry/registry.go
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/voicebattle/internal/models"
)

// Registry tracks live connections and which one is active for each user.
// During a reconnection window a superseded connection may still be
// registered next to the user's new active connection.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	active map[uuid.UUID]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		active: make(map[uuid.UUID]string),
	}
}

// Add registers c and makes it the user's active connection. It returns the
// connection it superseded, if that one is still registered.
func (r *Registry) Add(c *Connection) (prev *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prevID, ok := r.active[c.UserID]; ok && prevID != c.ID {
		prev = r.conns[prevID]
	}
	r.conns[c.ID] = c
	r.active[c.UserID] = c.ID
	return prev
}

// Remove unregisters connID. wasActive is true when it was the user's active
// connection, in which case the user has no active connection afterwards.
func (r *Registry) Remove(connID string) (c *Connection, wasActive bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	delete(r.conns, connID)
	if r.active[c.UserID] == connID {
		delete(r.active, c.UserID)
		wasActive = true
	}
	return c, wasActive
}

// Get looks up a connection by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// Active returns the user's active connection.
func (r *Registry) Active(userID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[userID]
	if !ok {
		return nil, false
	}
	c, ok := r.conns[id]
	return c, ok
}

// IsActive reports whether connID is its user's active connection.
func (r *Registry) IsActive(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return ok && r.active[c.UserID] == connID
}

// HasUser reports whether the user has an active connection.
func (r *Registry) HasUser(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[userID]
	return ok
}

// Count is the number of distinct users with an active connection.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Connections returns every active connection.
func (r *Registry) Connections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0, len(r.active))
	for _, id := range r.active {
		if c, ok := r.conns[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// SendTo writes ev to connID, returning false if it is unknown or dropped the event.
func (r *Registry) SendTo(connID string, ev models.Event) bool {
	c, ok := r.Get(connID)
	if !ok {
		return false
	}
	return c.Write(ev)
}

// Broadcast writes ev to every active connection.
func (r *Registry) Broadcast(ev models.Event) {
	for _, c := range r.Connections() {
		c.Write(ev)
	}
}
