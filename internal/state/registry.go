package state

import (
	"log"
	"sync"

	"snaprelay/internal/types"
)

// Registry tracks every registered connection: viewers in a flat index,
// producers grouped by session id. One instance is owned by the server and
// shared with the routing engine; all methods are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	viewers   map[string]*types.Conn
	producers map[string]map[string]*types.Conn
}

func NewRegistry() *Registry {
	return &Registry{
		viewers:   make(map[string]*types.Conn),
		producers: make(map[string]map[string]*types.Conn),
	}
}

// RegisterViewer binds the connection as a viewer. A connection that already
// completed registration keeps its original binding; the duplicate attempt is
// logged and ignored.
func (r *Registry) RegisterViewer(c *types.Conn, privilege types.Privilege, ownerToken string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Registered {
		log.Printf("connection %s already registered as %s, ignoring register", c.ID, c.Role)
		return false
	}

	c.Registered = true
	c.Role = types.RoleViewer
	c.Privilege = privilege
	c.OwnerToken = ownerToken
	r.viewers[c.ID] = c
	return true
}

// RegisterProducer binds the connection as a producer for sessionID, creating
// the per-session index entry if absent.
func (r *Registry) RegisterProducer(c *types.Conn, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Registered {
		log.Printf("connection %s already registered as %s, ignoring register", c.ID, c.Role)
		return false
	}

	c.Registered = true
	c.Role = types.RoleProducer
	c.SessionID = sessionID
	if r.producers[sessionID] == nil {
		r.producers[sessionID] = make(map[string]*types.Conn)
	}
	r.producers[sessionID][c.ID] = c
	return true
}

// Unregister removes the connection from whichever index holds it and returns
// the role it had (empty when it never registered) plus the session id for
// producers. Session records outlive their live connections; the caller emits
// any departure notifications.
func (r *Registry) Unregister(c *types.Conn) (types.Role, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.Registered {
		return "", ""
	}

	switch c.Role {
	case types.RoleViewer:
		delete(r.viewers, c.ID)
	case types.RoleProducer:
		if conns, ok := r.producers[c.SessionID]; ok {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(r.producers, c.SessionID)
			}
		}
	}
	return c.Role, c.SessionID
}

// Viewers returns a snapshot slice of every viewer connection. Broadcast
// loops iterate the snapshot so an unregister during the pass cannot skip or
// double-send a recipient.
func (r *Registry) Viewers() []*types.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Conn, 0, len(r.viewers))
	for _, c := range r.viewers {
		out = append(out, c)
	}
	return out
}

// ElevatedViewers returns a snapshot of viewers with elevated privilege.
func (r *Registry) ElevatedViewers() []*types.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Conn
	for _, c := range r.viewers {
		if c.Privilege == types.PrivilegeElevated {
			out = append(out, c)
		}
	}
	return out
}

// ViewersOwning returns the viewers registered with the given owner token.
func (r *Registry) ViewersOwning(token string) []*types.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Conn
	for _, c := range r.viewers {
		if c.OwnerToken == token {
			out = append(out, c)
		}
	}
	return out
}

// ProducerCount returns the number of live producers attached to sessionID.
func (r *Registry) ProducerCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers[sessionID])
}

// TotalProducers returns the number of live producer connections.
func (r *Registry) TotalProducers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.producers {
		total += len(conns)
	}
	return total
}
