package relay

import (
	"sync"

	"go.uber.org/zap"
)

// Registry is the process-wide mapping from live connections to their
// session metadata. It is mutated only by the connect and disconnect
// paths; feed handlers only read it to resolve fanout targets.
type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex
	conns  map[string]*Conn // keyed by connection id
}

// NewRegistry creates an empty connection registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("relay.registry"),
		conns:  make(map[string]*Conn),
	}
}

// Register inserts a connection. Registering a connection that has
// already been closed is a no-op returning false: a disconnect that
// raced ahead of the connect path's store sync must win.
func (r *Registry) Register(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Closed() {
		r.logger.Debug("skipping registration of closed connection",
			zap.String("id", c.ID()))
		return false
	}
	r.conns[c.ID()] = c
	return true
}

// Unregister removes a connection, reporting whether it was present
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.ID()]; !ok {
		return false
	}
	delete(r.conns, c.ID())
	return true
}

// LookupByUID returns every connection owned by the given user.
// Multiple simultaneous connections per user are supported
// (multi-device).
func (r *Registry) LookupByUID(uid string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Conn
	for _, c := range r.conns {
		if c.Meta().UID == uid {
			matches = append(matches, c)
		}
	}
	return matches
}

// All returns every currently registered connection
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

// Size returns the number of registered connections
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
