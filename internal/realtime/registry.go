package realtime

import "sync"

// Registry tracks which users currently hold live connections. A user is
// online while at least one handle is registered for them.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[int64]Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]map[int64]Handle)}
}

// Register adds a handle. It reports whether this is the user's first live
// connection, i.e. whether the user just transitioned offline -> online.
func (r *Registry) Register(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[h.UserID()]
	if !ok {
		conns = make(map[int64]Handle)
		r.users[h.UserID()] = conns
	}
	first := len(conns) == 0
	conns[h.ConnID()] = h
	return first
}

// Unregister removes a handle. It reports whether the user now has no live
// connections left, i.e. whether the user just transitioned online -> offline.
func (r *Registry) Unregister(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[h.UserID()]
	if !ok {
		return false
	}
	if _, ok := conns[h.ConnID()]; !ok {
		return false
	}
	delete(conns, h.ConnID())
	if len(conns) == 0 {
		delete(r.users, h.UserID())
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// HandlesFor returns a snapshot of the user's live handles.
func (r *Registry) HandlesFor(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.users[userID]
	out := make([]Handle, 0, len(conns))
	for _, h := range conns {
		out = append(out, h)
	}
	return out
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
