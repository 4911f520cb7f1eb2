package chathub

import "sync"

// Registry maps a user id to its live connection. The latest registration
// wins; there is no multi-device fan-out.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

// Register maps userID to c, replacing any previous connection. The replaced
// connection is returned so the caller can decide what to do with it.
func (r *Registry) Register(userID string, c Client) Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.clients[userID]
	r.clients[userID] = c
	return prev
}

// Unregister removes the mapping for userID. Unknown ids are a no-op.
func (r *Registry) Unregister(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, userID)
}

// UnregisterClient removes the mapping only while it still points at c, so a
// superseded connection closing late cannot evict its replacement.
func (r *Registry) UnregisterClient(userID string, c Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.clients[userID]
	if !ok || cur.GetID() != c.GetID() {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Resolve returns the live connections of userIDs. Offline and duplicate ids
// are dropped; an empty result means nobody can be reached right now.
func (r *Registry) Resolve(userIDs []string) []Client {
	if len(userIDs) == 0 {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if c, ok := r.clients[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Lookup returns the connection of one user.
func (r *Registry) Lookup(userID string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// All returns every registered connection.
func (r *Registry) All() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
