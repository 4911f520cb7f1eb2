package chathub

import (
	"sort"
	"sync"

	"shopchat/backend/internal/metrics"
)

// Presence is the set of users considered online on the peer chat surface.
// It is joined and left explicitly and only pruned on leave or disconnect,
// so an entry can outlive a connection that dropped without a close frame.
type Presence struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

// NewPresence creates an empty online set.
func NewPresence() *Presence {
	return &Presence{users: make(map[string]struct{})}
}

// Add marks userID online and returns the updated snapshot.
func (p *Presence) Add(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.users[userID] = struct{}{}
	metrics.OnlineUsers.Set(float64(len(p.users)))
	return p.snapshotLocked()
}

// Remove marks userID offline and returns the updated snapshot.
func (p *Presence) Remove(userID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.users, userID)
	metrics.OnlineUsers.Set(float64(len(p.users)))
	return p.snapshotLocked()
}

// Contains reports whether userID is online.
func (p *Presence) Contains(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[userID]
	return ok
}

// Snapshot returns the online user ids in sorted order.
func (p *Presence) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Presence) snapshotLocked() []string {
	out := make([]string, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
