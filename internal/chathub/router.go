package chathub

import (
	"sync"

	"shopchat/backend/internal/metrics"
	"shopchat/backend/internal/models"

	"github.com/rs/zerolog"
)

// Router turns logical recipients into transport deliveries. Peer chat hands it
// resolved connections; assistant chat addresses conversation rooms.
type Router struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Client // roomID -> connID -> client
	log   zerolog.Logger
}

// NewRouter creates a router with no rooms.
func NewRouter(log zerolog.Logger) *Router {
	return &Router{
		rooms: make(map[string]map[string]Client),
		log:   log.With().Str("component", "router").Logger(),
	}
}

// MembersOf returns the distinct, non-empty member ids minus the excluded ones.
// Membership is supplied by the caller; the router never looks it up.
func MembersOf(members []string, exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude)+len(members))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(members))
	for _, id := range members {
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Deliver sends payload as event to exactly the given connections. Delivery is
// fire-and-forget; it returns how many connections accepted the envelope.
func (r *Router) Deliver(event string, payload any, to []Client) int {
	if len(to) == 0 {
		return 0
	}
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		r.log.Error().Err(err).Str("event", event).Msg("failed to encode envelope")
		return 0
	}
	sent := 0
	for _, c := range to {
		if c.Send(env) {
			sent++
			continue
		}
		metrics.DroppedDeliveries.Inc()
		r.log.Warn().Str("event", event).Str("conn_id", c.GetID()).Str("user_id", c.GetUserID()).Msg("dropped delivery")
	}
	return sent
}

// Join adds c to room.
func (r *Router) Join(room string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[room] == nil {
		r.rooms[room] = make(map[string]Client)
	}
	r.rooms[room][c.GetID()] = c
}

// Leave removes c from room; empty rooms are dropped.
func (r *Router) Leave(room string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(room, c)
}

// LeaveAll removes c from every room it is in.
func (r *Router) LeaveAll(c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.rooms {
		r.leaveLocked(room, c)
	}
}

func (r *Router) leaveLocked(room string, c Client) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, c.GetID())
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Members returns the connections currently in room.
func (r *Router) Members(room string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	out := make([]Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Broadcast delivers event to every connection in room.
func (r *Router) Broadcast(room, event string, payload any) int {
	return r.Deliver(event, payload, r.Members(room))
}

// RoomSize returns the number of connections in room.
func (r *Router) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}
