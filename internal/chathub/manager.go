package chathub

import (
	"context"
	"sync"

	"shopchat/backend/internal/storage"

	"github.com/rs/zerolog"
)

// ManagerService owns the realtime state of one process: the peer registry and
// presence, the shared router, the generation queue and both namespaces.
type ManagerService struct {
	Registry  *Registry
	Presence  *Presence
	Router    *Router
	Queue     *GenerationQueue
	Peer      *PeerChannel
	Assistant *AssistantChannel

	Storage storage.Storage

	mu      sync.Mutex
	clients map[string]Client // connID -> client, both namespaces
	log     zerolog.Logger
}

// NewManagerService builds the hub. gen may be nil, in which case replies come
// from CannedGenerator.
func NewManagerService(s storage.Storage, gen Generator, peerOpts PeerOptions, assistantOpts AssistantOptions, log zerolog.Logger) *ManagerService {
	registry := NewRegistry()
	presence := NewPresence()
	router := NewRouter(log)
	queue := NewGenerationQueue(log)

	return &ManagerService{
		Registry:  registry,
		Presence:  presence,
		Router:    router,
		Queue:     queue,
		Peer:      NewPeerChannel(registry, presence, router, s, peerOpts, log),
		Assistant: NewAssistantChannel(router, s, queue, gen, assistantOpts, log),
		Storage:   s,
		clients:   make(map[string]Client),
		log:       log.With().Str("component", "hub").Logger(),
	}
}

// PeerHandler returns the event handler for admin namespace connections.
func (m *ManagerService) PeerHandler() EventHandler {
	return trackedHandler{EventHandler: m.Peer, m: m}
}

// AssistantHandler returns the event handler for assistant namespace connections.
func (m *ManagerService) AssistantHandler() EventHandler {
	return trackedHandler{EventHandler: m.Assistant, m: m}
}

// Connections returns the number of open connections across namespaces.
func (m *ManagerService) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Shutdown drains the generation queue, waits for background writes and closes
// every connection still open.
func (m *ManagerService) Shutdown(ctx context.Context) error {
	err := m.Queue.Close(ctx)
	m.Peer.Wait()

	m.mu.Lock()
	open := make([]Client, 0, len(m.clients))
	for _, c := range m.clients {
		open = append(open, c)
	}
	m.mu.Unlock()

	for _, c := range open {
		c.Close()
	}
	m.log.Info().Int("closed", len(open)).Msg("hub stopped")
	return err
}

func (m *ManagerService) track(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c.GetID()] = c
}

func (m *ManagerService) untrack(c Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c.GetID())
}

type trackedHandler struct {
	EventHandler
	m *ManagerService
}

func (h trackedHandler) HandleConnect(c Client) {
	h.m.track(c)
	h.EventHandler.HandleConnect(c)
}

func (h trackedHandler) HandleDisconnect(c Client) {
	h.EventHandler.HandleDisconnect(c)
	h.m.untrack(c)
}
