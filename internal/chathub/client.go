package chathub

import (
	"context"

	"shopchat/backend/internal/models"
)

// Client is the interface for one live connection (e.g. a WebSocket tab).
// It abstracts the transport so the registry, router and channels can manage
// connections uniformly and tests can substitute recording doubles.
type Client interface {
	// GetID returns the connection id, unique per connection.
	GetID() string
	// GetUserID returns the verified user id the connection was authenticated as.
	GetUserID() string
	// GetName returns the display name from the verified identity.
	GetName() string

	// GetRoomID returns the assistant conversation the connection joined, if any.
	GetRoomID() string
	// SetRoomID records the assistant conversation the connection joined.
	SetRoomID(string)

	// Send queues an envelope for delivery without blocking. It returns false
	// when the envelope was dropped because the client is closed or saturated.
	Send(models.Envelope) bool

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts down the connection's outbound side. Safe to call twice.
	Close()
}

// EventHandler is a namespace's view of its connections. Events from one
// connection are delivered sequentially, in receipt order.
type EventHandler interface {
	HandleConnect(c Client)
	HandleEvent(ctx context.Context, c Client, env models.Envelope)
	HandleDisconnect(c Client)
}
