package chathub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"shopchat/backend/internal/config"
	"shopchat/backend/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// WebSocketClient implements Client on a gorilla websocket connection.
type WebSocketClient struct {
	ID      string
	UserID  string
	Name    string
	Conn    *websocket.Conn
	Handler EventHandler

	send   chan models.Envelope
	mu     sync.RWMutex
	roomID string
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewWebSocketClient wraps an upgraded connection for an authenticated user.
func NewWebSocketClient(conn *websocket.Conn, userID, name string, handler EventHandler, log zerolog.Logger) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &WebSocketClient{
		ID:      id,
		UserID:  userID,
		Name:    name,
		Conn:    conn,
		Handler: handler,
		send:    make(chan models.Envelope, config.SendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		log:     log.With().Str("conn_id", id).Str("user_id", userID).Logger(),
	}
}

// GetID returns the connection id.
func (c *WebSocketClient) GetID() string { return c.ID }

// GetUserID returns the authenticated user id.
func (c *WebSocketClient) GetUserID() string { return c.UserID }

// GetName returns the authenticated display name.
func (c *WebSocketClient) GetName() string { return c.Name }

// GetRoomID returns the assistant room the connection joined, if any.
func (c *WebSocketClient) GetRoomID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

// SetRoomID records the assistant room the connection joined.
func (c *WebSocketClient) SetRoomID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = id
}

// Send queues env for the write pump. A client whose buffer is full is too
// slow to keep up with a stream and gets disconnected.
func (c *WebSocketClient) Send(env models.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.log.Warn().Str("event", env.Event).Msg("send buffer full, closing connection")
		go c.Close()
		return false
	}
}

// Run announces the connection to its handler and starts the pumps.
func (c *WebSocketClient) Run() {
	c.Handler.HandleConnect(c)
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.cancel()
		c.Handler.HandleDisconnect(c)
		c.Close()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("error reading message")
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
			c.log.Debug().Err(err).Msg("malformed frame")
			c.sendError("malformed frame")
			continue
		}

		c.Handler.HandleEvent(c.ctx, c, env)
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One envelope per frame; clients parse each frame as a single JSON value.
			if err := c.Conn.WriteJSON(env); err != nil {
				c.log.Debug().Err(err).Str("event", env.Event).Msg("write failed")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) sendError(message string) {
	env, err := models.NewEnvelope(models.EventError, models.ErrorPayload{Message: message})
	if err != nil {
		return
	}
	c.Send(env)
}
