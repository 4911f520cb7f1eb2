package handler

import (
	"net/http"

	"shopchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ServeAdminWebSocket upgrades a peer chat connection.
func (h *Handler) ServeAdminWebSocket(c *gin.Context) {
	h.serveWebSocket(c, chathub.NamespacePeer, h.Hub.PeerHandler())
}

// ServeAssistantWebSocket upgrades an assistant chat connection.
func (h *Handler) ServeAssistantWebSocket(c *gin.Context) {
	h.serveWebSocket(c, chathub.NamespaceAssistant, h.Hub.AssistantHandler())
}

// serveWebSocket authenticates before upgrading, so a rejected caller never
// reaches the registry.
func (h *Handler) serveWebSocket(c *gin.Context, namespace string, eh chathub.EventHandler) {
	id, err := h.Auth.Authenticate(c.Request)
	if err != nil {
		h.log.Debug().Err(err).Str("namespace", namespace).Msg("socket rejected")
		c.AbortWithStatusJSON(authStatus(err), gin.H{"error": err.Error()})
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.log.Warn().Err(err).Str("namespace", namespace).Msg("failed to upgrade connection")
		return
	}

	client := chathub.NewWebSocketClient(conn, id.UserID, id.Name, eh, h.log.With().Str("namespace", namespace).Logger())
	client.Run()
}

// checkOrigin accepts any origin when no allow-list is configured, and
// requests without an Origin header (non-browser clients).
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.allowedOrigins[origin]
	return ok
}
