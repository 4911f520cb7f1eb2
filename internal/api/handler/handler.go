package handler

import (
	"net/http"
	"strconv"

	"shopchat/backend/internal/chathub"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const identityKey = "identity"

// Handler holds the hub and the request authenticator.
type Handler struct {
	Hub  *chathub.ManagerService
	Auth *Authenticator

	allowedOrigins map[string]struct{}
	log            zerolog.Logger
}

func NewHandler(hub *chathub.ManagerService, auth *Authenticator, allowedOrigins []string, log zerolog.Logger) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o != "" {
			origins[o] = struct{}{}
		}
	}
	return &Handler{
		Hub:            hub,
		Auth:           auth,
		allowedOrigins: origins,
		log:            log.With().Str("component", "http").Logger(),
	}
}

// GetPeerHistory returns persisted messages of a peer chat, oldest first.
func (h *Handler) GetPeerHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	chatID := c.Param("chatId")
	messages, err := h.Hub.Storage.GetPeerHistory(c.Request.Context(), chatID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load peer history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": chatID, "messages": messages})
}

// GetOnlineUsers returns the online set of the peer surface.
func (h *Handler) GetOnlineUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": h.Hub.Presence.Snapshot()})
}

// Health reports liveness with a few hub gauges.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": h.Hub.Connections(),
		"queueDepth":  h.Hub.Queue.Len(),
		"generating":  h.Hub.Queue.Running(),
	})
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter, allowDevTokens bool) {
	r.GET("/health", h.Health)
	if allowDevTokens {
		r.GET("/token", h.GetToken)
	}

	r.GET("/ws/admin", h.ServeAdminWebSocket)
	r.GET("/ws/assistant", h.ServeAssistantWebSocket)

	api := r.Group("/api", h.RequireAuth())
	api.GET("/chats/:chatId/messages", h.GetPeerHistory)
	api.GET("/online", h.GetOnlineUsers)
}
