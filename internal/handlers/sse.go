package handlers

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
)

type SSEHandler struct {
	log *logger.Logger
	hub *realtime.Hub

	mu      sync.RWMutex
	clients map[uuid.UUID]*realtime.SSEClient
}

func NewSSEHandler(log *logger.Logger, hub *realtime.Hub) *SSEHandler {
	return &SSEHandler{
		log:     log.With("handler", "SSEHandler"),
		hub:     hub,
		clients: make(map[uuid.UUID]*realtime.SSEClient),
	}
}

// GET /api/sse/stream?channels=roster,chat:<id>
//
// The first SSE frame carries the minted client id; the subscribe and
// unsubscribe endpoints key on it. Registration is released on
// disconnect, never left to garbage collection.
func (h *SSEHandler) Stream(c *gin.Context) {
	client := h.hub.NewSSEClient()

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	channels := strings.Split(c.Query("channels"), ",")
	subscribedDefault := true
	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		subscribedDefault = false
		h.hub.AddChannel(client, ch)
	}
	if subscribedDefault {
		h.hub.AddChannel(client, realtime.ChannelRoster)
	}

	h.log.Debug("SSE stream open", "client_id", client.ID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "client_id", client.ID)
}

type subscriptionRequest struct {
	ClientID string `json:"client_id"`
	Channel  string `json:"channel"`
}

func (h *SSEHandler) resolveClient(c *gin.Context) (*realtime.SSEClient, string, bool) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return nil, "", false
	}
	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
		return nil, "", false
	}

	h.mu.RLock()
	client, exists := h.clients[clientID]
	h.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusConflict, gin.H{"error": "no active SSE connection for this client"})
		return nil, "", false
	}
	return client, req.Channel, true
}

// POST /api/sse/subscribe
func (h *SSEHandler) Subscribe(c *gin.Context) {
	client, channel, ok := h.resolveClient(c)
	if !ok {
		return
	}
	h.hub.AddChannel(client, channel)
	c.JSON(http.StatusOK, gin.H{"message": "subscribed", "channel": channel})
}

// POST /api/sse/unsubscribe
func (h *SSEHandler) Unsubscribe(c *gin.Context) {
	client, channel, ok := h.resolveClient(c)
	if !ok {
		return
	}
	h.hub.RemoveChannel(client, channel)
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed", "channel": channel})
}
