package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zapdesk/zapdesk-backend/internal/clients/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

// ConnectionHandler exposes the gateway session state for the pairing
// flow managed outside this core.
type ConnectionHandler struct {
	log      *logger.Logger
	provider whatsapp.Client
}

func NewConnectionHandler(log *logger.Logger, provider whatsapp.Client) *ConnectionHandler {
	return &ConnectionHandler{
		log:      log.With("handler", "ConnectionHandler"),
		provider: provider,
	}
}

// GET /api/connection
func (h *ConnectionHandler) GetState(c *gin.Context) {
	state, err := h.provider.ConnectionState(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusBadGateway, "connection_state_failed", err)
		return
	}
	RespondOK(c, gin.H{"state": state.State, "qr": state.QR})
}

// DELETE /api/connection
func (h *ConnectionHandler) Logout(c *gin.Context) {
	if err := h.provider.Logout(c.Request.Context()); err != nil {
		RespondError(c, http.StatusBadGateway, "logout_failed", err)
		return
	}
	RespondOK(c, gin.H{"message": "logged out"})
}
