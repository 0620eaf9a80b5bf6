package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zapdesk/zapdesk-backend/internal/platform/ctxutil"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/services"
)

type WebhookHandler struct {
	log     *logger.Logger
	inbound services.InboundService
}

func NewWebhookHandler(log *logger.Logger, inbound services.InboundService) *WebhookHandler {
	return &WebhookHandler{
		log:     log.With("handler", "WebhookHandler"),
		inbound: inbound,
	}
}

// POST /webhook
//
// Ingestion-boundary errors are swallowed into a 200 so the provider
// stops retrying events we will never handle; only a persistence
// failure surfaces a 500, where a retry is safe thanks to externalId
// dedup.
func (h *WebhookHandler) Receive(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		h.log.Warn("failed to read webhook body", "error", err)
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	dbc := dbctx.Context{Ctx: c.Request.Context()}
	_, msg, err := h.inbound.ProcessWebhook(dbc, payload)
	if err != nil {
		if errors.Is(err, services.ErrUnsupportedEvent) || errors.Is(err, services.ErrUnhandledContentType) {
			h.log.Debug("webhook event ignored", "reason", err)
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		h.log.Error("webhook ingestion failed", "error", err, "request_id", ctxutil.RequestID(c.Request.Context()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if msg == nil {
		h.log.Debug("webhook duplicate delivery acknowledged")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
