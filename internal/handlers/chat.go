package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/services"
)

type ChatHandler struct {
	log        *logger.Logger
	store      services.ChatStateService
	dispatcher services.DispatcherService
}

func NewChatHandler(log *logger.Logger, store services.ChatStateService, dispatcher services.DispatcherService) *ChatHandler {
	return &ChatHandler{
		log:        log.With("handler", "ChatHandler"),
		store:      store,
		dispatcher: dispatcher,
	}
}

// GET /api/chats
func (h *ChatHandler) ListChats(c *gin.Context) {
	limit := intQuery(c, "limit", 100)

	chats, err := h.store.ListChats(dbctx.Context{Ctx: c.Request.Context()}, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "list_chats_failed", err)
		return
	}
	RespondOK(c, gin.H{"chats": chats})
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// GET /api/chats/:id/messages
func (h *ChatHandler) ListMessages(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	limit := intQuery(c, "limit", 50)
	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_before_cursor", err)
			return
		}
		before = &t
	}

	msgs, err := h.store.ListMessages(dbctx.Context{Ctx: c.Request.Context()}, chatID, limit, before)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			RespondError(c, http.StatusNotFound, "chat_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "list_messages_failed", err)
		return
	}
	RespondOK(c, gin.H{"messages": msgs})
}

// POST /api/chats/:id/messages
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		RespondError(c, http.StatusBadRequest, "invalid_body", errors.New("text required"))
		return
	}

	chat, msg, err := h.dispatcher.Send(dbctx.Context{Ctx: c.Request.Context()}, chatID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrChatNotFound):
			RespondError(c, http.StatusNotFound, "chat_not_found", err)
		case errors.Is(err, services.ErrDeliveryFailed):
			RespondError(c, http.StatusBadGateway, "delivery_failed", err)
		default:
			RespondError(c, http.StatusInternalServerError, "send_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"chat": chat, "message": msg})
}

// POST /api/chats/:id/read
func (h *ChatHandler) MarkRead(c *gin.Context) {
	chatID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_chat_id", err)
		return
	}

	chat, err := h.store.MarkRead(dbctx.Context{Ctx: c.Request.Context()}, chatID)
	if err != nil {
		if errors.Is(err, services.ErrChatNotFound) {
			RespondError(c, http.StatusNotFound, "chat_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "mark_read_failed", err)
		return
	}
	RespondOK(c, gin.H{"chat": chat})
}
