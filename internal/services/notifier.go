package services

import (
	"context"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/realtime"
)

// InboxNotifier pushes store mutations to the realtime layer. Chat
// summary changes land on the roster channel; message appends land on
// the chat's own channel as well.
type InboxNotifier interface {
	ChatUpserted(chat *domain.Chat)
	ChatRead(chat *domain.Chat)
	MessageCreated(chat *domain.Chat, msg *domain.Message)
}

type inboxNotifier struct {
	emit SSEEmitter
}

func NewInboxNotifier(emit SSEEmitter) InboxNotifier {
	return &inboxNotifier{emit: emit}
}

func (n *inboxNotifier) ChatUpserted(chat *domain.Chat) {
	if n == nil || n.emit == nil || chat == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.ChannelRoster,
		Event:   realtime.SSEEventChatUpserted,
		Data:    map[string]any{"chat": chat},
	})
}

func (n *inboxNotifier) ChatRead(chat *domain.Chat) {
	if n == nil || n.emit == nil || chat == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.ChannelRoster,
		Event:   realtime.SSEEventChatRead,
		Data:    map[string]any{"chat": chat},
	})
}

func (n *inboxNotifier) MessageCreated(chat *domain.Chat, msg *domain.Message) {
	if n == nil || n.emit == nil || chat == nil || msg == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: realtime.ChatChannel(chat.ID),
		Event:   realtime.SSEEventMessageCreated,
		Data:    map[string]any{"chat_id": chat.ID, "message": msg},
	})
	// Roster viewers track unread counts and last-message summaries.
	n.ChatUpserted(chat)
}
