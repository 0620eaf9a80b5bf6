package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/events"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
	"github.com/zapdesk/zapdesk-backend/internal/repos"
)

// InboundDelta is the canonical form of one provider message event,
// produced by the normalizer.
type InboundDelta struct {
	ExternalContactID string
	FromMe            bool
	Content           string
	ExternalID        string
	OccurredAt        time.Time
	Raw               json.RawMessage
}

// ChatStateService is the authoritative per-conversation state. Every
// mutation for a chat id runs under that chat's lock and inside one
// transaction: the message append and the summary update commit
// together or not at all.
type ChatStateService interface {
	UpsertFromInbound(dbc dbctx.Context, delta InboundDelta) (*domain.Chat, *domain.Message, error)
	RecordOutbound(dbc dbctx.Context, chatID uuid.UUID, content string, externalID string) (*domain.Chat, *domain.Message, error)
	MarkRead(dbc dbctx.Context, chatID uuid.UUID) (*domain.Chat, error)

	GetChat(dbc dbctx.Context, chatID uuid.UUID) (*domain.Chat, error)
	ListChats(dbc dbctx.Context, limit int) ([]*domain.Chat, error)
	ListMessages(dbc dbctx.Context, chatID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error)
}

type chatStateService struct {
	db       *gorm.DB
	log      *logger.Logger
	chats    repos.ChatRepo
	messages repos.MessageRepo
	resolver ResolverService
	notify   InboxNotifier
	publish  events.Publisher

	locks chatLocks
}

func NewChatStateService(
	db *gorm.DB,
	baseLog *logger.Logger,
	chatRepo repos.ChatRepo,
	messageRepo repos.MessageRepo,
	resolver ResolverService,
	notify InboxNotifier,
	publish events.Publisher,
) ChatStateService {
	return &chatStateService{
		db:       db,
		log:      baseLog.With("service", "ChatStateService"),
		chats:    chatRepo,
		messages: messageRepo,
		resolver: resolver,
		notify:   notify,
		publish:  publish,
		locks:    chatLocks{byChat: make(map[uuid.UUID]*sync.Mutex)},
	}
}

// chatLocks serializes all writers of one chat id. Different chats
// proceed concurrently. Entries are never evicted; the chat set is
// bounded by the operator's customer base.
type chatLocks struct {
	mu     sync.Mutex
	byChat map[uuid.UUID]*sync.Mutex
}

func (l *chatLocks) lock(chatID uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.byChat[chatID]
	if !ok {
		m = &sync.Mutex{}
		l.byChat[chatID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func (s *chatStateService) UpsertFromInbound(dbc dbctx.Context, delta InboundDelta) (*domain.Chat, *domain.Message, error) {
	content := strings.TrimSpace(delta.Content)
	if content == "" {
		return nil, nil, fmt.Errorf("missing content")
	}
	externalContactID := strings.TrimSpace(delta.ExternalContactID)
	if externalContactID == "" {
		return nil, nil, fmt.Errorf("missing external contact id")
	}
	occurredAt := delta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	unlock := s.locks.lock(s.inboundLockKey(dbc, externalContactID))
	defer unlock()

	senderType := domain.SenderTypeContact
	if delta.FromMe {
		senderType = domain.SenderTypeOperator
	}
	payload := delta.Raw
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	externalID := strings.TrimSpace(delta.ExternalID)

	// Chat creation rides in the same transaction as the message append:
	// a failed append must not leave an empty chat in the roster.
	var (
		chat      *domain.Chat
		updated   *domain.Chat
		msg       *domain.Message
		duplicate bool
	)
	err := s.inTransaction(dbc, func(repoCtx dbctx.Context) error {
		var err error
		chat, _, err = s.resolver.Resolve(repoCtx, externalContactID)
		if err != nil {
			return err
		}
		seen, err := s.messages.ExistsByExternalID(repoCtx, chat.ID, externalID)
		if err != nil {
			return err
		}
		if seen {
			// Provider retry storm: the guaranteed no-op path.
			duplicate = true
			return nil
		}
		msg = &domain.Message{
			ID:          uuid.New(),
			ChatID:      chat.ID,
			Content:     content,
			SenderType:  senderType,
			MessageType: domain.MessageTypeText,
			ExternalID:  externalID,
			Payload:     datatypes.JSON(payload),
			CreatedAt:   occurredAt,
		}
		if _, err := s.messages.Create(repoCtx, []*domain.Message{msg}); err != nil {
			return err
		}
		updated, err = s.applySummary(repoCtx, chat.ID, msg, !delta.FromMe)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if duplicate {
		s.log.Debug("duplicate inbound delivery ignored", "chat_id", chat.ID, "external_id", externalID)
		return chat, nil, nil
	}

	if s.notify != nil {
		s.notify.MessageCreated(updated, msg)
	}
	s.publishMessageEvent(dbc, events.TypeMessageReceived, updated, msg)
	return updated, msg, nil
}

// inboundLockKey serializes inbound writers per conversation before the
// chat row necessarily exists. A known contact locks on its chat id (the
// same key every other mutation uses); an unseen contact locks on a
// deterministic uuid derived from the contact id, so two racing first
// deliveries still serialize.
func (s *chatStateService) inboundLockKey(dbc dbctx.Context, externalContactID string) uuid.UUID {
	chat, err := s.chats.GetByExternalContactID(s.repoCtx(dbc), externalContactID)
	if err == nil && chat != nil {
		return chat.ID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(externalContactID))
}

func (s *chatStateService) RecordOutbound(dbc dbctx.Context, chatID uuid.UUID, content string, externalID string) (*domain.Chat, *domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, fmt.Errorf("missing content")
	}
	if chatID == uuid.Nil {
		return nil, nil, ErrChatNotFound
	}

	unlock := s.locks.lock(chatID)
	defer unlock()

	msg := &domain.Message{
		ID:          uuid.New(),
		ChatID:      chatID,
		Content:     content,
		SenderType:  domain.SenderTypeOperator,
		MessageType: domain.MessageTypeText,
		ExternalID:  strings.TrimSpace(externalID),
		Payload:     datatypes.JSON(`{}`),
		CreatedAt:   time.Now().UTC(),
	}

	var updated *domain.Chat
	err := s.inTransaction(dbc, func(repoCtx dbctx.Context) error {
		existing, err := s.chats.GetByID(repoCtx, chatID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrChatNotFound
		}
		// The webhook echo can land before the send response is
		// processed; the provider id already being present means the
		// message is recorded.
		seen, err := s.messages.ExistsByExternalID(repoCtx, chatID, msg.ExternalID)
		if err != nil {
			return err
		}
		if seen {
			updated = existing
			msg = nil
			return nil
		}
		if _, err := s.messages.Create(repoCtx, []*domain.Message{msg}); err != nil {
			return err
		}
		updated, err = s.applySummary(repoCtx, chatID, msg, false)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if msg == nil {
		return updated, nil, nil
	}

	if s.notify != nil {
		s.notify.MessageCreated(updated, msg)
	}
	s.publishMessageEvent(dbc, events.TypeMessageSent, updated, msg)
	return updated, msg, nil
}

func (s *chatStateService) MarkRead(dbc dbctx.Context, chatID uuid.UUID) (*domain.Chat, error) {
	if chatID == uuid.Nil {
		return nil, ErrChatNotFound
	}

	unlock := s.locks.lock(chatID)
	defer unlock()

	now := time.Now().UTC()
	var updated *domain.Chat
	err := s.inTransaction(dbc, func(repoCtx dbctx.Context) error {
		existing, err := s.chats.GetByID(repoCtx, chatID)
		if err != nil {
			return err
		}
		if existing == nil {
			return ErrChatNotFound
		}
		if err := s.chats.UpdateFields(repoCtx, chatID, map[string]interface{}{
			"unread_count": 0,
			"last_read_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		existing.UnreadCount = 0
		existing.LastReadAt = now
		existing.UpdatedAt = now
		updated = existing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notify != nil {
		s.notify.ChatRead(updated)
	}
	if s.publish != nil {
		if err := s.publish.Publish(dbc.Ctx, events.TypeChatRead, events.NewEnvelope(events.TypeChatRead, events.ChatReadEventV1{
			ChatID: chatID,
			ReadAt: now,
		})); err != nil {
			s.log.Warn("failed to publish chat read event", "error", err)
		}
	}
	return updated, nil
}

func (s *chatStateService) GetChat(dbc dbctx.Context, chatID uuid.UUID) (*domain.Chat, error) {
	chat, err := s.chats.GetByID(s.repoCtx(dbc), chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *chatStateService) ListChats(dbc dbctx.Context, limit int) ([]*domain.Chat, error) {
	return s.chats.ListByLastMessage(s.repoCtx(dbc), limit)
}

func (s *chatStateService) ListMessages(dbc dbctx.Context, chatID uuid.UUID, limit int, before *time.Time) ([]*domain.Message, error) {
	chat, err := s.chats.GetByID(s.repoCtx(dbc), chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return s.messages.ListByChat(s.repoCtx(dbc), chatID, limit, before)
}

// applySummary keeps the chat row mirroring the newest message. An
// out-of-order delta older than the current summary still appends, but
// never regresses lastMessage/lastMessageAt. The unread count is
// recomputed from the rows rather than incremented: a delayed delivery
// whose provider timestamp predates the read marker must not show as
// unread.
func (s *chatStateService) applySummary(repoCtx dbctx.Context, chatID uuid.UUID, msg *domain.Message, countUnread bool) (*domain.Chat, error) {
	chat, err := s.chats.LockByID(repoCtx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"updated_at": now}
	if !msg.CreatedAt.Before(chat.LastMessageAt) || chat.LastMessage == "" {
		updates["last_message"] = msg.Content
		updates["last_message_at"] = msg.CreatedAt
		chat.LastMessage = msg.Content
		chat.LastMessageAt = msg.CreatedAt
	}
	if countUnread {
		unread, err := s.messages.CountUnreadSince(repoCtx, chatID, chat.LastReadAt)
		if err != nil {
			return nil, err
		}
		updates["unread_count"] = int(unread)
		chat.UnreadCount = int(unread)
	}
	if err := s.chats.UpdateFields(repoCtx, chatID, updates); err != nil {
		return nil, err
	}
	chat.UpdatedAt = now
	return chat, nil
}

func (s *chatStateService) inTransaction(dbc dbctx.Context, fn func(repoCtx dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbctx.Context{Ctx: dbc.Ctx, Tx: dbc.Tx})
	}
	return s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: dbc.Ctx, Tx: tx})
	})
}

func (s *chatStateService) repoCtx(dbc dbctx.Context) dbctx.Context {
	if dbc.Tx != nil {
		return dbc
	}
	return dbctx.Context{Ctx: dbc.Ctx, Tx: s.db}
}

func (s *chatStateService) publishMessageEvent(dbc dbctx.Context, eventType string, chat *domain.Chat, msg *domain.Message) {
	if s.publish == nil || chat == nil || msg == nil {
		return
	}
	preview := msg.Content
	if len(preview) > 512 {
		preview = preview[:512]
	}
	err := s.publish.Publish(dbc.Ctx, eventType, events.NewEnvelope(eventType, events.MessageEventV1{
		ChatID:            chat.ID,
		MessageID:         msg.ID,
		ExternalContactID: chat.ExternalContactID,
		ExternalMessageID: msg.ExternalID,
		SenderType:        msg.SenderType,
		Kind:              msg.MessageType,
		TextPreview:       preview,
		OccurredAt:        msg.CreatedAt,
	}))
	if err != nil {
		s.log.Warn("failed to publish message event", "type", eventType, "error", err)
	}
}
