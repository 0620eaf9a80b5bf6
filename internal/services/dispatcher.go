package services

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/zapdesk/zapdesk-backend/internal/clients/whatsapp"
	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

// DispatcherService sends operator messages through the provider.
// Provider first, store second: a failed send mutates nothing, so no
// ghost "sent" message is ever visible. The provider-assigned id is
// recorded with the message so the webhook echo of this send dedups
// instead of reappearing as a new contact message.
type DispatcherService interface {
	Send(dbc dbctx.Context, chatID uuid.UUID, text string) (*domain.Chat, *domain.Message, error)
}

type dispatcherService struct {
	log      *logger.Logger
	store    ChatStateService
	provider whatsapp.Client
}

func NewDispatcherService(baseLog *logger.Logger, store ChatStateService, provider whatsapp.Client) DispatcherService {
	return &dispatcherService{
		log:      baseLog.With("service", "DispatcherService"),
		store:    store,
		provider: provider,
	}
}

func (s *dispatcherService) Send(dbc dbctx.Context, chatID uuid.UUID, text string) (*domain.Chat, *domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil, fmt.Errorf("missing text")
	}

	chat, err := s.store.GetChat(dbc, chatID)
	if err != nil {
		return nil, nil, err
	}
	number := strings.SplitN(chat.ExternalContactID, "@", 2)[0]
	if number == "" {
		return nil, nil, fmt.Errorf("chat %s has no destination number", chatID)
	}

	if state, stateErr := s.provider.ConnectionState(dbc.Ctx); stateErr == nil {
		if state.State != "open" {
			return nil, nil, fmt.Errorf("%w: %w (instance state %q)", ErrDeliveryFailed, ErrProviderDisconnected, state.State)
		}
	} else {
		// State probe failing is not proof the send would fail; let the
		// send itself decide.
		s.log.Warn("connection state probe failed before send", "error", stateErr)
	}

	result, err := s.provider.SendText(dbc.Ctx, number, text)
	if err != nil {
		s.log.Warn("provider send failed", "chat_id", chatID, "error", err)
		return nil, nil, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	updated, msg, err := s.store.RecordOutbound(dbc, chatID, text, result.MessageID)
	if err != nil {
		// Delivered but not recorded: surface the persistence failure,
		// the echo path will still reconcile the message by its id.
		return nil, nil, err
	}
	s.log.Info("outbound message delivered", "chat_id", chatID, "external_id", result.MessageID)
	return updated, msg, nil
}
