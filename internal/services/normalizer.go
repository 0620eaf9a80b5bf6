package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zapdesk/zapdesk-backend/internal/domain"
	"github.com/zapdesk/zapdesk-backend/internal/platform/dbctx"
	"github.com/zapdesk/zapdesk-backend/internal/platform/logger"
)

const eventMessagesUpsert = "messages.upsert"

// webhookEnvelope is the provider's wire shape. Only the fields this
// core extracts are declared; the raw payload is preserved on the
// stored message.
type webhookEnvelope struct {
	Event string       `json:"event"`
	Data  webhookEvent `json:"data"`
}

type webhookEvent struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
	MessageTimestamp json.Number `json:"messageTimestamp"`
}

// InboundService normalizes provider webhook payloads into canonical
// deltas and feeds them to the store. Unsupported categories and
// textless messages are dropped without effect; the handler still acks
// them so the provider stops retrying.
type InboundService interface {
	ProcessWebhook(dbc dbctx.Context, payload []byte) (*domain.Chat, *domain.Message, error)
}

type inboundService struct {
	log   *logger.Logger
	store ChatStateService
}

func NewInboundService(baseLog *logger.Logger, store ChatStateService) InboundService {
	return &inboundService{
		log:   baseLog.With("service", "InboundService"),
		store: store,
	}
}

func (s *inboundService) ProcessWebhook(dbc dbctx.Context, payload []byte) (*domain.Chat, *domain.Message, error) {
	delta, err := parseDelta(payload)
	if err != nil {
		return nil, nil, err
	}
	return s.store.UpsertFromInbound(dbc, delta)
}

func parseDelta(payload []byte) (InboundDelta, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return InboundDelta{}, fmt.Errorf("%w: malformed payload: %v", ErrUnsupportedEvent, err)
	}
	if env.Event != eventMessagesUpsert {
		return InboundDelta{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, env.Event)
	}

	jid := strings.TrimSpace(env.Data.Key.RemoteJid)
	if jid == "" {
		return InboundDelta{}, fmt.Errorf("%w: missing remoteJid", ErrUnsupportedEvent)
	}

	content := strings.TrimSpace(env.Data.Message.Conversation)
	if content == "" {
		content = strings.TrimSpace(env.Data.Message.ExtendedTextMessage.Text)
	}
	if content == "" {
		// Media, reactions, protocol frames: extension point for future
		// content types.
		return InboundDelta{}, ErrUnhandledContentType
	}

	occurredAt := time.Now().UTC()
	if ts, err := env.Data.MessageTimestamp.Int64(); err == nil && ts > 0 {
		occurredAt = time.Unix(ts, 0).UTC()
	}

	return InboundDelta{
		ExternalContactID: jid,
		FromMe:            env.Data.Key.FromMe,
		Content:           content,
		ExternalID:        strings.TrimSpace(env.Data.Key.ID),
		OccurredAt:        occurredAt,
		Raw:               json.RawMessage(payload),
	}, nil
}
