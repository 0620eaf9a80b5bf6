package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys on the inbox topic exchange. Downstream collaborators
// (finance dashboard, analytics) consume these; this core only publishes.
const (
	TypeMessageReceived = "inbox.message.received.v1"
	TypeMessageSent     = "inbox.message.sent.v1"
	TypeChatRead        = "inbox.chat.read.v1"
)

type Meta struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Producer      string    `json:"producer,omitempty"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

func NewEnvelope(eventType string, data any) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     eventType,
			Producer: "zapdesk-backend",
			Time:     time.Now().UTC(),
		},
		Data: data,
	}
}

type MessageEventV1 struct {
	ChatID            uuid.UUID `json:"chat_id"`
	MessageID         uuid.UUID `json:"message_id"`
	ExternalContactID string    `json:"external_contact_id"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	SenderType        string    `json:"sender_type"`
	Kind              string    `json:"kind"`
	TextPreview       string    `json:"text_preview,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

type ChatReadEventV1 struct {
	ChatID uuid.UUID `json:"chat_id"`
	ReadAt time.Time `json:"read_at"`
}
