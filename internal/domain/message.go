package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	SenderTypeOperator = "operator"
	SenderTypeContact  = "contact"

	MessageTypeText = "text"
)

// Message is immutable after creation. ExternalID carries the
// provider-assigned message id and is the dedup key for webhook retries
// and operator echoes; '' means the provider never told us an id.
// Uniqueness per chat is enforced inside the serialized writer, backed by
// the composite index (partial-unique where external_id <> '').
type Message struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatID uuid.UUID `gorm:"type:uuid;not null;index;index:idx_message_chat_external,priority:1" json:"chat_id"`

	Content     string `gorm:"column:content;type:text;not null" json:"content"`
	SenderType  string `gorm:"column:sender_type;not null;index" json:"sender_type"`
	MessageType string `gorm:"column:message_type;not null;default:'text'" json:"message_type"`

	ExternalID string `gorm:"column:external_id;not null;default:'';index:idx_message_chat_external,priority:2" json:"external_id,omitempty"`

	// Raw provider payload snapshot, kept for audits and future media
	// support. Empty object for operator-originated messages.
	Payload datatypes.JSON `gorm:"type:jsonb;column:payload;not null;default:'{}'" json:"payload,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Message) TableName() string { return "message" }
