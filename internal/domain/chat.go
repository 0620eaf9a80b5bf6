package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	ChatStatusOpen   = "open"
	ChatStatusClosed = "closed"
)

// Chat is one conversation thread bound to a single provider contact
// (a WhatsApp JID). Created on the first inbound event for an unseen
// contact, never deleted.
type Chat struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	// Provider contact identifier ("<digits>@s.whatsapp.net"). Immutable
	// once set.
	ExternalContactID string `gorm:"column:external_contact_id;not null;uniqueIndex" json:"external_contact_id"`

	// Advisory link to a known customer record. Resolved lazily by the
	// identity resolver; stays nil on no match or an ambiguous match.
	LinkedClientID *uuid.UUID `gorm:"type:uuid;column:linked_client_id;index" json:"linked_client_id,omitempty"`

	UnreadCount   int       `gorm:"column:unread_count;not null;default:0" json:"unread_count"`
	LastMessage   string    `gorm:"column:last_message;type:text;not null;default:''" json:"last_message"`
	LastMessageAt time.Time `gorm:"column:last_message_at;not null;index" json:"last_message_at"`
	LastReadAt    time.Time `gorm:"column:last_read_at;not null" json:"last_read_at"`

	Status string `gorm:"column:status;not null;default:'open';index" json:"status"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Chat) TableName() string { return "chat" }
