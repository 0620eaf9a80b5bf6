package domain

import (
	"time"

	"github.com/google/uuid"
)

// Client is a known customer record provisioned outside this core.
// Only the identity resolver reads it, for best-effort phone linkage.
type Client struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"column:name;not null" json:"name"`
	Phone string    `gorm:"column:phone;not null;index" json:"phone"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Client) TableName() string { return "client" }
