package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the owning entity of a presence record. The engine only ever
// touches the presence columns; the rest of the row belongs to the user
// service.
type User struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	TenantID uuid.UUID `json:"tenant_id" gorm:"type:uuid;not null;index"`
	Email    string    `json:"email" gorm:"not null;index"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active" gorm:"default:true"`

	Presence UserPresence `json:"presence" gorm:"embedded;embeddedPrefix:presence_"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
