package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password  string    `gorm:"not null;column:password" json:"-"`
	FirstName string    `gorm:"column:first_name" json:"first_name"`
	LastName  string    `gorm:"column:last_name" json:"last_name"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "users" }

// UserAPIKey stores one encrypted cloud credential per (owner, provider).
// EncryptedKey is a chacha20poly1305 sealed box, base64-encoded; it is never
// serialized to clients.
type UserAPIKey struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_user_api_key_owner_provider,priority:1" json:"owner_id"`
	Provider     string    `gorm:"column:provider;not null;uniqueIndex:idx_user_api_key_owner_provider,priority:2" json:"provider"`
	EncryptedKey string    `gorm:"column:encrypted_key;type:text;not null" json:"-"`
	BaseURL      string    `gorm:"column:base_url" json:"base_url,omitempty"`
	IsActive     bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (UserAPIKey) TableName() string { return "user_api_keys" }
