package types

import (
	"time"

	"github.com/google/uuid"
)

type Tag struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_tags_owner_name,priority:1" json:"owner_id"`
	Name    string    `gorm:"column:name;not null;uniqueIndex:idx_tags_owner_name,priority:2" json:"name"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Tag) TableName() string { return "tags" }

type NoteTag struct {
	NoteID uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"note_id"`
	TagID  uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"tag_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NoteTag) TableName() string { return "note_tags" }

type ImageTag struct {
	ImageID uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"image_id"`
	TagID   uuid.UUID `gorm:"type:uuid;not null;primaryKey;index" json:"tag_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ImageTag) TableName() string { return "image_tags" }
