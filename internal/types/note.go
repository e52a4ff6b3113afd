package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Note is the primary knowledge entity. Slug is unique per owner; collisions
// are resolved with numeric suffixes at write time. A trashed note must never
// surface in retrieval results or graph computations.
type Note struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_notes_owner_slug,priority:1" json:"owner_id"`
	Title   string    `gorm:"column:title;not null" json:"title"`
	Slug    string    `gorm:"column:slug;not null;uniqueIndex:idx_notes_owner_slug,priority:2" json:"slug"`
	Content string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	HTML    string    `gorm:"column:html;type:text" json:"html,omitempty"`

	Embedding   *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`
	CommunityID *int             `gorm:"column:community_id;index" json:"community_id,omitempty"`

	IsTrashed  bool `gorm:"column:is_trashed;not null;default:false;index" json:"is_trashed"`
	IsFavorite bool `gorm:"column:is_favorite;not null;default:false" json:"is_favorite"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Note) TableName() string { return "notes" }

const (
	ChunkTypeParagraph = "paragraph"
	ChunkTypeHeading   = "heading"
	ChunkTypeList      = "list"
	ChunkTypeCode      = "code"
)

// NoteChunk rows are rewritten atomically whenever a note's content changes;
// ChunkIndex is dense from 0 within the note.
type NoteChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	NoteID     uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_note_chunks_note_idx,priority:1" json:"note_id"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	ChunkIndex int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_note_chunks_note_idx,priority:2" json:"chunk_index"`
	ChunkType  string    `gorm:"column:chunk_type;not null;default:'paragraph'" json:"chunk_type"`
	CharStart  int       `gorm:"column:char_start;not null;default:0" json:"char_start"`
	CharEnd    int       `gorm:"column:char_end;not null;default:0" json:"char_end"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NoteChunk) TableName() string { return "note_chunks" }
