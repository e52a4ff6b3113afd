package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type Image struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID  uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title    string    `gorm:"column:title" json:"title"`
	Filepath string    `gorm:"column:filepath;not null" json:"filepath"`
	MimeType string    `gorm:"column:mime_type" json:"mime_type"`
	FileSize int64     `gorm:"column:file_size;not null;default:0" json:"file_size"`
	BlurHash string    `gorm:"column:blur_hash" json:"blur_hash,omitempty"`

	AIAnalysisStatus  string         `gorm:"column:ai_analysis_status;not null;default:'queued';index" json:"ai_analysis_status"`
	AIAnalysisResult  datatypes.JSON `gorm:"column:ai_analysis_result;type:jsonb" json:"ai_analysis_result,omitempty"`
	AIAnalysisError   string         `gorm:"column:ai_analysis_error" json:"ai_analysis_error,omitempty"`
	AIAnalysisStarted *time.Time     `gorm:"column:ai_analysis_started" json:"-"`

	// Set when enrichment generated a summary note for this image.
	SummaryNoteID *uuid.UUID `gorm:"type:uuid;column:summary_note_id" json:"summary_note_id,omitempty"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	IsTrashed  bool `gorm:"column:is_trashed;not null;default:false;index" json:"is_trashed"`
	IsFavorite bool `gorm:"column:is_favorite;not null;default:false" json:"is_favorite"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Image) TableName() string { return "images" }

// ImageChunk carries slices of the AI analysis text for retrieval.
type ImageChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ImageID    uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_image_chunks_image_idx,priority:1" json:"image_id"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	ChunkIndex int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_image_chunks_image_idx,priority:2" json:"chunk_index"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (ImageChunk) TableName() string { return "image_chunks" }
