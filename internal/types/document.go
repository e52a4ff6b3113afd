package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// AI analysis lifecycle shared by documents and images.
const (
	AnalysisQueued      = "queued"
	AnalysisProcessing  = "processing"
	AnalysisNeedsReview = "needs_review"
	AnalysisCompleted   = "completed"
	AnalysisFailed      = "failed"
)

type Document struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID  uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title    string    `gorm:"column:title;not null" json:"title"`
	Filepath string    `gorm:"column:filepath;not null" json:"filepath"`
	MimeType string    `gorm:"column:mime_type" json:"mime_type"`
	FileSize int64     `gorm:"column:file_size;not null;default:0" json:"file_size"`

	ExtractedText string `gorm:"column:extracted_text;type:text" json:"-"`
	PageCount     int    `gorm:"column:page_count;not null;default:0" json:"page_count"`

	AISummary          string         `gorm:"column:ai_summary;type:text" json:"ai_summary,omitempty"`
	SuggestedTags      datatypes.JSON `gorm:"column:suggested_tags;type:jsonb;not null;default:'[]'" json:"suggested_tags"`
	SuggestedWikilinks datatypes.JSON `gorm:"column:suggested_wikilinks;type:jsonb;not null;default:'[]'" json:"suggested_wikilinks"`
	AIAnalysisStatus   string         `gorm:"column:ai_analysis_status;not null;default:'queued';index" json:"ai_analysis_status"`
	AIAnalysisError    string         `gorm:"column:ai_analysis_error" json:"ai_analysis_error,omitempty"`
	AIAnalysisStarted  *time.Time     `gorm:"column:ai_analysis_started" json:"-"`

	// Set when enrichment generated a summary note for this document.
	SummaryNoteID *uuid.UUID `gorm:"type:uuid;column:summary_note_id" json:"summary_note_id,omitempty"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	IsTrashed bool `gorm:"column:is_trashed;not null;default:false;index" json:"is_trashed"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// DocumentChunk exists only when extraction succeeded; PageNumber is the
// 1-based page the chunk came from (0 when the source had no page markers).
type DocumentChunk struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	DocumentID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_document_chunks_doc_idx,priority:1" json:"document_id"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	ChunkIndex int       `gorm:"column:chunk_index;not null;uniqueIndex:idx_document_chunks_doc_idx,priority:2" json:"chunk_index"`
	ChunkType  string    `gorm:"column:chunk_type;not null;default:'paragraph'" json:"chunk_type"`
	PageNumber int       `gorm:"column:page_number;not null;default:0" json:"page_number"`
	CharStart  int       `gorm:"column:char_start;not null;default:0" json:"char_start"`
	CharEnd    int       `gorm:"column:char_end;not null;default:0" json:"char_end"`

	Embedding *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (DocumentChunk) TableName() string { return "document_chunks" }
