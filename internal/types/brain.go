package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

const (
	BrainFileSoul        = "soul"
	BrainFileMnemosyne   = "mnemosyne"
	BrainFileMemory      = "memory"
	BrainFileUserProfile = "user_profile"
	BrainFileAskimap     = "askimap"
	BrainFileTopic       = "topic"
)

// BrainFile is one synthesized knowledge artifact. Topics carry the notes
// they were built from; core files (soul, memory) survive rebuilds when the
// user has edited them.
type BrainFile struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID  uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_brain_files_owner_key,priority:1" json:"owner_id"`
	FileKey  string    `gorm:"column:file_key;not null;uniqueIndex:idx_brain_files_owner_key,priority:2" json:"file_key"`
	FileType string    `gorm:"column:file_type;not null;index" json:"file_type"`
	Title    string    `gorm:"column:title;not null;default:''" json:"title"`
	Content  string    `gorm:"column:content;type:text;not null;default:''" json:"content"`

	CompressedContent    string `gorm:"column:compressed_content;type:text" json:"compressed_content,omitempty"`
	CompressedTokenCount int    `gorm:"column:compressed_token_count;not null;default:0" json:"compressed_token_count"`

	CommunityID   *int           `gorm:"column:community_id" json:"community_id,omitempty"`
	TopicKeywords datatypes.JSON `gorm:"column:topic_keywords;type:jsonb;not null;default:'[]'" json:"topic_keywords"`
	SourceNoteIDs datatypes.JSON `gorm:"column:source_note_ids;type:jsonb;not null;default:'[]'" json:"source_note_ids"`

	TokenCountApprox int              `gorm:"column:token_count_approx;not null;default:0" json:"token_count_approx"`
	Embedding        *pgvector.Vector `gorm:"column:embedding;type:vector(768)" json:"-"`

	ContentHash  string `gorm:"column:content_hash;not null;default:''" json:"content_hash"`
	Version      int    `gorm:"column:version;not null;default:1" json:"version"`
	IsStale      bool   `gorm:"column:is_stale;not null;default:false;index" json:"is_stale"`
	IsUserEdited bool   `gorm:"column:is_user_edited;not null;default:false" json:"is_user_edited"`
	IsPinned     bool   `gorm:"column:is_pinned;not null;default:false" json:"is_pinned"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (BrainFile) TableName() string { return "brain_files" }

const (
	BuildQueued     = "queued"
	BuildProcessing = "processing"
	BuildCompleted  = "completed"
	BuildFailed     = "failed"
)

const (
	BuildTypeFull        = "full"
	BuildTypeIncremental = "incremental"
)

// BrainBuildLog tracks one full or incremental build with live progress.
type BrainBuildLog struct {
	ID          uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID     uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	BuildType   string    `gorm:"column:build_type;not null;default:'full'" json:"build_type"`
	Status      string    `gorm:"column:status;not null;default:'queued';index" json:"status"`
	ProgressPct int       `gorm:"column:progress_pct;not null;default:0" json:"progress_pct"`
	CurrentStep string    `gorm:"column:current_step;not null;default:''" json:"current_step"`
	Error       string    `gorm:"column:error" json:"error,omitempty"`

	NotesProcessed int `gorm:"column:notes_processed;not null;default:0" json:"notes_processed"`
	TopicsCreated  int `gorm:"column:topics_created;not null;default:0" json:"topics_created"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
}

func (BrainBuildLog) TableName() string { return "brain_build_logs" }

// BrainConversation is the separate history track for brain chat.
// MessagesSinceSummary drives the rolling conversation summary job.
type BrainConversation struct {
	ID                   uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID              uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title                string    `gorm:"column:title;not null;default:''" json:"title"`
	Summary              string    `gorm:"column:summary;type:text" json:"summary,omitempty"`
	MessagesSinceSummary int       `gorm:"column:messages_since_summary;not null;default:0" json:"messages_since_summary"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (BrainConversation) TableName() string { return "brain_conversations" }

type BrainMessage struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	OwnerID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Role           string         `gorm:"column:role;not null" json:"role"`
	Content        string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Model          string         `gorm:"column:model" json:"model,omitempty"`
	Status         string         `gorm:"column:status;not null;default:'complete'" json:"status"`
	ErrorType      string         `gorm:"column:error_type" json:"error_type,omitempty"`
	BrainFilesLoaded datatypes.JSON `gorm:"column:brain_files_loaded;type:jsonb;not null;default:'[]'" json:"brain_files_loaded"`
	TopicsMatched    datatypes.JSON `gorm:"column:topics_matched;type:jsonb;not null;default:'[]'" json:"topics_matched"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (BrainMessage) TableName() string { return "brain_messages" }
