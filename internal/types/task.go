package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
	TaskCanceled   = "canceled"
)

// Task types the worker knows how to run.
const (
	TaskDocumentAnalyze     = "document_analyze"
	TaskDocumentEmbed       = "document_embed"
	TaskImageAnalyze        = "image_analyze"
	TaskNoteEmbed           = "note_embed"
	TaskBrainBuild          = "brain_build"
	TaskBrainIncremental    = "brain_incremental"
	TaskMemoryEvolve        = "memory_evolve"
	TaskConversationSummary = "conversation_summary"
	TaskConsolidation       = "consolidation"
)

// BackgroundTask is one durable queue row. Workers claim runnable rows with
// FOR UPDATE SKIP LOCKED; Retryable separates transient failures (eligible
// for backoff retry) from permanent ones.
type BackgroundTask struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	TaskType   string     `gorm:"column:task_type;not null;index" json:"task_type"`
	EntityType string     `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID   *uuid.UUID `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`

	Status    string `gorm:"column:status;not null;default:'queued';index" json:"status"`
	Stage     string `gorm:"column:stage;not null;default:''" json:"stage"`
	Progress  int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts  int    `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Retryable bool   `gorm:"column:retryable;not null;default:true" json:"retryable"`

	Error     string `gorm:"column:error" json:"error,omitempty"`
	ErrorKind string `gorm:"column:error_kind" json:"error_kind,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (BackgroundTask) TableName() string { return "background_tasks" }
