package types

import (
	"time"

	"github.com/google/uuid"
)

// AIUsageLog is one billed LLM call. Local-provider calls are not logged.
type AIUsageLog struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_id"`
	Provider       string     `gorm:"column:provider;not null;index" json:"provider"`
	Model          string     `gorm:"column:model;not null" json:"model"`
	UseCase        string     `gorm:"column:use_case;not null;default:''" json:"use_case"`
	InputTokens    int        `gorm:"column:input_tokens;not null;default:0" json:"input_tokens"`
	OutputTokens   int        `gorm:"column:output_tokens;not null;default:0" json:"output_tokens"`
	EstimatedCost  float64    `gorm:"column:estimated_cost_usd;not null;default:0" json:"estimated_cost_usd"`
	ConversationID *uuid.UUID `gorm:"type:uuid;column:conversation_id" json:"conversation_id,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (AIUsageLog) TableName() string { return "ai_usage_logs" }
