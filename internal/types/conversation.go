package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"

	MessageStatusComplete = "complete"
	MessageStatusPartial  = "partial"
	MessageStatusError    = "error"
)

// Conversation is the NEXUS chat session history.
type Conversation struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	Title   string    `gorm:"column:title;not null;default:''" json:"title"`
	Model   string    `gorm:"column:model" json:"model,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now();index" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Conversation) TableName() string { return "conversations" }

type ChatMessage struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"conversation_id"`
	OwnerID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	Role           string         `gorm:"column:role;not null" json:"role"`
	Content        string         `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Model          string         `gorm:"column:model" json:"model,omitempty"`
	Status         string         `gorm:"column:status;not null;default:'complete'" json:"status"`
	ErrorType      string         `gorm:"column:error_type" json:"error_type,omitempty"`
	Metadata       datatypes.JSON `gorm:"column:metadata;type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// MessageCitation is the minimal retrieval lineage per assistant message.
type MessageCitation struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	SourceType string    `gorm:"column:source_type;not null" json:"source_type"`
	SourceID   uuid.UUID `gorm:"type:uuid;not null" json:"source_id"`
	Similarity float64   `gorm:"column:similarity;not null;default:0" json:"similarity"`
	Snippet    string    `gorm:"column:snippet;type:text" json:"snippet,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (MessageCitation) TableName() string { return "message_citations" }

const (
	OriginManual           = "manual"
	OriginImageAnalysis    = "image_analysis"
	OriginDocumentAnalysis = "document_analysis"
)

// NexusCitation is the rich per-assistant-message citation record: where the
// source came from, its community context, direct wikilinks, and graph paths
// to co-cited sources.
type NexusCitation struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	MessageID uuid.UUID `gorm:"type:uuid;not null;index" json:"message_id"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`

	Rank            int     `gorm:"column:rank;not null;default:0" json:"rank"`
	SourceType      string  `gorm:"column:source_type;not null" json:"source_type"`
	SourceID        uuid.UUID `gorm:"type:uuid;not null" json:"source_id"`
	Title           string  `gorm:"column:title" json:"title"`
	Preview         string  `gorm:"column:preview;type:text" json:"preview"`
	URL             string  `gorm:"column:url" json:"url"`
	Score           float64 `gorm:"column:score;not null;default:0" json:"score"`
	RetrievalMethod string  `gorm:"column:retrieval_method" json:"retrieval_method"`

	OriginType string     `gorm:"column:origin_type;not null;default:'manual'" json:"origin_type"`
	OriginID   *uuid.UUID `gorm:"type:uuid;column:origin_id" json:"origin_id,omitempty"`

	CommunityID   *int   `gorm:"column:community_id" json:"community_id,omitempty"`
	CommunityName string `gorm:"column:community_name" json:"community_name,omitempty"`

	Wikilinks       datatypes.JSON `gorm:"column:wikilinks;type:jsonb;not null;default:'[]'" json:"wikilinks"`
	ConnectionPaths datatypes.JSON `gorm:"column:connection_paths;type:jsonb;not null;default:'[]'" json:"connection_paths"`

	WasUsed bool `gorm:"column:was_used;not null;default:false" json:"was_used"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NexusCitation) TableName() string { return "nexus_citations" }
