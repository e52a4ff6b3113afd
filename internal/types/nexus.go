package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CacheCommunityMap = "community_map"
	CacheTagOverview  = "tag_overview"
)

// NexusNavigationCache holds the compact text blobs the graph navigator
// feeds to the LLM. Version increases monotonically per rebuild.
type NexusNavigationCache struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_nav_cache_owner_type,priority:1" json:"owner_id"`
	CacheType string    `gorm:"column:cache_type;not null;uniqueIndex:idx_nav_cache_owner_type,priority:2" json:"cache_type"`
	Content   string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	Version   int       `gorm:"column:version;not null;default:1" json:"version"`

	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (NexusNavigationCache) TableName() string { return "nexus_navigation_cache" }

// NexusImportanceScore is the per-note PageRank written by consolidation.
type NexusImportanceScore struct {
	ID      uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_importance_owner_note,priority:1" json:"owner_id"`
	NoteID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_importance_owner_note,priority:2" json:"note_id"`
	Score   float64   `gorm:"column:score;not null;default:0" json:"score"`

	ComputedAt time.Time `gorm:"column:computed_at;not null;default:now()" json:"computed_at"`
}

func (NexusImportanceScore) TableName() string { return "nexus_importance_scores" }

const (
	SuggestionPending   = "pending"
	SuggestionAccepted  = "accepted"
	SuggestionDismissed = "dismissed"
)

// NexusLinkSuggestion is a candidate missing wikilink found during
// consolidation. User decisions (accepted/dismissed) are never overwritten.
type NexusLinkSuggestion struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_link_suggestion_pair,priority:1" json:"owner_id"`
	SourceNoteID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_link_suggestion_pair,priority:2" json:"source_note_id"`
	TargetNoteID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_link_suggestion_pair,priority:3" json:"target_note_id"`
	Similarity   float64   `gorm:"column:similarity;not null;default:0" json:"similarity"`
	Status       string    `gorm:"column:status;not null;default:'pending';index" json:"status"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (NexusLinkSuggestion) TableName() string { return "nexus_link_suggestions" }

// NexusAccessPattern records which notes a query surfaced together. The
// context assembler mines it for co_retrieval insights.
type NexusAccessPattern struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	QueryText     string         `gorm:"column:query_text;type:text;not null" json:"query_text"`
	ResultNoteIDs datatypes.JSON `gorm:"column:result_note_ids;type:jsonb;not null;default:'[]'" json:"result_note_ids"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (NexusAccessPattern) TableName() string { return "nexus_access_patterns" }
