package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// NoteLink is a directed wikilink edge resolved from [[Title]] markers.
// One row per ordered (source, target) pair.
type NoteLink struct {
	ID           uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	SourceNoteID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_note_links_pair,priority:1" json:"source_note_id"`
	TargetNoteID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_note_links_pair,priority:2" json:"target_note_id"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (NoteLink) TableName() string { return "note_links" }

const (
	EntityNote          = "note"
	EntityChunk         = "chunk"
	EntityDocument      = "document"
	EntityDocumentChunk = "document_chunk"
	EntityImage         = "image"
)

// SemanticEdge is an undirected similarity edge. Rows are stored with the
// canonical ordering SourceID < TargetID (string compare) so each pair
// appears once.
type SemanticEdge struct {
	ID         uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_id"`
	SourceID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_semantic_edges_pair,priority:1" json:"source_id"`
	TargetID   uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_semantic_edges_pair,priority:2" json:"target_id"`
	SourceType string    `gorm:"column:source_type;not null;default:'note'" json:"source_type"`
	TargetType string    `gorm:"column:target_type;not null;default:'note'" json:"target_type"`

	SimilarityScore float64 `gorm:"column:similarity_score;not null;default:0" json:"similarity_score"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (SemanticEdge) TableName() string { return "semantic_edges" }

// CommunityMetadata describes one cluster from the latest consolidation run.
// Community IDs are stable within a run but may renumber across runs.
type CommunityMetadata struct {
	ID          uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID     uuid.UUID      `gorm:"type:uuid;not null;index;uniqueIndex:idx_community_owner_cid,priority:1" json:"owner_id"`
	CommunityID int            `gorm:"column:community_id;not null;uniqueIndex:idx_community_owner_cid,priority:2" json:"community_id"`
	Label       string         `gorm:"column:label" json:"label,omitempty"`
	NodeCount   int            `gorm:"column:node_count;not null;default:0" json:"node_count"`
	TopTerms    datatypes.JSON `gorm:"column:top_terms;type:jsonb;not null;default:'[]'" json:"top_terms"`
	CenterX     float64        `gorm:"column:center_x;not null;default:0" json:"center_x"`
	CenterY     float64        `gorm:"column:center_y;not null;default:0" json:"center_y"`

	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (CommunityMetadata) TableName() string { return "community_metadata" }

// GraphPosition caches a note's (x, y) for the map view.
type GraphPosition struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerID  uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_graph_positions_owner_note,priority:1" json:"owner_id"`
	NoteID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_graph_positions_owner_note,priority:2" json:"note_id"`
	X        float64   `gorm:"column:x;not null;default:0" json:"x"`
	Y        float64   `gorm:"column:y;not null;default:0" json:"y"`
	IsPinned bool      `gorm:"column:is_pinned;not null;default:false" json:"is_pinned"`

	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (GraphPosition) TableName() string { return "graph_positions" }
