package repos

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type SemanticEdgeRepo interface {
	UpsertBatch(dbc dbctx.Context, edges []*types.SemanticEdge) error
	ListNoteEdges(dbc dbctx.Context, ownerID uuid.UUID, minScore float64) ([]*types.SemanticEdge, error)
	DeleteForEntity(dbc dbctx.Context, ownerID, entityID uuid.UUID) error
	DeleteNotIn(dbc dbctx.Context, ownerID uuid.UUID, keepPairs map[[2]uuid.UUID]bool) error
}

type semanticEdgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSemanticEdgeRepo(db *gorm.DB, baseLog *logger.Logger) SemanticEdgeRepo {
	return &semanticEdgeRepo{
		db:  db,
		log: baseLog.With("repo", "SemanticEdgeRepo"),
	}
}

// UpsertBatch writes edges, refreshing the score of any existing pair.
// Callers must pass pairs in canonical order (SourceID < TargetID).
func (r *semanticEdgeRepo) UpsertBatch(dbc dbctx.Context, edges []*types.SemanticEdge) error {
	if len(edges) == 0 {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "target_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"similarity_score": gorm.Expr("EXCLUDED.similarity_score"),
			"updated_at":       time.Now(),
		}),
	}).CreateInBatches(edges, 100).Error
}

// ListNoteEdges returns note-to-note edges at or above minScore whose
// endpoints are both live.
func (r *semanticEdgeRepo) ListNoteEdges(dbc dbctx.Context, ownerID uuid.UUID, minScore float64) ([]*types.SemanticEdge, error) {
	var out []*types.SemanticEdge
	if ownerID == uuid.Nil {
		return out, nil
	}
	err := dbc.DB(r.db).Raw(`
		SELECT se.* FROM semantic_edges se
		JOIN notes s ON s.id = se.source_id AND s.is_trashed = FALSE
		JOIN notes t ON t.id = se.target_id AND t.is_trashed = FALSE
		WHERE se.owner_id = ?
		  AND se.source_type = 'note' AND se.target_type = 'note'
		  AND se.similarity_score >= ?
	`, ownerID, minScore).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteForEntity removes every edge touching the entity, in either
// direction. Trash uses it so a hidden note stops influencing the graph.
func (r *semanticEdgeRepo) DeleteForEntity(dbc dbctx.Context, ownerID, entityID uuid.UUID) error {
	if ownerID == uuid.Nil || entityID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND (source_id = ? OR target_id = ?)", ownerID, entityID, entityID).
		Delete(&types.SemanticEdge{}).Error
}

// DeleteNotIn prunes note edges absent from the freshly computed pair set,
// so similarities that dropped under the threshold disappear.
func (r *semanticEdgeRepo) DeleteNotIn(dbc dbctx.Context, ownerID uuid.UUID, keepPairs map[[2]uuid.UUID]bool) error {
	if ownerID == uuid.Nil {
		return nil
	}
	existing, err := r.ListNoteEdges(dbc, ownerID, 0)
	if err != nil {
		return err
	}
	var stale []uuid.UUID
	for _, edge := range existing {
		if !keepPairs[[2]uuid.UUID{edge.SourceID, edge.TargetID}] {
			stale = append(stale, edge.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Where("id IN ?", stale).
		Delete(&types.SemanticEdge{}).Error
}
