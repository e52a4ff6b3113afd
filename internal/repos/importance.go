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

type ImportanceScoreRepo interface {
	UpsertBatch(dbc dbctx.Context, ownerID uuid.UUID, scores map[uuid.UUID]float64) error
	MapByOwner(dbc dbctx.Context, ownerID uuid.UUID) (map[uuid.UUID]float64, error)
	DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error
}

type importanceScoreRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImportanceScoreRepo(db *gorm.DB, baseLog *logger.Logger) ImportanceScoreRepo {
	return &importanceScoreRepo{
		db:  db,
		log: baseLog.With("repo", "ImportanceScoreRepo"),
	}
}

func (r *importanceScoreRepo) UpsertBatch(dbc dbctx.Context, ownerID uuid.UUID, scores map[uuid.UUID]float64) error {
	if ownerID == uuid.Nil || len(scores) == 0 {
		return nil
	}
	now := time.Now()
	rows := make([]*types.NexusImportanceScore, 0, len(scores))
	for noteID, score := range scores {
		rows = append(rows, &types.NexusImportanceScore{
			OwnerID:    ownerID,
			NoteID:     noteID,
			Score:      score,
			ComputedAt: now,
		})
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "note_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"score":       gorm.Expr("EXCLUDED.score"),
			"computed_at": now,
		}),
	}).CreateInBatches(rows, 200).Error
}

func (r *importanceScoreRepo) MapByOwner(dbc dbctx.Context, ownerID uuid.UUID) (map[uuid.UUID]float64, error) {
	out := map[uuid.UUID]float64{}
	if ownerID == uuid.Nil {
		return out, nil
	}
	var rows []*types.NexusImportanceScore
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.NoteID] = row.Score
	}
	return out, nil
}

func (r *importanceScoreRepo) DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND note_id = ?", ownerID, noteID).
		Delete(&types.NexusImportanceScore{}).Error
}
