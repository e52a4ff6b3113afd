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

type GraphPositionRepo interface {
	UpsertComputed(dbc dbctx.Context, positions []*types.GraphPosition) error
	Pin(dbc dbctx.Context, ownerID, noteID uuid.UUID, x, y float64) error
	Unpin(dbc dbctx.Context, ownerID, noteID uuid.UUID) error
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.GraphPosition, error)
	DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error
}

type graphPositionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGraphPositionRepo(db *gorm.DB, baseLog *logger.Logger) GraphPositionRepo {
	return &graphPositionRepo{
		db:  db,
		log: baseLog.With("repo", "GraphPositionRepo"),
	}
}

// UpsertComputed writes layout output without disturbing user-pinned rows.
func (r *graphPositionRepo) UpsertComputed(dbc dbctx.Context, positions []*types.GraphPosition) error {
	if len(positions) == 0 {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "note_id"}},
		Where:   clause.Where{Exprs: []clause.Expression{gorm.Expr("graph_positions.is_pinned = FALSE")}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"x":          gorm.Expr("EXCLUDED.x"),
			"y":          gorm.Expr("EXCLUDED.y"),
			"updated_at": time.Now(),
		}),
	}).CreateInBatches(positions, 200).Error
}

func (r *graphPositionRepo) Pin(dbc dbctx.Context, ownerID, noteID uuid.UUID, x, y float64) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	row := &types.GraphPosition{OwnerID: ownerID, NoteID: noteID, X: x, Y: y, IsPinned: true}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "note_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"x":          x,
			"y":          y,
			"is_pinned":  true,
			"updated_at": time.Now(),
		}),
	}).Create(row).Error
}

func (r *graphPositionRepo) Unpin(dbc dbctx.Context, ownerID, noteID uuid.UUID) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.GraphPosition{}).
		Where("owner_id = ? AND note_id = ?", ownerID, noteID).
		Updates(map[string]interface{}{
			"is_pinned":  false,
			"updated_at": time.Now(),
		}).Error
}

func (r *graphPositionRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.GraphPosition, error) {
	var out []*types.GraphPosition
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *graphPositionRepo) DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND note_id = ?", ownerID, noteID).
		Delete(&types.GraphPosition{}).Error
}
