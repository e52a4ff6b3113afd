package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type LinkSuggestionRepo interface {
	UpsertPending(dbc dbctx.Context, suggestions []*types.NexusLinkSuggestion) error
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.NexusLinkSuggestion, error)
	ListByStatus(dbc dbctx.Context, ownerID uuid.UUID, status string) ([]*types.NexusLinkSuggestion, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error
}

type linkSuggestionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewLinkSuggestionRepo(db *gorm.DB, baseLog *logger.Logger) LinkSuggestionRepo {
	return &linkSuggestionRepo{
		db:  db,
		log: baseLog.With("repo", "LinkSuggestionRepo"),
	}
}

// UpsertPending inserts suggestions, refreshing only the similarity of rows
// still pending. Accepted or dismissed decisions are never overwritten.
func (r *linkSuggestionRepo) UpsertPending(dbc dbctx.Context, suggestions []*types.NexusLinkSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "source_note_id"}, {Name: "target_note_id"}},
		Where: clause.Where{
			Exprs: []clause.Expression{
				gorm.Expr("nexus_link_suggestions.status = ?", types.SuggestionPending),
			},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"similarity": gorm.Expr("EXCLUDED.similarity"),
			"updated_at": time.Now(),
		}),
	}).CreateInBatches(suggestions, 100).Error
}

func (r *linkSuggestionRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.NexusLinkSuggestion, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var row types.NexusLinkSuggestion
	err := dbc.DB(r.db).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *linkSuggestionRepo) ListByStatus(dbc dbctx.Context, ownerID uuid.UUID, status string) ([]*types.NexusLinkSuggestion, error) {
	var out []*types.NexusLinkSuggestion
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Order("similarity DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *linkSuggestionRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	if id == uuid.Nil || status == "" {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.NexusLinkSuggestion{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		}).Error
}

func (r *linkSuggestionRepo) DeleteForNote(dbc dbctx.Context, ownerID, noteID uuid.UUID) error {
	if ownerID == uuid.Nil || noteID == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND (source_note_id = ? OR target_note_id = ?)", ownerID, noteID, noteID).
		Delete(&types.NexusLinkSuggestion{}).Error
}
