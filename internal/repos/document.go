package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type DocumentRepo interface {
	Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error)
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Document, error)
	ListBySummaryNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.Document, error)
	List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Document, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error
	ResetStuckAnalyses(dbc dbctx.Context, olderThan time.Duration) (int64, error)
}

type documentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDocumentRepo(db *gorm.DB, baseLog *logger.Logger) DocumentRepo {
	return &documentRepo{
		db:  db,
		log: baseLog.With("repo", "DocumentRepo"),
	}
}

func (r *documentRepo) Create(dbc dbctx.Context, doc *types.Document) (*types.Document, error) {
	if doc == nil {
		return nil, errors.New("document is nil")
	}
	if err := dbc.DB(r.db).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *documentRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Document, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var doc types.Document
	err := dbc.DB(r.db).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListBySummaryNotes finds documents whose generated summary note is one of
// noteIDs, for resolving a note's origin chain.
func (r *documentRepo) ListBySummaryNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.Document, error) {
	var out []*types.Document
	if ownerID == uuid.Nil || len(noteIDs) == 0 {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND summary_note_id IN ?", ownerID, noteIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Document, error) {
	var out []*types.Document
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ? AND is_trashed = ?", ownerID, trashed).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *documentRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.Document{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *documentRepo) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Document{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}

// ResetStuckAnalyses re-queues documents whose analysis started but never
// finished, so a crashed worker cannot strand them in processing forever.
func (r *documentRepo) ResetStuckAnalyses(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := dbc.DB(r.db).
		Model(&types.Document{}).
		Where("ai_analysis_status = ? AND ai_analysis_started IS NOT NULL AND ai_analysis_started < ?",
			types.AnalysisProcessing, cutoff).
		Updates(map[string]interface{}{
			"ai_analysis_status": types.AnalysisQueued,
			"updated_at":         time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
