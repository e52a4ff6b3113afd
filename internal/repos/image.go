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

type ImageRepo interface {
	Create(dbc dbctx.Context, img *types.Image) (*types.Image, error)
	GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Image, error)
	ListBySummaryNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.Image, error)
	List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Image, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error
	ResetStuckAnalyses(dbc dbctx.Context, olderThan time.Duration) (int64, error)
}

type imageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewImageRepo(db *gorm.DB, baseLog *logger.Logger) ImageRepo {
	return &imageRepo{
		db:  db,
		log: baseLog.With("repo", "ImageRepo"),
	}
}

func (r *imageRepo) Create(dbc dbctx.Context, img *types.Image) (*types.Image, error) {
	if img == nil {
		return nil, errors.New("image is nil")
	}
	if err := dbc.DB(r.db).Create(img).Error; err != nil {
		return nil, err
	}
	return img, nil
}

func (r *imageRepo) GetByID(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.Image, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var img types.Image
	err := dbc.DB(r.db).
		Where("owner_id = ? AND id = ?", ownerID, id).
		First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ListBySummaryNotes finds images whose generated summary note is one of
// noteIDs, for resolving a note's origin chain.
func (r *imageRepo) ListBySummaryNotes(dbc dbctx.Context, ownerID uuid.UUID, noteIDs []uuid.UUID) ([]*types.Image, error) {
	var out []*types.Image
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

func (r *imageRepo) List(dbc dbctx.Context, ownerID uuid.UUID, trashed bool) ([]*types.Image, error) {
	var out []*types.Image
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

func (r *imageRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return dbc.DB(r.db).
		Model(&types.Image{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *imageRepo) UpdateEmbedding(dbc dbctx.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Image{}).
		Where("id = ?", id).
		Update("embedding", embedding).Error
}

func (r *imageRepo) ResetStuckAnalyses(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res := dbc.DB(r.db).
		Model(&types.Image{}).
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
