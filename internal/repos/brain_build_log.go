package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type BrainBuildLogRepo interface {
	Create(dbc dbctx.Context, log *types.BrainBuildLog) (*types.BrainBuildLog, error)
	GetLatest(dbc dbctx.Context, ownerID uuid.UUID) (*types.BrainBuildLog, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type brainBuildLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBrainBuildLogRepo(db *gorm.DB, baseLog *logger.Logger) BrainBuildLogRepo {
	return &brainBuildLogRepo{
		db:  db,
		log: baseLog.With("repo", "BrainBuildLogRepo"),
	}
}

func (r *brainBuildLogRepo) Create(dbc dbctx.Context, log *types.BrainBuildLog) (*types.BrainBuildLog, error) {
	if log == nil {
		return nil, errors.New("build log is nil")
	}
	if err := dbc.DB(r.db).Create(log).Error; err != nil {
		return nil, err
	}
	return log, nil
}

func (r *brainBuildLogRepo) GetLatest(dbc dbctx.Context, ownerID uuid.UUID) (*types.BrainBuildLog, error) {
	if ownerID == uuid.Nil {
		return nil, nil
	}
	var row types.BrainBuildLog
	err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *brainBuildLogRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.BrainBuildLog{}).
		Where("id = ?", id).
		Updates(updates).Error
}
