package repos

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type CommunityRepo interface {
	ReplaceForOwner(dbc dbctx.Context, ownerID uuid.UUID, rows []*types.CommunityMetadata) error
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.CommunityMetadata, error)
}

type communityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCommunityRepo(db *gorm.DB, baseLog *logger.Logger) CommunityRepo {
	return &communityRepo{
		db:  db,
		log: baseLog.With("repo", "CommunityRepo"),
	}
}

// ReplaceForOwner swaps the whole community set. Community numbering is only
// stable within one consolidation run, so partial updates are meaningless.
func (r *communityRepo) ReplaceForOwner(dbc dbctx.Context, ownerID uuid.UUID, rows []*types.CommunityMetadata) error {
	if ownerID == uuid.Nil {
		return nil
	}
	db := dbc.DB(r.db)
	if err := db.Where("owner_id = ?", ownerID).Delete(&types.CommunityMetadata{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return db.CreateInBatches(rows, 100).Error
}

func (r *communityRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.CommunityMetadata, error) {
	var out []*types.CommunityMetadata
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("node_count DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
