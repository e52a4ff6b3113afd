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

type NavigationCacheRepo interface {
	Get(dbc dbctx.Context, ownerID uuid.UUID, cacheType string) (*types.NexusNavigationCache, error)
	Upsert(dbc dbctx.Context, ownerID uuid.UUID, cacheType, content string) error
}

type navigationCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNavigationCacheRepo(db *gorm.DB, baseLog *logger.Logger) NavigationCacheRepo {
	return &navigationCacheRepo{
		db:  db,
		log: baseLog.With("repo", "NavigationCacheRepo"),
	}
}

func (r *navigationCacheRepo) Get(dbc dbctx.Context, ownerID uuid.UUID, cacheType string) (*types.NexusNavigationCache, error) {
	if ownerID == uuid.Nil || cacheType == "" {
		return nil, nil
	}
	var row types.NexusNavigationCache
	err := dbc.DB(r.db).
		Where("owner_id = ? AND cache_type = ?", ownerID, cacheType).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert replaces the cached blob and bumps its version on every rewrite.
func (r *navigationCacheRepo) Upsert(dbc dbctx.Context, ownerID uuid.UUID, cacheType, content string) error {
	if ownerID == uuid.Nil || cacheType == "" {
		return nil
	}
	row := &types.NexusNavigationCache{
		OwnerID:   ownerID,
		CacheType: cacheType,
		Content:   content,
		Version:   1,
	}
	return dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "cache_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"content":    content,
			"version":    gorm.Expr("nexus_navigation_cache.version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(row).Error
}
