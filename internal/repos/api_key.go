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

type UserAPIKeyRepo interface {
	Upsert(dbc dbctx.Context, key *types.UserAPIKey) (*types.UserAPIKey, error)
	GetByProvider(dbc dbctx.Context, ownerID uuid.UUID, provider string) (*types.UserAPIKey, error)
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.UserAPIKey, error)
	Delete(dbc dbctx.Context, ownerID uuid.UUID, provider string) error
}

type userAPIKeyRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserAPIKeyRepo(db *gorm.DB, baseLog *logger.Logger) UserAPIKeyRepo {
	return &userAPIKeyRepo{
		db:  db,
		log: baseLog.With("repo", "UserAPIKeyRepo"),
	}
}

func (r *userAPIKeyRepo) Upsert(dbc dbctx.Context, key *types.UserAPIKey) (*types.UserAPIKey, error) {
	if key == nil {
		return nil, errors.New("api key is nil")
	}
	err := dbc.DB(r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "provider"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"encrypted_key": key.EncryptedKey,
			"base_url":      key.BaseURL,
			"is_active":     key.IsActive,
			"updated_at":    time.Now(),
		}),
	}).Create(key).Error
	if err != nil {
		return nil, err
	}
	return key, nil
}

func (r *userAPIKeyRepo) GetByProvider(dbc dbctx.Context, ownerID uuid.UUID, provider string) (*types.UserAPIKey, error) {
	if ownerID == uuid.Nil || provider == "" {
		return nil, nil
	}
	var key types.UserAPIKey
	err := dbc.DB(r.db).
		Where("owner_id = ? AND provider = ?", ownerID, provider).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (r *userAPIKeyRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID) ([]*types.UserAPIKey, error) {
	var out []*types.UserAPIKey
	if ownerID == uuid.Nil {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("owner_id = ?", ownerID).
		Order("provider ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *userAPIKeyRepo) Delete(dbc dbctx.Context, ownerID uuid.UUID, provider string) error {
	if ownerID == uuid.Nil || provider == "" {
		return nil
	}
	return dbc.DB(r.db).
		Where("owner_id = ? AND provider = ?", ownerID, provider).
		Delete(&types.UserAPIKey{}).Error
}
