package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

type UsageLogRepo interface {
	Create(dbc dbctx.Context, row *types.AIUsageLog) error
	ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) ([]*types.AIUsageLog, error)
	TotalCost(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) (float64, error)
}

type usageLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUsageLogRepo(db *gorm.DB, baseLog *logger.Logger) UsageLogRepo {
	return &usageLogRepo{
		db:  db,
		log: baseLog.With("repo", "UsageLogRepo"),
	}
}

func (r *usageLogRepo) Create(dbc dbctx.Context, row *types.AIUsageLog) error {
	if row == nil {
		return errors.New("usage log is nil")
	}
	return dbc.DB(r.db).Create(row).Error
}

func (r *usageLogRepo) ListByOwner(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) ([]*types.AIUsageLog, error) {
	var out []*types.AIUsageLog
	if ownerID == uuid.Nil {
		return out, nil
	}
	q := dbc.DB(r.db).Where("owner_id = ?", ownerID)
	if since > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-since))
	}
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *usageLogRepo) TotalCost(dbc dbctx.Context, ownerID uuid.UUID, since time.Duration) (float64, error) {
	if ownerID == uuid.Nil {
		return 0, nil
	}
	var total float64
	q := dbc.DB(r.db).
		Model(&types.AIUsageLog{}).
		Where("owner_id = ?", ownerID)
	if since > 0 {
		q = q.Where("created_at >= ?", time.Now().Add(-since))
	}
	err := q.Select("COALESCE(SUM(estimated_cost_usd), 0)").Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
