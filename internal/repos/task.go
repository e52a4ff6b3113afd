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

type BackgroundTaskRepo interface {
	Create(dbc dbctx.Context, tasks []*types.BackgroundTask) ([]*types.BackgroundTask, error)
	GetByIDForOwner(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.BackgroundTask, error)
	ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, backoffBase time.Duration, staleRunning time.Duration) (*types.BackgroundTask, error)
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	HasRunnableForEntity(dbc dbctx.Context, ownerID uuid.UUID, taskType string, entityID uuid.UUID) (bool, error)
	ResetStuckProcessing(dbc dbctx.Context, olderThan time.Duration) (int64, error)
}

type backgroundTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBackgroundTaskRepo(db *gorm.DB, baseLog *logger.Logger) BackgroundTaskRepo {
	return &backgroundTaskRepo{
		db:  db,
		log: baseLog.With("repo", "BackgroundTaskRepo"),
	}
}

func (r *backgroundTaskRepo) Create(dbc dbctx.Context, tasks []*types.BackgroundTask) ([]*types.BackgroundTask, error) {
	if len(tasks) == 0 {
		return []*types.BackgroundTask{}, nil
	}
	if err := dbc.DB(r.db).Create(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

func (r *backgroundTaskRepo) GetByIDForOwner(dbc dbctx.Context, ownerID, id uuid.UUID) (*types.BackgroundTask, error) {
	if ownerID == uuid.Nil || id == uuid.Nil {
		return nil, nil
	}
	var task types.BackgroundTask
	err := dbc.DB(r.db).Where("owner_id = ? AND id = ?", ownerID, id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ClaimNextRunnable picks the oldest task that is queued, retryable-failed
// past its backoff window, or processing with a stale heartbeat, locks it
// with FOR UPDATE SKIP LOCKED, and transitions it to processing in the same
// transaction. Failed tasks wait backoffBase x attempts before becoming
// claimable again, so each retry backs off further than the last.
func (r *backgroundTaskRepo) ClaimNextRunnable(dbc dbctx.Context, maxAttempts int, backoffBase time.Duration, staleRunning time.Duration) (*types.BackgroundTask, error) {
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	backoffSecs := int(backoffBase.Seconds())
	var claimed *types.BackgroundTask
	err := dbc.DB(r.db).Transaction(func(txx *gorm.DB) error {
		var task types.BackgroundTask
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND retryable = TRUE
            AND attempts < ?
            AND (last_error_at IS NULL OR last_error_at < NOW() - make_interval(secs => ? * attempts))
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.TaskQueued, types.TaskFailed, maxAttempts, backoffSecs, types.TaskProcessing, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&task).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.BackgroundTask{}).
			Where("id = ?", task.ID).
			Updates(map[string]interface{}{
				"status":       types.TaskProcessing,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		task.Attempts++
		claimed = &task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateFieldsUnlessStatus applies updates only when the row is not in one
// of the disallowed statuses; canceled tasks stay canceled.
func (r *backgroundTaskRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	q := dbc.DB(r.db).
		Model(&types.BackgroundTask{}).
		Where("id = ?", id)
	if len(disallowedStatuses) == 1 {
		q = q.Where("status <> ?", disallowedStatuses[0])
	} else if len(disallowedStatuses) > 1 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *backgroundTaskRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return dbc.DB(r.db).
		Model(&types.BackgroundTask{}).
		Where("id = ? AND status = ?", id, types.TaskProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// HasRunnableForEntity reports whether an equivalent task is already queued
// or in flight, so enqueuers can avoid duplicates.
func (r *backgroundTaskRepo) HasRunnableForEntity(dbc dbctx.Context, ownerID uuid.UUID, taskType string, entityID uuid.UUID) (bool, error) {
	if ownerID == uuid.Nil || taskType == "" {
		return false, nil
	}
	q := dbc.DB(r.db).
		Model(&types.BackgroundTask{}).
		Where("owner_id = ? AND task_type = ? AND status IN ?",
			ownerID, taskType, []string{types.TaskQueued, types.TaskProcessing})
	if entityID != uuid.Nil {
		q = q.Where("entity_id = ?", entityID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ResetStuckProcessing fails any task stuck in processing past the
// threshold so the claim query can pick it up again.
func (r *backgroundTaskRepo) ResetStuckProcessing(dbc dbctx.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	now := time.Now()
	res := dbc.DB(r.db).
		Model(&types.BackgroundTask{}).
		Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", types.TaskProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":        types.TaskFailed,
			"error":         "task stuck in processing; reset by recovery",
			"error_kind":    "stuck",
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
