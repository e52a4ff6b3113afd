package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// TaskService is the single intake for user-triggered background work. It
// dedupes against runnable rows for the same entity, inserts the queue row,
// and fires the task_created event so clients can show progress immediately.
type TaskService interface {
	Enqueue(ctx context.Context, ownerID uuid.UUID, taskType, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.BackgroundTask, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*types.BackgroundTask, error)
}

type taskService struct {
	tasks    repos.BackgroundTaskRepo
	notifier tasks.Notifier
	log      *logger.Logger
}

func NewTaskService(taskRepo repos.BackgroundTaskRepo, notifier tasks.Notifier, baseLog *logger.Logger) TaskService {
	if notifier == nil {
		notifier = tasks.NoopNotifier{}
	}
	return &taskService{
		tasks:    taskRepo,
		notifier: notifier,
		log:      baseLog.With("service", "TaskService"),
	}
}

// Enqueue inserts one queue row. It returns (nil, nil) when an equivalent
// runnable task already exists for the entity, so callers can treat dedup
// as success.
func (s *taskService) Enqueue(ctx context.Context, ownerID uuid.UUID, taskType, entityType string, entityID *uuid.UUID, payload map[string]any) (*types.BackgroundTask, error) {
	if ownerID == uuid.Nil || taskType == "" {
		return nil, fmt.Errorf("%w: owner and task type required", apperr.ErrValidation)
	}
	dbc := dbctx.New(ctx)

	if entityID != nil && *entityID != uuid.Nil {
		dup, err := s.tasks.HasRunnableForEntity(dbc, ownerID, taskType, *entityID)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, nil
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	created, err := s.tasks.Create(dbc, []*types.BackgroundTask{{
		OwnerID:    ownerID,
		TaskType:   taskType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     types.TaskQueued,
		Payload:    datatypes.JSON(body),
	}})
	if err != nil {
		return nil, err
	}
	task := created[0]
	s.notifier.TaskCreated(ownerID, task)
	return task, nil
}

func (s *taskService) Get(ctx context.Context, ownerID, id uuid.UUID) (*types.BackgroundTask, error) {
	task, err := s.tasks.GetByIDForOwner(dbctx.New(ctx), ownerID, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", apperr.ErrNotFound, id)
	}
	return task, nil
}
