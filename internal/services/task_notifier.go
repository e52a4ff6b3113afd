package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/sse"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// taskNotifier turns worker lifecycle callbacks into SSE messages on the
// owner's channel. Payloads carry the full task row plus the fields clients
// key their progress UI on.
type taskNotifier struct {
	emitter SSEEmitter
}

func NewTaskNotifier(emitter SSEEmitter) tasks.Notifier {
	return &taskNotifier{emitter: emitter}
}

func (n *taskNotifier) emit(ownerID uuid.UUID, event sse.SSEEvent, data map[string]any) {
	if n == nil || n.emitter == nil || ownerID == uuid.Nil {
		return
	}
	n.emitter.Emit(context.Background(), sse.SSEMessage{
		Channel: ownerID.String(),
		Event:   event,
		Data:    data,
	})
}

func (n *taskNotifier) TaskCreated(ownerID uuid.UUID, task *types.BackgroundTask) {
	n.emit(ownerID, sse.SSEEventTaskCreated, map[string]any{
		"task_id":   task.ID,
		"task_type": task.TaskType,
		"task":      task,
	})
}

func (n *taskNotifier) TaskProgress(ownerID uuid.UUID, task *types.BackgroundTask, stage string, progress int) {
	n.emit(ownerID, sse.SSEEventTaskProgress, map[string]any{
		"task_id":   task.ID,
		"task_type": task.TaskType,
		"stage":     stage,
		"progress":  progress,
		"task":      task,
	})
}

func (n *taskNotifier) TaskFailed(ownerID uuid.UUID, task *types.BackgroundTask, stage string, errorMessage string) {
	n.emit(ownerID, sse.SSEEventTaskFailed, map[string]any{
		"task_id":   task.ID,
		"task_type": task.TaskType,
		"stage":     stage,
		"error":     errorMessage,
		"retryable": task.Retryable,
		"task":      task,
	})
}

func (n *taskNotifier) TaskDone(ownerID uuid.UUID, task *types.BackgroundTask) {
	n.emit(ownerID, sse.SSEEventTaskDone, map[string]any{
		"task_id":   task.ID,
		"task_type": task.TaskType,
		"task":      task,
	})
}
