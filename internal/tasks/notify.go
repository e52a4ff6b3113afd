package tasks

import (
	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Notifier receives task lifecycle events for delivery to clients. The SSE
// layer implements it; the worker only knows this interface so it can run in
// processes with no realtime surface at all.
type Notifier interface {
	TaskCreated(ownerID uuid.UUID, task *types.BackgroundTask)
	TaskProgress(ownerID uuid.UUID, task *types.BackgroundTask, stage string, progress int)
	TaskFailed(ownerID uuid.UUID, task *types.BackgroundTask, stage string, errorMessage string)
	TaskDone(ownerID uuid.UUID, task *types.BackgroundTask)
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) TaskCreated(uuid.UUID, *types.BackgroundTask)                {}
func (NoopNotifier) TaskProgress(uuid.UUID, *types.BackgroundTask, string, int)  {}
func (NoopNotifier) TaskFailed(uuid.UUID, *types.BackgroundTask, string, string) {}
func (NoopNotifier) TaskDone(uuid.UUID, *types.BackgroundTask)                   {}
