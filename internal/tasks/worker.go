package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const (
	claimInterval     = 1 * time.Second
	heartbeatInterval = 30 * time.Second

	// Failed retryable tasks wait backoffBase x attempts before the claim
	// query offers them again, and stop being offered after maxAttempts.
	maxAttempts = 3
	backoffBase = 120 * time.Second

	// A processing task whose heartbeat is older than stuckThreshold is
	// treated as abandoned: claimable immediately, and flipped to failed by
	// the recovery sweep.
	stuckThreshold   = 10 * time.Minute
	recoveryInterval = 15 * time.Minute
)

// Worker pulls runnable tasks off the durable queue and dispatches them to
// registered handlers. Each claim loop runs one task at a time; concurrency
// comes from running several loops against the same SKIP LOCKED claim query.
type Worker struct {
	repo        repos.BackgroundTaskRepo
	registry    *Registry
	notify      Notifier
	concurrency int
	log         *logger.Logger
}

func NewWorker(repo repos.BackgroundTaskRepo, registry *Registry, notify Notifier, concurrency int, baseLog *logger.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if notify == nil {
		notify = NoopNotifier{}
	}
	return &Worker{
		repo:        repo,
		registry:    registry,
		notify:      notify,
		concurrency: concurrency,
		log:         baseLog.With("component", "TaskWorker"),
	}
}

// Start launches the claim loops and the stuck-task recovery loop. All of
// them exit when ctx is canceled; in-flight rows left behind by a hard stop
// are re-claimed once their heartbeat goes stale.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.concurrency; i++ {
		go w.claimLoop(ctx)
	}
	go w.recoveryLoop(ctx)
	w.log.Info("Task worker started", "concurrency", w.concurrency)
}

func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and runs tasks until nothing is runnable, so a burst of
// enqueues does not pay one tick of latency per task.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		task, err := w.repo.ClaimNextRunnable(dbctx.New(ctx), maxAttempts, backoffBase, stuckThreshold)
		if err != nil {
			w.log.Warn("ClaimNextRunnable failed", "error", err)
			return
		}
		if task == nil {
			return
		}
		w.execute(ctx, task)
	}
}

func (w *Worker) execute(ctx context.Context, task *types.BackgroundTask) {
	tc := NewContext(ctx, task, w.repo, w.notify)
	h, ok := w.registry.Get(task.TaskType)
	if !ok {
		w.log.Error("No handler registered for task_type", "task_type", task.TaskType, "task_id", task.ID)
		tc.FailPermanent("dispatch", &missingHandlerError{TaskType: task.TaskType})
		return
	}

	stop := w.keepAlive(task.ID)
	defer stop()

	// A panicking handler must not take the claim loop down with it.
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Task handler panic", "task_id", task.ID, "task_type", task.TaskType, "panic", r)
				tc.Fail("panic", errFromRecover(r))
			}
		}()
		if err := h.Run(tc); err != nil {
			stage := tc.Task.Stage
			if stage == "" {
				stage = "start"
			}
			w.log.Warn("Task handler failed", "task_id", task.ID, "task_type", task.TaskType, "stage", stage, "error", err)
			tc.Fail(stage, err)
		}
	}()
}

// keepAlive heartbeats the claimed row while its handler runs, so stages
// that sit inside one long provider call are not reclaimed as abandoned.
func (w *Worker) keepAlive(taskID uuid.UUID) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := w.repo.Heartbeat(dbctx.New(context.Background()), taskID); err != nil {
					w.log.Warn("Task heartbeat failed", "task_id", taskID, "error", err)
				}
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}

// recoveryLoop periodically fails processing rows whose lock is older than
// the stuck threshold, so crashed runs become visible as failures instead of
// spinning forever in the claim query's stale branch.
func (w *Worker) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(recoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.repo.ResetStuckProcessing(dbctx.New(ctx), stuckThreshold)
			if err != nil {
				w.log.Warn("Stuck task recovery failed", "error", err)
				continue
			}
			if n > 0 {
				w.log.Info("Reset stuck tasks to failed", "count", n)
			}
		}
	}
}

type missingHandlerError struct{ TaskType string }

func (e *missingHandlerError) Error() string {
	return "no handler registered for task_type=" + e.TaskType
}

func errFromRecover(v any) error {
	return &panicError{Val: v}
}

type panicError struct{ Val any }

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Val)
}
