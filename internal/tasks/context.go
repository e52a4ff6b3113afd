package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

const maxTaskErrorChars = 500

// Context is the execution handle for one claimed task run. It wraps the
// claimed row, the repo that persists lifecycle transitions, and the
// notifier that mirrors them to clients. Handlers never write the task row
// directly; Progress, Fail, and Succeed are the only sanctioned transitions,
// and every one of them refuses to overwrite a canceled task.
type Context struct {
	Ctx  context.Context
	Task *types.BackgroundTask

	repo    repos.BackgroundTaskRepo
	notify  Notifier
	payload map[string]any
}

// NewContext builds a Context for a claimed task and eagerly decodes its
// payload. A malformed payload is not fatal here; handlers validate the
// fields they need and fail with a permanent error when one is missing.
func NewContext(ctx context.Context, task *types.BackgroundTask, repo repos.BackgroundTaskRepo, notify Notifier) *Context {
	if notify == nil {
		notify = NoopNotifier{}
	}
	c := &Context{
		Ctx:    ctx,
		Task:   task,
		repo:   repo,
		notify: notify,
	}
	c.decodePayload()
	return c
}

func (c *Context) decodePayload() {
	c.payload = map[string]any{}
	if c.Task == nil || len(c.Task.Payload) == 0 {
		return
	}
	var m map[string]any
	if err := json.Unmarshal(c.Task.Payload, &m); err == nil {
		c.payload = m
	}
}

// Payload returns the decoded payload object. Never nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadUUID reads a payload field as a UUID. Missing, empty, and
// unparseable values all report false so handlers validate in one place.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// PayloadString reads a payload field as a trimmed string.
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return "", false
	}
	return s, true
}

// Progress records a non-terminal stage transition. The write doubles as a
// heartbeat so long pipelines that report progress are never mistaken for
// abandoned runs. A canceled task swallows the update and the notification.
func (c *Context) Progress(stage string, pct int) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	now := time.Now()
	if c.repo != nil {
		ok, err := c.repo.UpdateFieldsUnlessStatus(dbctx.New(c.ctx()), c.Task.ID,
			[]string{types.TaskCanceled}, map[string]interface{}{
				"stage":        stage,
				"progress":     pct,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if err != nil || !ok {
			return
		}
	}
	c.Task.Stage = stage
	c.Task.Progress = pct
	c.Task.HeartbeatAt = &now
	c.Task.UpdatedAt = now
	c.notify.TaskProgress(c.Task.OwnerID, c.Task, stage, pct)
}

// Fail marks the run failed, classifying err to decide whether the claim
// query may retry it later.
func (c *Context) Fail(stage string, err error) {
	c.fail(stage, err, Classify(err))
}

// FailPermanent marks the run failed with retries disabled regardless of
// what classification would say. Handlers use it when they know re-running
// cannot help, such as a payload that fails validation.
func (c *Context) FailPermanent(stage string, err error) {
	c.fail(stage, err, CategoryPermanent)
}

func (c *Context) fail(stage string, err error, cat Category) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = clip(err.Error(), maxTaskErrorChars)
	}
	if c.repo != nil {
		// Terminal writes survive a canceled run context. A completed task
		// is never demoted: duplicate executions are expected under
		// at-least-once delivery and the first success wins.
		ctx := context.WithoutCancel(c.ctx())
		ok, uerr := c.repo.UpdateFieldsUnlessStatus(dbctx.New(ctx), c.Task.ID,
			[]string{types.TaskCanceled, types.TaskCompleted}, map[string]interface{}{
				"status":        types.TaskFailed,
				"stage":         stage,
				"error":         msg,
				"error_kind":    string(cat),
				"retryable":     cat.Retryable(),
				"last_error_at": now,
				"locked_at":     nil,
				"updated_at":    now,
			})
		if uerr != nil || !ok {
			return
		}
	}
	c.Task.Status = types.TaskFailed
	c.Task.Stage = stage
	c.Task.Error = msg
	c.Task.ErrorKind = string(cat)
	c.Task.Retryable = cat.Retryable()
	c.Task.LastErrorAt = &now
	c.Task.LockedAt = nil
	c.Task.UpdatedAt = now
	c.notify.TaskFailed(c.Task.OwnerID, c.Task, stage, msg)
}

// Succeed marks the run completed and stores the result payload.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil || c.Task == nil || c.Task.ID == uuid.Nil {
		return
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if c.repo != nil {
		ctx := context.WithoutCancel(c.ctx())
		ok, err := c.repo.UpdateFieldsUnlessStatus(dbctx.New(ctx), c.Task.ID,
			[]string{types.TaskCanceled}, map[string]interface{}{
				"status":       types.TaskCompleted,
				"stage":        finalStage,
				"progress":     100,
				"error":        "",
				"error_kind":   "",
				"result":       res,
				"locked_at":    nil,
				"heartbeat_at": now,
				"updated_at":   now,
			})
		if err != nil || !ok {
			return
		}
	}
	c.Task.Status = types.TaskCompleted
	c.Task.Stage = finalStage
	c.Task.Progress = 100
	c.Task.Error = ""
	c.Task.ErrorKind = ""
	c.Task.Result = res
	c.Task.LockedAt = nil
	c.Task.HeartbeatAt = &now
	c.Task.UpdatedAt = now
	c.notify.TaskDone(c.Task.OwnerID, c.Task)
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
