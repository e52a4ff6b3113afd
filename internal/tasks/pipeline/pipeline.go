// Package pipeline holds the background task handlers: one type per task in
// the queue, each registered with the worker under its task type. Handlers
// report progress through the task context, fail validation problems
// permanently themselves, and return operational errors for the worker to
// classify.
package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/dbctx"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/repos"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Options carries the model settings shared by the analysis handlers. Model
// does text work (summaries, tags, titles); VisionModel describes and
// transcribes images and always runs on the local backend.
type Options struct {
	Model       string
	VisionModel string
	Temperature float64
}

// Caps on model-suggested metadata for documents and images.
const (
	maxSuggestedTags  = 6
	maxSuggestedLinks = 5
)

// truncateRunes caps a prompt input without splitting a multibyte rune.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// cleanList trims, dedupes, and caps a model-produced string list. Lowercase
// normalization is for tag names, which are case-insensitive everywhere else.
func cleanList(items []string, max int, lowercase bool) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		v := strings.TrimSpace(it)
		if lowercase {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if len(out) == max {
			break
		}
	}
	return out
}

// cleanLine collapses a model-produced title onto one trimmed line.
func cleanLine(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, `"'`)
	s = strings.TrimSpace(s)
	return truncateRunes(s, maxRunes)
}

// resolveTags maps names onto tag rows, creating missing ones, and returns
// their ids in input order.
func resolveTags(dbc dbctx.Context, tagRepo repos.TagRepo, ownerID uuid.UUID, names []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		tag, err := tagRepo.GetOrCreate(dbc, ownerID, name)
		if err != nil {
			return nil, err
		}
		if tag != nil {
			ids = append(ids, tag.ID)
		}
	}
	return ids, nil
}

// enqueueTask inserts one queue row unless an equivalent runnable task is
// already pending for the entity, so retried handlers do not stack work.
func enqueueTask(dbc dbctx.Context, taskRepo repos.BackgroundTaskRepo, ownerID uuid.UUID, taskType, entityType string, entityID uuid.UUID, payload map[string]any) error {
	dup, err := taskRepo.HasRunnableForEntity(dbc, ownerID, taskType, entityID)
	if err != nil {
		return err
	}
	if dup {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	eid := entityID
	_, err = taskRepo.Create(dbc, []*types.BackgroundTask{{
		OwnerID:    ownerID,
		TaskType:   taskType,
		EntityType: entityType,
		EntityID:   &eid,
		Status:     types.TaskQueued,
		Payload:    datatypes.JSON(body),
	}})
	return err
}
