package pipeline

import (
	"fmt"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// BrainIncremental folds one note change into the built brain without a full
// rebuild. The change kind comes from whoever queued the task: created,
// updated, or deleted.
type BrainIncremental struct {
	inc *brain.Incremental
	log *logger.Logger
}

func NewBrainIncremental(inc *brain.Incremental, baseLog *logger.Logger) *BrainIncremental {
	return &BrainIncremental{
		inc: inc,
		log: baseLog.With("task", types.TaskBrainIncremental),
	}
}

func (p *BrainIncremental) Type() string { return types.TaskBrainIncremental }

func (p *BrainIncremental) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	noteID, ok := tc.PayloadUUID("note_id")
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing note_id"))
		return nil
	}
	change, ok := tc.PayloadString("change")
	if !ok {
		change = brain.ChangeUpdated
	}

	tc.Progress("apply", 20)
	if err := p.inc.Apply(tc.Ctx, tc.Task.OwnerID, noteID, change); err != nil {
		return err
	}
	tc.Succeed("done", map[string]any{"note_id": noteID, "change": change})
	return nil
}
