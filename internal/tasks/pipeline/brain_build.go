package pipeline

import (
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// BrainBuild rebuilds the owner's brain from scratch. The builder keeps its
// own build log row current while it runs, so this handler only has to map
// the outcome onto the task.
type BrainBuild struct {
	builder *brain.Builder
	log     *logger.Logger
}

func NewBrainBuild(builder *brain.Builder, baseLog *logger.Logger) *BrainBuild {
	return &BrainBuild{
		builder: builder,
		log:     baseLog.With("task", types.TaskBrainBuild),
	}
}

func (p *BrainBuild) Type() string { return types.TaskBrainBuild }

func (p *BrainBuild) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	tc.Progress("build", 5)
	buildLog, err := p.builder.Build(tc.Ctx, tc.Task.OwnerID)
	if err != nil {
		return err
	}
	p.log.Info("brain build finished",
		"owner_id", tc.Task.OwnerID,
		"notes_processed", buildLog.NotesProcessed,
		"topics_created", buildLog.TopicsCreated)
	tc.Succeed("done", map[string]any{
		"build_log_id":    buildLog.ID,
		"notes_processed": buildLog.NotesProcessed,
		"topics_created":  buildLog.TopicsCreated,
	})
	return nil
}
