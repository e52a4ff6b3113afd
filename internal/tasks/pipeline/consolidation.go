package pipeline

import (
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/graph"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// Consolidation runs the nightly graph maintenance sweep. Individual steps
// fail soft inside the consolidator; the task only fails when the sweep
// could not run at all.
type Consolidation struct {
	consolidator *graph.Consolidator
	log          *logger.Logger
}

func NewConsolidation(consolidator *graph.Consolidator, baseLog *logger.Logger) *Consolidation {
	return &Consolidation{
		consolidator: consolidator,
		log:          baseLog.With("task", types.TaskConsolidation),
	}
}

func (p *Consolidation) Type() string { return types.TaskConsolidation }

func (p *Consolidation) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	tc.Progress("consolidate", 10)
	res, err := p.consolidator.Run(tc.Ctx, tc.Task.OwnerID)
	if err != nil {
		return err
	}
	if res == nil {
		tc.Succeed("done", map[string]any{"skipped": "nothing to consolidate"})
		return nil
	}
	if failed := res.FailedSteps(); len(failed) > 0 {
		p.log.Warn("consolidation finished with failed steps",
			"owner_id", tc.Task.OwnerID, "failed", failed)
	}
	tc.Succeed("done", res)
	return nil
}
