package pipeline

import (
	"fmt"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/brain"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/logger"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/tasks"
	"github.com/Simmak7/project-Mnemosyne-sub001/internal/types"
)

// MemoryEvolve scans the latest brain chat exchange for durable facts and
// appends them to the owner's memory file.
type MemoryEvolve struct {
	evolver *brain.Evolver
	log     *logger.Logger
}

func NewMemoryEvolve(evolver *brain.Evolver, baseLog *logger.Logger) *MemoryEvolve {
	return &MemoryEvolve{
		evolver: evolver,
		log:     baseLog.With("task", types.TaskMemoryEvolve),
	}
}

func (p *MemoryEvolve) Type() string { return types.TaskMemoryEvolve }

func (p *MemoryEvolve) Run(tc *tasks.Context) error {
	if tc == nil || tc.Task == nil {
		return nil
	}
	convID, ok := tc.PayloadUUID("conversation_id")
	if !ok {
		tc.FailPermanent("validate", fmt.Errorf("missing conversation_id"))
		return nil
	}

	tc.Progress("scan", 20)
	if err := p.evolver.Evolve(tc.Ctx, tc.Task.OwnerID, convID); err != nil {
		return err
	}
	tc.Succeed("done", map[string]any{"conversation_id": convID})
	return nil
}
