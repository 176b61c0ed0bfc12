package handlers

import (
	"fmt"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/jobs/runtime"
	"github.com/yungbote/planforge-backend/internal/orchestrator"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// TaskRun executes the full three-stage pipeline for a queued task.
type TaskRun struct {
	log      *logger.Logger
	pipeline *orchestrator.Pipeline
}

func NewTaskRun(log *logger.Logger, pipeline *orchestrator.Pipeline) *TaskRun {
	return &TaskRun{log: log.With("handler", domain.JobTypeTaskRun), pipeline: pipeline}
}

func (h *TaskRun) Type() string { return domain.JobTypeTaskRun }

func (h *TaskRun) Run(jc *runtime.Context) error {
	if jc.Job.EntityID == nil {
		jc.Fail("validate", fmt.Errorf("task run job %s has no entity id", jc.Job.ID))
		return nil
	}
	taskID := *jc.Job.EntityID

	err := h.pipeline.Run(jc.Ctx, taskID, func(stage string, pct int) {
		jc.Progress(stage, pct, "")
	})
	if err != nil {
		jc.Fail("pipeline", err)
		return nil
	}
	jc.Succeed("completed", map[string]any{"task_id": taskID.String()})
	return nil
}
