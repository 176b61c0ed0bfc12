package handlers

import (
	"fmt"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/jobs/runtime"
	"github.com/yungbote/planforge-backend/internal/orchestrator"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// TaskModify reworks a delivered plan against the user's change request.
type TaskModify struct {
	log      *logger.Logger
	pipeline *orchestrator.Pipeline
}

func NewTaskModify(log *logger.Logger, pipeline *orchestrator.Pipeline) *TaskModify {
	return &TaskModify{log: log.With("handler", domain.JobTypeTaskModify), pipeline: pipeline}
}

func (h *TaskModify) Type() string { return domain.JobTypeTaskModify }

func (h *TaskModify) Run(jc *runtime.Context) error {
	if jc.Job.EntityID == nil {
		jc.Fail("validate", fmt.Errorf("task modify job %s has no entity id", jc.Job.ID))
		return nil
	}
	request := jc.PayloadString("modification_request")
	if request == "" {
		jc.Fail("validate", fmt.Errorf("task modify job %s has no modification_request", jc.Job.ID))
		return nil
	}
	taskID := *jc.Job.EntityID

	err := h.pipeline.RunModification(jc.Ctx, taskID, request, func(stage string, pct int) {
		jc.Progress(stage, pct, "")
	})
	if err != nil {
		jc.Fail("pipeline", err)
		return nil
	}
	jc.Succeed("completed", map[string]any{"task_id": taskID.String()})
	return nil
}
