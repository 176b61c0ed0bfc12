package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/agents"
	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/llm"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

var (
	// ErrTaskBusy means another run currently holds the task's status lease.
	ErrTaskBusy = errors.New("task already has an active run")
	// ErrNotModifiable means modification was requested before the pipeline
	// delivered a final plan.
	ErrNotModifiable = errors.New("only completed tasks can be modified")
	ErrTaskNotFound  = errors.New("task not found")
)

// ProgressFunc receives coarse stage progress while a run executes. May be
// nil.
type ProgressFunc func(stage string, percent int)

// CreateInput is the validated surface for starting a new planning task.
type CreateInput struct {
	OwnerUserID  uuid.UUID
	Title        string
	Description  string
	TaskType     domain.TaskType
	LLMProvider  string
	ModelName    string
	UseCustomRAG bool
}

// ModifyInput carries the user's change request plus optional overrides for
// the rework call.
type ModifyInput struct {
	ModificationRequest string
	LLMProvider         string
	ModelName           string
	UseCustomRAG        *bool
}

// Pipeline owns the three-stage reasoning state machine. Create and Modify
// are the synchronous entry points; Run and RunModification execute inside
// worker jobs.
type Pipeline struct {
	log        *logger.Logger
	tasks      repos.TaskRepo
	jobs       repos.JobRunRepo
	researcher agents.Agent
	planner    agents.Agent
	reviewer   agents.Agent
}

func New(log *logger.Logger, tasks repos.TaskRepo, jobs repos.JobRunRepo, researcher, planner, reviewer agents.Agent) *Pipeline {
	return &Pipeline{
		log:        log.With("service", "Orchestrator"),
		tasks:      tasks,
		jobs:       jobs,
		researcher: researcher,
		planner:    planner,
		reviewer:   reviewer,
	}
}

// Create validates the request, persists the task as pending and enqueues
// its run job. The call returns as soon as the job is queued.
func (p *Pipeline) Create(ctx context.Context, in CreateInput) (*domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	if title == "" {
		return nil, fmt.Errorf("title must not be empty")
	}
	if description == "" {
		return nil, fmt.Errorf("description must not be empty")
	}
	taskType := in.TaskType
	if taskType == "" {
		taskType = domain.TaskTypeCustom
	}
	if !domain.ValidTaskType(taskType) {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	provider := in.LLMProvider
	if provider == "" {
		provider = envutil.Str("DEFAULT_LLM_PROVIDER", string(llm.ProviderOpenAI))
	}
	if !llm.ValidProvider(llm.Provider(provider)) {
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}

	task, err := p.tasks.Create(ctx, nil, &domain.Task{
		OwnerUserID:  in.OwnerUserID,
		Title:        title,
		Description:  description,
		TaskType:     taskType,
		Status:       domain.TaskStatusPending,
		LLMProvider:  provider,
		ModelName:    in.ModelName,
		UseCustomRAG: in.UseCustomRAG,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if err := p.enqueue(ctx, task, domain.JobTypeTaskRun, nil); err != nil {
		return nil, err
	}
	p.log.Info("task created", "task_id", task.ID.String(), "task_type", string(taskType))
	return task, nil
}

func (p *Pipeline) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := p.tasks.GetByID(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (p *Pipeline) List(ctx context.Context, ownerUserID uuid.UUID, skip, limit int) ([]*domain.Task, error) {
	return p.tasks.ListByOwner(ctx, nil, ownerUserID, skip, limit)
}

// Run drives one full pipeline pass. The status-guarded transition to
// processing is the single-writer lease: losing it means another run is
// active and the caller backs off with ErrTaskBusy.
func (p *Pipeline) Run(ctx context.Context, taskID uuid.UUID, progress ProgressFunc) error {
	claimed, err := p.tasks.TransitionStatus(ctx, nil, taskID,
		[]domain.TaskStatus{domain.TaskStatusPending, domain.TaskStatusFailed},
		domain.TaskStatusProcessing,
		map[string]interface{}{"error": ""})
	if err != nil {
		return fmt.Errorf("claim task %s: %w", taskID, err)
	}
	if !claimed {
		return ErrTaskBusy
	}

	task, err := p.tasks.GetByID(ctx, nil, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}

	report(progress, "researcher", 10)
	research, err := p.researcher.Execute(ctx, agents.Input{Task: task})
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}
	if err := p.persistOutput(ctx, taskID, "research_output", research); err != nil {
		return p.failRun(ctx, taskID, err)
	}

	report(progress, "planner", 45)
	plan, err := p.planner.Execute(ctx, agents.Input{Task: task, Research: research})
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}
	if err := p.persistOutput(ctx, taskID, "plan_output", plan); err != nil {
		return p.failRun(ctx, taskID, err)
	}

	report(progress, "reviewer", 80)
	review, err := p.reviewer.Execute(ctx, agents.Input{Task: task, Research: research, Plan: plan})
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}
	reviewJSON, err := review.ToJSON()
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}

	now := time.Now().UTC()
	ok, err := p.tasks.TransitionStatus(ctx, nil, taskID,
		[]domain.TaskStatus{domain.TaskStatusProcessing},
		domain.TaskStatusCompleted,
		map[string]interface{}{
			"review_output": reviewJSON,
			"completed_at":  &now,
		})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}
	if !ok {
		return fmt.Errorf("task %s left processing mid-run", taskID)
	}
	report(progress, "completed", 100)
	p.log.Info("task completed", "task_id", taskID.String())
	return nil
}

// Modify leases a completed task into reviewing and enqueues the rework
// job. Overrides are applied to the task row before the reviewer runs so
// the rework call and the audit trail agree on provider and model.
func (p *Pipeline) Modify(ctx context.Context, taskID uuid.UUID, in ModifyInput) error {
	if strings.TrimSpace(in.ModificationRequest) == "" {
		return fmt.Errorf("modification request must not be empty")
	}
	if in.LLMProvider != "" && !llm.ValidProvider(llm.Provider(in.LLMProvider)) {
		return fmt.Errorf("unknown llm provider %q", in.LLMProvider)
	}

	task, err := p.Get(ctx, taskID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if in.LLMProvider != "" {
		updates["llm_provider"] = in.LLMProvider
	}
	if in.ModelName != "" {
		updates["model_name"] = in.ModelName
	}
	if in.UseCustomRAG != nil {
		updates["use_custom_rag"] = *in.UseCustomRAG
	}
	updates["rework_claimed_at"] = nil

	ok, err := p.tasks.TransitionStatus(ctx, nil, taskID,
		[]domain.TaskStatus{domain.TaskStatusCompleted},
		domain.TaskStatusReviewing,
		updates)
	if err != nil {
		return fmt.Errorf("lease task %s for modification: %w", taskID, err)
	}
	if !ok {
		if task.Status == domain.TaskStatusProcessing || task.Status == domain.TaskStatusReviewing {
			return ErrTaskBusy
		}
		return ErrNotModifiable
	}

	payload, err := json.Marshal(map[string]string{"modification_request": in.ModificationRequest})
	if err != nil {
		return fmt.Errorf("encode modification payload: %w", err)
	}
	if err := p.enqueue(ctx, task, domain.JobTypeTaskModify, payload); err != nil {
		return err
	}
	p.log.Info("task modification queued", "task_id", taskID.String())
	return nil
}

// RunModification executes the queued rework: reviewer in modification
// mode against the delivered plan, overwriting only review_output. The
// rework claim is the single-writer lease for this path; a redelivered
// job whose first worker is still reviewing loses it and backs off.
func (p *Pipeline) RunModification(ctx context.Context, taskID uuid.UUID, modificationRequest string, progress ProgressFunc) error {
	claimed, err := p.tasks.ClaimRework(ctx, nil, taskID)
	if err != nil {
		return fmt.Errorf("claim rework for %s: %w", taskID, err)
	}
	if !claimed {
		task, err := p.Get(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Status != domain.TaskStatusReviewing {
			return fmt.Errorf("task %s is %s, expected %s", taskID, task.Status, domain.TaskStatusReviewing)
		}
		return ErrTaskBusy
	}

	task, err := p.Get(ctx, taskID)
	if err != nil {
		return err
	}

	research, _ := domain.StageOutputFromJSON(task.ResearchOutput)
	plan, _ := domain.StageOutputFromJSON(task.PlanOutput)
	review, err := domain.StageOutputFromJSON(task.ReviewOutput)
	if err != nil {
		return p.failRun(ctx, taskID, fmt.Errorf("decode review output: %w", err))
	}

	report(progress, "reviewer", 30)
	updated, err := p.reviewer.Execute(ctx, agents.Input{
		Task:                task,
		Research:            research,
		Plan:                plan,
		Review:              review,
		ModificationRequest: modificationRequest,
	})
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}
	updatedJSON, err := updated.ToJSON()
	if err != nil {
		return p.failRun(ctx, taskID, err)
	}

	now := time.Now().UTC()
	ok, err := p.tasks.TransitionStatus(ctx, nil, taskID,
		[]domain.TaskStatus{domain.TaskStatusReviewing},
		domain.TaskStatusCompleted,
		map[string]interface{}{
			"review_output":     updatedJSON,
			"completed_at":      &now,
			"rework_claimed_at": nil,
		})
	if err != nil {
		return fmt.Errorf("complete modification for %s: %w", taskID, err)
	}
	if !ok {
		return fmt.Errorf("task %s left reviewing mid-rework", taskID)
	}
	report(progress, "completed", 100)
	p.log.Info("task modification completed", "task_id", taskID.String())
	return nil
}

// failRun marks the task failed, keeping whatever stage outputs were
// already persisted. The failing stage travels in the error text.
func (p *Pipeline) failRun(ctx context.Context, taskID uuid.UUID, cause error) error {
	msg := cause.Error()
	var ee *agents.ExecutionError
	if errors.As(cause, &ee) {
		msg = fmt.Sprintf("stage %s failed: %v", ee.Agent, ee.Err)
	}
	if _, err := p.tasks.TransitionStatus(ctx, nil, taskID,
		[]domain.TaskStatus{domain.TaskStatusProcessing, domain.TaskStatusReviewing},
		domain.TaskStatusFailed,
		map[string]interface{}{"error": msg, "rework_claimed_at": nil}); err != nil {
		p.log.Error("mark task failed", "task_id", taskID.String(), "error", err.Error())
	}
	return cause
}

func (p *Pipeline) persistOutput(ctx context.Context, taskID uuid.UUID, column string, out *domain.StageOutput) error {
	raw, err := out.ToJSON()
	if err != nil {
		return fmt.Errorf("encode %s: %w", column, err)
	}
	if err := p.tasks.UpdateFields(ctx, nil, taskID, map[string]interface{}{column: raw}); err != nil {
		return fmt.Errorf("persist %s: %w", column, err)
	}
	return nil
}

func (p *Pipeline) enqueue(ctx context.Context, task *domain.Task, jobType string, payload datatypes.JSON) error {
	entityID := task.ID
	if _, err := p.jobs.Create(ctx, nil, &domain.JobRun{
		OwnerUserID: task.OwnerUserID,
		JobType:     jobType,
		EntityType:  "task",
		EntityID:    &entityID,
		Status:      domain.JobStatusQueued,
		Payload:     payload,
	}); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return nil
}

func report(progress ProgressFunc, stage string, percent int) {
	if progress != nil {
		progress(stage, percent)
	}
}
