package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/planforge-backend/internal/agents"
	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type stubAgent struct {
	agentType domain.AgentType
	content   string
	err       error
	calls     int
	lastInput agents.Input
	onExecute func()
}

func (s *stubAgent) Type() domain.AgentType { return s.agentType }

func (s *stubAgent) Execute(_ context.Context, in agents.Input) (*domain.StageOutput, error) {
	s.calls++
	s.lastInput = in
	if s.onExecute != nil {
		s.onExecute()
	}
	if s.err != nil {
		return nil, &agents.ExecutionError{Agent: s.agentType, Err: s.err}
	}
	return &domain.StageOutput{
		AgentType: s.agentType,
		Content:   s.content,
		Metadata:  map[string]any{"tokens_used": 10},
	}, nil
}

type fixture struct {
	pipeline   *Pipeline
	tasks      repos.TaskRepo
	jobs       repos.JobRunRepo
	researcher *stubAgent
	planner    *stubAgent
	reviewer   *stubAgent
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.Task{}, &domain.JobRun{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	tasks := repos.NewTaskRepo(db, log)
	jobs := repos.NewJobRunRepo(db, log)
	researcher := &stubAgent{agentType: domain.AgentTypeResearcher, content: "research findings"}
	planner := &stubAgent{agentType: domain.AgentTypePlanner, content: "draft plan"}
	reviewer := &stubAgent{agentType: domain.AgentTypeReviewer, content: "final plan"}
	return &fixture{
		pipeline:   New(log, tasks, jobs, researcher, planner, reviewer),
		tasks:      tasks,
		jobs:       jobs,
		researcher: researcher,
		planner:    planner,
		reviewer:   reviewer,
	}
}

func (fx *fixture) createTask(t *testing.T) *domain.Task {
	t.Helper()
	task, err := fx.pipeline.Create(context.Background(), CreateInput{
		OwnerUserID: uuid.New(),
		Title:       "Plan the migration",
		Description: "Move the billing service to the new cluster",
		TaskType:    domain.TaskTypeProjectPlanning,
		LLMProvider: "openai",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestCreateValidation(t *testing.T) {
	fx := newFixture(t)
	cases := []CreateInput{
		{OwnerUserID: uuid.New(), Title: "", Description: "d"},
		{OwnerUserID: uuid.New(), Title: "  ", Description: "d"},
		{OwnerUserID: uuid.New(), Title: "t", Description: ""},
		{OwnerUserID: uuid.New(), Title: "t", Description: "d", TaskType: "nonsense"},
		{OwnerUserID: uuid.New(), Title: "t", Description: "d", LLMProvider: "mystery"},
	}
	for i, in := range cases {
		if _, err := fx.pipeline.Create(context.Background(), in); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestCreatePersistsPendingAndEnqueues(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)

	if task.Status != domain.TaskStatusPending {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusPending, task.Status)
	}
	job, err := fx.jobs.GetLatestByEntity(context.Background(), nil, "task", task.ID, domain.JobTypeTaskRun)
	if err != nil {
		t.Fatalf("GetLatestByEntity: %v", err)
	}
	if job == nil || job.Status != domain.JobStatusQueued {
		t.Fatalf("run job not queued: %+v", job)
	}
}

func TestRunDrivesStagesInOrder(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)

	var stages []string
	progress := func(stage string, _ int) { stages = append(stages, stage) }
	if err := fx.pipeline.Run(context.Background(), task.ID, progress); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := fx.pipeline.Get(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusCompleted, got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("completed_at not set")
	}
	for _, raw := range [][]byte{got.ResearchOutput, got.PlanOutput, got.ReviewOutput} {
		if len(raw) == 0 {
			t.Fatalf("stage output missing: %+v", got)
		}
	}
	review, err := domain.StageOutputFromJSON(got.ReviewOutput)
	if err != nil || review.Content != "final plan" {
		t.Fatalf("review output: got=%+v err=%v", review, err)
	}

	if fx.planner.lastInput.Research == nil || fx.planner.lastInput.Research.Content != "research findings" {
		t.Fatalf("planner did not receive research output")
	}
	if fx.reviewer.lastInput.Plan == nil || fx.reviewer.lastInput.Plan.Content != "draft plan" {
		t.Fatalf("reviewer did not receive plan output")
	}
	want := []string{"researcher", "planner", "reviewer", "completed"}
	if strings.Join(stages, ",") != strings.Join(want, ",") {
		t.Fatalf("stage order: want=%v got=%v", want, stages)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)
	if err := fx.tasks.UpdateFields(context.Background(), nil, task.ID, map[string]interface{}{
		"status": domain.TaskStatusProcessing,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	if err := fx.pipeline.Run(context.Background(), task.ID, nil); !errors.Is(err, ErrTaskBusy) {
		t.Fatalf("want ErrTaskBusy, got=%v", err)
	}
	if fx.researcher.calls != 0 {
		t.Fatalf("no stage should run after lost lease")
	}
}

func TestRunStageFailureKeepsEarlierOutputs(t *testing.T) {
	fx := newFixture(t)
	fx.planner.err = errors.New("provider exploded")
	task := fx.createTask(t)

	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err == nil {
		t.Fatalf("expected run failure")
	}

	got, _ := fx.pipeline.Get(context.Background(), task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusFailed, got.Status)
	}
	if len(got.ResearchOutput) == 0 {
		t.Fatalf("research output should survive planner failure")
	}
	if len(got.PlanOutput) != 0 || len(got.ReviewOutput) != 0 {
		t.Fatalf("later outputs must stay empty")
	}
	if !strings.Contains(got.Error, "planner") {
		t.Fatalf("failing stage missing from error: %q", got.Error)
	}
	if fx.reviewer.calls != 0 {
		t.Fatalf("reviewer must not run after planner failure")
	}
}

func TestRunRetriesAfterFailure(t *testing.T) {
	fx := newFixture(t)
	fx.planner.err = errors.New("transient")
	task := fx.createTask(t)
	_ = fx.pipeline.Run(context.Background(), task.ID, nil)

	fx.planner.err = nil
	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	got, _ := fx.pipeline.Get(context.Background(), task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("status after rerun: want=%s got=%s", domain.TaskStatusCompleted, got.Status)
	}
	if got.Error != "" {
		t.Fatalf("error should clear on rerun, got=%q", got.Error)
	}
}

func TestModifyRequiresCompletedTask(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)

	err := fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{ModificationRequest: "shorter"})
	if !errors.Is(err, ErrNotModifiable) {
		t.Fatalf("want ErrNotModifiable on pending task, got=%v", err)
	}

	_ = fx.tasks.UpdateFields(context.Background(), nil, task.ID, map[string]interface{}{
		"status": domain.TaskStatusProcessing,
	})
	err = fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{ModificationRequest: "shorter"})
	if !errors.Is(err, ErrTaskBusy) {
		t.Fatalf("want ErrTaskBusy on processing task, got=%v", err)
	}
}

func TestModifyLeasesAndEnqueues(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)
	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	useRAG := true
	err := fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{
		ModificationRequest: "compress to two weeks",
		LLMProvider:         "gemini",
		ModelName:           "gemini-2.0-flash",
		UseCustomRAG:        &useRAG,
	})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}

	got, _ := fx.pipeline.Get(context.Background(), task.ID)
	if got.Status != domain.TaskStatusReviewing {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusReviewing, got.Status)
	}
	if got.LLMProvider != "gemini" || got.ModelName != "gemini-2.0-flash" || !got.UseCustomRAG {
		t.Fatalf("overrides not applied: %+v", got)
	}
	job, err := fx.jobs.GetLatestByEntity(context.Background(), nil, "task", task.ID, domain.JobTypeTaskModify)
	if err != nil || job == nil {
		t.Fatalf("modify job not queued: job=%+v err=%v", job, err)
	}
	if !strings.Contains(string(job.Payload), "compress to two weeks") {
		t.Fatalf("payload missing request: %s", job.Payload)
	}
}

func TestRunModificationOverwritesOnlyReview(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)
	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before, _ := fx.pipeline.Get(context.Background(), task.ID)

	if err := fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{ModificationRequest: "shift start by a month"}); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	fx.reviewer.content = "final plan v2"
	if err := fx.pipeline.RunModification(context.Background(), task.ID, "shift start by a month", nil); err != nil {
		t.Fatalf("RunModification: %v", err)
	}

	after, _ := fx.pipeline.Get(context.Background(), task.ID)
	if after.Status != domain.TaskStatusCompleted {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusCompleted, after.Status)
	}
	review, err := domain.StageOutputFromJSON(after.ReviewOutput)
	if err != nil || review.Content != "final plan v2" {
		t.Fatalf("review not replaced: got=%+v err=%v", review, err)
	}
	if string(after.ResearchOutput) != string(before.ResearchOutput) || string(after.PlanOutput) != string(before.PlanOutput) {
		t.Fatalf("research/plan outputs must be untouched by modification")
	}
	if fx.reviewer.lastInput.ModificationRequest != "shift start by a month" {
		t.Fatalf("modification request not passed to reviewer")
	}
}

func TestRunModificationRejectsConcurrentRework(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)
	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{ModificationRequest: "redo"}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	// A redelivered job arriving while the reviewer is still working must
	// lose the rework lease instead of running the reviewer again.
	var second error
	fx.reviewer.onExecute = func() {
		fx.reviewer.onExecute = nil
		second = fx.pipeline.RunModification(context.Background(), task.ID, "redo", nil)
	}
	fx.reviewer.calls = 0
	if err := fx.pipeline.RunModification(context.Background(), task.ID, "redo", nil); err != nil {
		t.Fatalf("RunModification: %v", err)
	}
	if !errors.Is(second, ErrTaskBusy) {
		t.Fatalf("second rework: want ErrTaskBusy got=%v", second)
	}
	if fx.reviewer.calls != 1 {
		t.Fatalf("reviewer calls: want=1 got=%d", fx.reviewer.calls)
	}

	got, _ := fx.pipeline.Get(context.Background(), task.ID)
	if got.Status != domain.TaskStatusCompleted {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusCompleted, got.Status)
	}
	if got.ReworkClaimedAt != nil {
		t.Fatalf("rework lease not released after completion")
	}
}

func TestRunModificationFailureMarksFailed(t *testing.T) {
	fx := newFixture(t)
	task := fx.createTask(t)
	if err := fx.pipeline.Run(context.Background(), task.ID, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := fx.pipeline.Modify(context.Background(), task.ID, ModifyInput{ModificationRequest: "redo"}); err != nil {
		t.Fatalf("Modify: %v", err)
	}

	fx.reviewer.err = errors.New("provider down")
	if err := fx.pipeline.RunModification(context.Background(), task.ID, "redo", nil); err == nil {
		t.Fatalf("expected modification failure")
	}
	got, _ := fx.pipeline.Get(context.Background(), task.ID)
	if got.Status != domain.TaskStatusFailed {
		t.Fatalf("status: want=%s got=%s", domain.TaskStatusFailed, got.Status)
	}
	if len(got.ReviewOutput) == 0 {
		t.Fatalf("previous review output should survive failed modification")
	}
}
