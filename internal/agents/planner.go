package agents

import (
	"context"
	"fmt"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// Planner turns the researcher's findings into a phased, actionable plan.
// It never touches retrieval; its only inputs are the task and the
// research output.
type Planner struct {
	exec *executor
	role *role
}

func NewPlanner(log *logger.Logger, clients clientResolver, logs repos.AgentLogRepo) (*Planner, error) {
	r, err := loadRole(domain.AgentTypePlanner)
	if err != nil {
		return nil, err
	}
	return &Planner{
		exec: newExecutor(log.With("agent", "planner"), clients, logs),
		role: r,
	}, nil
}

func (a *Planner) Type() domain.AgentType { return domain.AgentTypePlanner }

func (a *Planner) Execute(ctx context.Context, in Input) (*domain.StageOutput, error) {
	task := in.Task
	if task == nil {
		return nil, execErr(a.Type(), fmt.Errorf("nil task"))
	}

	research := "No research available"
	hasResearch := false
	if in.Research != nil && in.Research.Content != "" {
		research = in.Research.Content
		hasResearch = true
	}

	spec := a.exec.resolveCall(task, a.role.System, buildPlanningPrompt(task, research))
	comp, err := a.exec.complete(ctx, task, a.Type(), spec)
	if err != nil {
		return nil, execErr(a.Type(), err)
	}

	return &domain.StageOutput{
		AgentType: a.Type(),
		Content:   comp.Text,
		Metadata: map[string]any{
			"tokens_used":       comp.TokensUsed,
			"based_on_research": hasResearch,
		},
		LLMProvider: string(spec.Provider),
		ModelName:   spec.Model,
	}, nil
}

func buildPlanningPrompt(task *domain.Task, research string) string {
	return fmt.Sprintf(`Based on the research findings, create a detailed, actionable plan for the following task:

Task Title: %s

Task Type: %s

Task Description:
%s

Research Findings:
%s

Create a comprehensive plan that includes:

1. Overview & Goals: what will be accomplished and the key objectives
2. Timeline & Milestones: overall duration, major checkpoints and deadlines
3. Detailed Schedule: break the work into phases with specific tasks and time estimates for each period
4. Resources & Materials: required resources and recommended references
5. Daily/Weekly Tasks: clear, actionable items prioritized by importance
6. Success Criteria: how to measure progress and what indicates completion of each phase

Make the plan realistic, achievable, and tailored to the user's situation. Include buffer time for challenges and review periods.`,
		task.Title, task.TaskType, task.Description, research)
}
