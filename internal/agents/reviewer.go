package agents

import (
	"context"
	"fmt"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// Reviewer polishes the draft plan into the final deliverable. With a
// modification request it instead rewrites the previously delivered plan
// to honor the requested changes.
type Reviewer struct {
	exec *executor
	role *role
}

func NewReviewer(log *logger.Logger, clients clientResolver, logs repos.AgentLogRepo) (*Reviewer, error) {
	r, err := loadRole(domain.AgentTypeReviewer)
	if err != nil {
		return nil, err
	}
	return &Reviewer{
		exec: newExecutor(log.With("agent", "reviewer"), clients, logs),
		role: r,
	}, nil
}

func (a *Reviewer) Type() domain.AgentType { return domain.AgentTypeReviewer }

func (a *Reviewer) Execute(ctx context.Context, in Input) (*domain.StageOutput, error) {
	task := in.Task
	if task == nil {
		return nil, execErr(a.Type(), fmt.Errorf("nil task"))
	}
	if in.ModificationRequest != "" {
		return a.modify(ctx, in)
	}

	research := "No research available"
	if in.Research != nil && in.Research.Content != "" {
		research = in.Research.Content
	}
	plan := "No plan available"
	hasPlan := false
	if in.Plan != nil && in.Plan.Content != "" {
		plan = in.Plan.Content
		hasPlan = true
	}

	spec := a.exec.resolveCall(task, a.role.System, buildReviewPrompt(task, research, plan))
	comp, err := a.exec.complete(ctx, task, a.Type(), spec)
	if err != nil {
		return nil, execErr(a.Type(), err)
	}

	return &domain.StageOutput{
		AgentType: a.Type(),
		Content:   comp.Text,
		Metadata: map[string]any{
			"tokens_used":   comp.TokensUsed,
			"reviewed_plan": hasPlan,
		},
		LLMProvider: string(spec.Provider),
		ModelName:   spec.Model,
	}, nil
}

func (a *Reviewer) modify(ctx context.Context, in Input) (*domain.StageOutput, error) {
	task := in.Task
	original := ""
	if in.Review != nil {
		original = in.Review.Content
	}
	if original == "" && in.Plan != nil {
		original = in.Plan.Content
	}
	if original == "" {
		return nil, execErr(a.Type(), fmt.Errorf("no existing plan to modify"))
	}

	spec := a.exec.resolveCall(task, a.role.System, buildModificationPrompt(task, original, in.ModificationRequest))
	comp, err := a.exec.complete(ctx, task, a.Type(), spec)
	if err != nil {
		return nil, execErr(a.Type(), err)
	}

	return &domain.StageOutput{
		AgentType: a.Type(),
		Content:   comp.Text,
		Metadata: map[string]any{
			"tokens_used":          comp.TokensUsed,
			"modification_applied": true,
		},
		LLMProvider: string(spec.Provider),
		ModelName:   spec.Model,
	}, nil
}

func buildReviewPrompt(task *domain.Task, research, plan string) string {
	return fmt.Sprintf(`You have a draft plan that needs to be finalized. Review it internally and output ONLY the polished, final plan.

Task Details:
Title: %s
Description: %s

Background Research:
%s

Draft Plan to Refine:
%s

Your instructions:
1. Internally review the draft plan for completeness, feasibility, and clarity
2. Identify any gaps, unrealistic timelines, or vague instructions
3. Incorporate improvements from the research findings
4. Output ONLY the final, polished plan with no meta-commentary

Output format:
- Start directly with the plan title/heading
- Use clear sections: Overview, Phases/Timeline, Daily/Weekly Structure, Key Strategies, Success Tips
- Make every instruction specific and actionable
- End with practical execution advice

Just present the clean, ready-to-use plan as if you created it perfectly from the start.`,
		task.Title, task.Description, research, plan)
}

func buildModificationPrompt(task *domain.Task, original, request string) string {
	return fmt.Sprintf(`You need to update an existing plan based on user feedback. Output ONLY the modified plan with no commentary.

Original Task:
Title: %s
Description: %s

Current Plan:
%s

User's Requested Changes:
%s

Your instructions:
1. Apply the user's requested changes to the plan
2. Ensure the modified sections integrate smoothly with the rest of the plan
3. Maintain the overall structure and quality
4. Output ONLY the complete updated plan, starting with the plan title

Present the final modified plan as if it was created this way from the beginning.`,
		task.Title, task.Description, original, request)
}
