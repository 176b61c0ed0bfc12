package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/planforge-backend/internal/domain"
)

// ErrNoKnowledge is returned by the researcher when the task demands
// knowledge-base grounding and retrieval produced no matches.
var ErrNoKnowledge = errors.New("knowledge base returned no relevant documents")

// Input carries the task under work plus whatever earlier stages produced.
// Research and Plan are nil for stages that run before them.
type Input struct {
	Task     *domain.Task
	Research *domain.StageOutput
	Plan     *domain.StageOutput
	Review   *domain.StageOutput

	// ModificationRequest switches the reviewer into plan-modification
	// mode. Empty for the normal pipeline run.
	ModificationRequest string
}

// Agent is one reasoning stage. Execute blocks until the provider call
// settles and returns the stage output ready for persistence.
type Agent interface {
	Type() domain.AgentType
	Execute(ctx context.Context, in Input) (*domain.StageOutput, error)
}

// ExecutionError tags any stage failure with the agent that raised it so
// the orchestrator can record which stage broke the run.
type ExecutionError struct {
	Agent domain.AgentType
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s agent: %v", e.Agent, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func execErr(agent domain.AgentType, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Agent: agent, Err: err}
}
