package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/rag/retriever"
)

const ragContextMaxChars = 6000

// Researcher grounds the task in the user's knowledge base and produces
// the findings the planner builds on.
type Researcher struct {
	exec        *executor
	search      retriever.Retriever
	role        *role
	log         *logger.Logger
	topK        int
	strictEmpty bool
}

func NewResearcher(log *logger.Logger, clients clientResolver, logs repos.AgentLogRepo, search retriever.Retriever) (*Researcher, error) {
	r, err := loadRole(domain.AgentTypeResearcher)
	if err != nil {
		return nil, err
	}
	l := log.With("agent", "researcher")
	return &Researcher{
		exec:        newExecutor(l, clients, logs),
		search:      search,
		role:        r,
		log:         l,
		topK:        envutil.Int("RETRIEVAL_TOP_K", 10),
		strictEmpty: envutil.Bool("RAG_STRICT_EMPTY", true),
	}, nil
}

func (a *Researcher) Type() domain.AgentType { return domain.AgentTypeResearcher }

func (a *Researcher) Execute(ctx context.Context, in Input) (*domain.StageOutput, error) {
	task := in.Task
	if task == nil {
		return nil, execErr(a.Type(), fmt.Errorf("nil task"))
	}

	results, ragContext, err := a.gatherContext(ctx, task)
	if err != nil {
		return nil, execErr(a.Type(), err)
	}

	spec := a.exec.resolveCall(task, a.role.System, buildResearchPrompt(task, ragContext))
	comp, err := a.exec.complete(ctx, task, a.Type(), spec)
	if err != nil {
		return nil, execErr(a.Type(), err)
	}

	return &domain.StageOutput{
		AgentType: a.Type(),
		Content:   comp.Text,
		Metadata: map[string]any{
			"rag_sources_count": len(results),
			"tokens_used":       comp.TokensUsed,
			"has_rag_context":   len(results) > 0,
		},
		LLMProvider: string(spec.Provider),
		ModelName:   spec.Model,
	}, nil
}

// gatherContext runs retrieval under the task's grounding policy. With
// use_custom_rag set, zero hits abort the run unless the fallback policy
// allows general knowledge; without it, retrieval is best effort and a
// broken index is tolerated.
func (a *Researcher) gatherContext(ctx context.Context, task *domain.Task) ([]retriever.Result, string, error) {
	query := fmt.Sprintf("%s: %s", task.Title, task.Description)
	results, err := a.search.Search(ctx, query, a.topK, task.OwnerUserID.String())
	if err != nil {
		if task.UseCustomRAG {
			return nil, "", fmt.Errorf("knowledge base search: %w", err)
		}
		a.log.Warn("retrieval failed, continuing without context", "task_id", task.ID.String(), "error", err.Error())
		return nil, "", nil
	}

	if task.UseCustomRAG && len(results) == 0 {
		if a.strictEmpty {
			return nil, "", ErrNoKnowledge
		}
		a.log.Warn("custom knowledge base enabled but empty, falling back to general knowledge", "task_id", task.ID.String())
		return nil, "The custom knowledge base contains no relevant documents for this task. Proceed with general knowledge and state that the knowledge base had no matches.", nil
	}
	return results, buildRAGContext(results, ragContextMaxChars), nil
}

// buildRAGContext formats retrieval hits into a bounded context block,
// best matches first.
func buildRAGContext(results []retriever.Result, maxChars int) string {
	if len(results) == 0 {
		return ""
	}
	var b strings.Builder
	for _, res := range results {
		entry := fmt.Sprintf("[Source: %s, chunk %d, score %.3f]\n%s\n\n", res.Filename, res.ChunkIndex, res.Score, res.Text)
		if b.Len()+len(entry) > maxChars {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimRight(b.String(), "\n")
}

func buildResearchPrompt(task *domain.Task, ragContext string) string {
	var restriction string
	if task.UseCustomRAG {
		restriction = `
IMPORTANT: custom knowledge base mode is ENABLED.
- Use ONLY the information from the knowledge base provided below
- Do not rely on external or general knowledge
- If the knowledge base lacks sufficient information, clearly state what is missing
`
	}
	knowledge := ragContext
	if knowledge == "" {
		knowledge = "No specific documents found in the knowledge base."
	}
	return fmt.Sprintf(`I need to research and gather information for the following task:

Task Title: %s

Task Type: %s

Task Description:
%s
%s
Available Knowledge Base Information:
%s

Please conduct comprehensive research on this task. Analyze the requirements, identify key topics and concepts, and provide detailed findings that will help in creating an effective plan.

Focus on:
1. Understanding what needs to be accomplished
2. Identifying key topics, concepts, or skills required
3. Extracting relevant information from the knowledge base
4. Providing actionable recommendations for planning
5. Highlighting prerequisites and potential challenges

Provide your research findings in a well-structured format.`,
		task.Title, task.TaskType, task.Description, restriction, knowledge)
}
