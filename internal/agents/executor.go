package agents

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/httpx"
	"github.com/yungbote/planforge-backend/internal/platform/llm"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// clientResolver is the slice of llm.Factory the executor needs; tests
// substitute a fixed client.
type clientResolver interface {
	Client(provider llm.Provider) (llm.Client, error)
}

// executor is the shared agent call path: resolve provider and model,
// open an audit log row, run the completion with bounded retries on
// transient failures, finalize the log either way.
type executor struct {
	log         *logger.Logger
	clients     clientResolver
	logs        repos.AgentLogRepo
	maxRetries  int
	baseBackoff time.Duration
}

func newExecutor(log *logger.Logger, clients clientResolver, logs repos.AgentLogRepo) *executor {
	return &executor{
		log:         log,
		clients:     clients,
		logs:        logs,
		maxRetries:  envutil.Int("AGENT_MAX_RETRIES", 2),
		baseBackoff: envutil.Duration("AGENT_RETRY_BACKOFF", 2*time.Second),
	}
}

type callSpec struct {
	Provider llm.Provider
	Model    string
	System   string
	User     string
}

func (e *executor) resolveCall(task *domain.Task, system, user string) callSpec {
	provider := llm.Provider(task.LLMProvider)
	if !llm.ValidProvider(provider) {
		provider = llm.Provider(envutil.Str("DEFAULT_LLM_PROVIDER", string(llm.ProviderOpenAI)))
	}
	model := task.ModelName
	if model == "" {
		model = llm.DefaultModel(provider)
	}
	return callSpec{Provider: provider, Model: model, System: system, User: user}
}

// complete runs one agent call end to end. The audit row is best-effort:
// a log write failure is reported but never fails the stage.
func (e *executor) complete(ctx context.Context, task *domain.Task, agent domain.AgentType, spec callSpec) (*llm.Completion, error) {
	client, err := e.clients.Client(spec.Provider)
	if err != nil {
		return nil, err
	}
	temperature, maxTokens := llm.Limits(spec.Provider)

	started := time.Now().UTC()
	entry := e.openLog(ctx, task, agent, spec, started)

	req := llm.CompletionRequest{
		System:      spec.System,
		User:        spec.User,
		Model:       spec.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	var comp *llm.Completion
	var callErr error
	for attempt := 0; ; attempt++ {
		comp, callErr = client.Complete(ctx, req)
		if callErr == nil || attempt >= e.maxRetries || !llm.IsRetryable(callErr) {
			break
		}
		delay := httpx.JitterSleep(e.baseBackoff << attempt)
		var pe *llm.ProviderError
		if errors.As(callErr, &pe) && pe.RetryAfter > delay {
			delay = pe.RetryAfter
		}
		e.log.Warn("agent call retrying",
			"agent", string(agent), "attempt", attempt+1, "delay", delay.String(), "error", callErr.Error())
		select {
		case <-ctx.Done():
			callErr = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}

	e.finalizeLog(ctx, entry, comp, callErr, started)
	if callErr != nil {
		return nil, callErr
	}
	return comp, nil
}

// logSnippetMax bounds the prompt and completion text stored per audit
// row; full prompts can embed whole retrieved chunks.
const logSnippetMax = 4000

func snippet(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func (e *executor) openLog(ctx context.Context, task *domain.Task, agent domain.AgentType, spec callSpec, started time.Time) *domain.AgentLog {
	if e.logs == nil {
		return nil
	}
	input, _ := json.Marshal(map[string]any{
		"title":         task.Title,
		"task_type":     task.TaskType,
		"provider":      spec.Provider,
		"model":         spec.Model,
		"prompt_chars":  len(spec.User),
		"system_prompt": snippet(spec.System, logSnippetMax),
		"user_prompt":   snippet(spec.User, logSnippetMax),
	})
	entry, err := e.logs.Create(ctx, nil, &domain.AgentLog{
		TaskID:    task.ID,
		AgentType: agent,
		Input:     datatypes.JSON(input),
		Status:    domain.AgentLogStatusRunning,
		StartedAt: started,
	})
	if err != nil {
		e.log.Warn("agent log open failed", "agent", string(agent), "error", err.Error())
		return nil
	}
	return entry
}

func (e *executor) finalizeLog(ctx context.Context, entry *domain.AgentLog, comp *llm.Completion, callErr error, started time.Time) {
	if entry == nil {
		return
	}
	updates := map[string]interface{}{
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if callErr != nil {
		updates["status"] = domain.AgentLogStatusFailure
		updates["error_message"] = callErr.Error()
	} else {
		output, _ := json.Marshal(map[string]any{
			"content_chars": len(comp.Text),
			"tokens_used":   comp.TokensUsed,
			"content":       snippet(comp.Text, logSnippetMax),
		})
		updates["status"] = domain.AgentLogStatusSuccess
		updates["output"] = datatypes.JSON(output)
		updates["tokens_used"] = comp.TokensUsed
	}
	if err := e.logs.Finalize(ctx, nil, entry.ID, updates); err != nil {
		e.log.Warn("agent log finalize failed", "agent", string(entry.AgentType), "error", err.Error())
	}
}
