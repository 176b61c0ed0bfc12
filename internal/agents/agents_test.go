package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/llm"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/rag/retriever"
)

type stubClient struct {
	provider llm.Provider
	failures []error
	text     string
	tokens   int
	calls    int
	lastReq  llm.CompletionRequest
}

func (s *stubClient) Provider() llm.Provider { return s.provider }

func (s *stubClient) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	s.calls++
	s.lastReq = req
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	return &llm.Completion{Text: s.text, TokensUsed: s.tokens}, nil
}

type stubResolver struct {
	client llm.Client
}

func (s *stubResolver) Client(_ llm.Provider) (llm.Client, error) { return s.client, nil }

type stubRetriever struct {
	results []retriever.Result
	err     error
	query   string
	userID  string
}

func (s *stubRetriever) Search(_ context.Context, query string, _ int, userID string) ([]retriever.Result, error) {
	s.query = query
	s.userID = userID
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testTask() *domain.Task {
	return &domain.Task{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Title:       "Prepare for the networking exam",
		Description: "Three weeks, weak on routing protocols",
		TaskType:    domain.TaskTypeExamPrep,
		LLMProvider: "openai",
		ModelName:   "gpt-4o-mini",
	}
}

func transientErr() error {
	return &llm.ProviderError{Provider: llm.ProviderOpenAI, Kind: llm.ErrKindRateLimited, StatusCode: 429}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	t.Setenv("AGENT_RETRY_BACKOFF", "1ms")
	client := &stubClient{provider: llm.ProviderOpenAI, text: "ok", failures: []error{transientErr(), transientErr()}}
	exec := newExecutor(testLogger(t), &stubResolver{client: client}, nil)

	task := testTask()
	spec := exec.resolveCall(task, "system", "user")
	comp, err := exec.complete(context.Background(), task, domain.AgentTypeResearcher, spec)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if comp.Text != "ok" {
		t.Fatalf("text: got=%q", comp.Text)
	}
	if client.calls != 3 {
		t.Fatalf("calls: want=3 got=%d", client.calls)
	}
}

func TestExecutorGivesUpAfterMaxRetries(t *testing.T) {
	t.Setenv("AGENT_RETRY_BACKOFF", "1ms")
	client := &stubClient{provider: llm.ProviderOpenAI, failures: []error{transientErr(), transientErr(), transientErr(), transientErr()}}
	exec := newExecutor(testLogger(t), &stubResolver{client: client}, nil)

	task := testTask()
	if _, err := exec.complete(context.Background(), task, domain.AgentTypePlanner, exec.resolveCall(task, "s", "u")); err == nil {
		t.Fatalf("expected failure after retries exhausted")
	}
	if client.calls != 3 {
		t.Fatalf("calls: want=3 got=%d", client.calls)
	}
}

func TestExecutorHonorsProviderRetryAfter(t *testing.T) {
	t.Setenv("AGENT_RETRY_BACKOFF", "1ms")
	rateErr := &llm.ProviderError{
		Provider:   llm.ProviderOpenAI,
		Kind:       llm.ErrKindRateLimited,
		StatusCode: 429,
		RetryAfter: 60 * time.Millisecond,
	}
	client := &stubClient{provider: llm.ProviderOpenAI, text: "ok", failures: []error{rateErr}}
	exec := newExecutor(testLogger(t), &stubResolver{client: client}, nil)

	task := testTask()
	started := time.Now()
	if _, err := exec.complete(context.Background(), task, domain.AgentTypePlanner, exec.resolveCall(task, "s", "u")); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 60*time.Millisecond {
		t.Fatalf("retry-after ignored: slept only %s", elapsed)
	}
	if client.calls != 2 {
		t.Fatalf("calls: want=2 got=%d", client.calls)
	}
}

func TestExecutorDoesNotRetryPermanentFailures(t *testing.T) {
	authErr := &llm.ProviderError{Provider: llm.ProviderOpenAI, Kind: llm.ErrKindAuth, StatusCode: 401}
	client := &stubClient{provider: llm.ProviderOpenAI, failures: []error{authErr}}
	exec := newExecutor(testLogger(t), &stubResolver{client: client}, nil)

	task := testTask()
	_, err := exec.complete(context.Background(), task, domain.AgentTypePlanner, exec.resolveCall(task, "s", "u"))
	var pe *llm.ProviderError
	if !errors.As(err, &pe) || pe.Kind != llm.ErrKindAuth {
		t.Fatalf("want auth provider error, got=%v", err)
	}
	if client.calls != 1 {
		t.Fatalf("calls: want=1 got=%d", client.calls)
	}
}

type recordingLogRepo struct {
	created   *domain.AgentLog
	finalized map[string]interface{}
}

func (s *recordingLogRepo) Create(_ context.Context, _ *gorm.DB, entry *domain.AgentLog) (*domain.AgentLog, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.created = entry
	return entry, nil
}

func (s *recordingLogRepo) Finalize(_ context.Context, _ *gorm.DB, _ uuid.UUID, updates map[string]interface{}) error {
	s.finalized = updates
	return nil
}

func (s *recordingLogRepo) ListByTask(_ context.Context, _ *gorm.DB, _ uuid.UUID) ([]*domain.AgentLog, error) {
	return nil, nil
}

func TestExecutorAuditLogRecordsPrompts(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "the finished plan", tokens: 12}
	logs := &recordingLogRepo{}
	exec := newExecutor(testLogger(t), &stubResolver{client: client}, logs)

	task := testTask()
	longSystem := strings.Repeat("s", logSnippetMax+100)
	spec := exec.resolveCall(task, longSystem, "study three chapters a week")
	if _, err := exec.complete(context.Background(), task, domain.AgentTypePlanner, spec); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if logs.created == nil {
		t.Fatalf("no audit row opened")
	}
	var input map[string]any
	if err := json.Unmarshal(logs.created.Input, &input); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if got, _ := input["user_prompt"].(string); got != "study three chapters a week" {
		t.Fatalf("user_prompt: got=%q", got)
	}
	sys, _ := input["system_prompt"].(string)
	if !strings.HasPrefix(sys, "sss") || !strings.HasSuffix(sys, "...") {
		t.Fatalf("system_prompt not truncated: len=%d", len(sys))
	}
	if len(sys) > logSnippetMax+10 {
		t.Fatalf("system_prompt too long: len=%d", len(sys))
	}

	raw, ok := logs.finalized["output"].(datatypes.JSON)
	if !ok {
		t.Fatalf("output missing from finalize updates")
	}
	var output map[string]any
	if err := json.Unmarshal(raw, &output); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if got, _ := output["content"].(string); got != "the finished plan" {
		t.Fatalf("output content: got=%q", got)
	}
}

func TestResearcherStrictEmptyKnowledge(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "findings"}
	agent, err := NewResearcher(testLogger(t), &stubResolver{client: client}, nil, &stubRetriever{})
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}
	task := testTask()
	task.UseCustomRAG = true

	_, err = agent.Execute(context.Background(), Input{Task: task})
	if !errors.Is(err, ErrNoKnowledge) {
		t.Fatalf("want ErrNoKnowledge, got=%v", err)
	}
	var ee *ExecutionError
	if !errors.As(err, &ee) || ee.Agent != domain.AgentTypeResearcher {
		t.Fatalf("want researcher execution error, got=%v", err)
	}
	if client.calls != 0 {
		t.Fatalf("provider must not be called, calls=%d", client.calls)
	}
}

func TestResearcherEmptyKnowledgeFallbackPolicy(t *testing.T) {
	t.Setenv("RAG_STRICT_EMPTY", "false")
	client := &stubClient{provider: llm.ProviderOpenAI, text: "findings", tokens: 12}
	agent, err := NewResearcher(testLogger(t), &stubResolver{client: client}, nil, &stubRetriever{})
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}
	task := testTask()
	task.UseCustomRAG = true

	out, err := agent.Execute(context.Background(), Input{Task: task})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Metadata["has_rag_context"] != false {
		t.Fatalf("has_rag_context: want=false got=%v", out.Metadata["has_rag_context"])
	}
	if !strings.Contains(client.lastReq.User, "no relevant documents") {
		t.Fatalf("fallback notice missing from prompt")
	}
}

func TestResearcherBestEffortWithoutCustomRAG(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "findings"}
	search := &stubRetriever{err: errors.New("index down")}
	agent, err := NewResearcher(testLogger(t), &stubResolver{client: client}, nil, search)
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}

	out, err := agent.Execute(context.Background(), Input{Task: testTask()})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Metadata["rag_sources_count"] != 0 {
		t.Fatalf("rag_sources_count: want=0 got=%v", out.Metadata["rag_sources_count"])
	}
}

func TestResearcherIncludesRetrievedContext(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "findings", tokens: 30}
	search := &stubRetriever{results: []retriever.Result{
		{Text: "OSPF areas reduce LSA flooding", Score: 0.88, Filename: "routing.md", ChunkIndex: 4},
	}}
	agent, err := NewResearcher(testLogger(t), &stubResolver{client: client}, nil, search)
	if err != nil {
		t.Fatalf("NewResearcher: %v", err)
	}
	task := testTask()

	out, err := agent.Execute(context.Background(), Input{Task: task})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if search.userID != task.OwnerUserID.String() {
		t.Fatalf("retrieval user scope: want=%s got=%s", task.OwnerUserID, search.userID)
	}
	if !strings.Contains(client.lastReq.User, "routing.md") || !strings.Contains(client.lastReq.User, "OSPF areas") {
		t.Fatalf("retrieved context missing from prompt")
	}
	if out.Metadata["rag_sources_count"] != 1 || out.Metadata["has_rag_context"] != true {
		t.Fatalf("metadata: got=%v", out.Metadata)
	}
	if out.AgentType != domain.AgentTypeResearcher {
		t.Fatalf("agent type: got=%s", out.AgentType)
	}
}

func TestPlannerBuildsOnResearch(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "the plan", tokens: 50}
	agent, err := NewPlanner(testLogger(t), &stubResolver{client: client}, nil)
	if err != nil {
		t.Fatalf("NewPlanner: %v", err)
	}

	research := &domain.StageOutput{AgentType: domain.AgentTypeResearcher, Content: "key finding: focus on OSPF"}
	out, err := agent.Execute(context.Background(), Input{Task: testTask(), Research: research})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(client.lastReq.User, "focus on OSPF") {
		t.Fatalf("research findings missing from prompt")
	}
	if out.Metadata["based_on_research"] != true {
		t.Fatalf("based_on_research: got=%v", out.Metadata["based_on_research"])
	}
}

func TestReviewerPolishesDraftPlan(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "final plan", tokens: 40}
	agent, err := NewReviewer(testLogger(t), &stubResolver{client: client}, nil)
	if err != nil {
		t.Fatalf("NewReviewer: %v", err)
	}

	in := Input{
		Task:     testTask(),
		Research: &domain.StageOutput{Content: "research body"},
		Plan:     &domain.StageOutput{Content: "draft plan body"},
	}
	out, err := agent.Execute(context.Background(), in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(client.lastReq.User, "draft plan body") {
		t.Fatalf("draft plan missing from prompt")
	}
	if out.Metadata["reviewed_plan"] != true {
		t.Fatalf("reviewed_plan: got=%v", out.Metadata["reviewed_plan"])
	}
}

func TestReviewerModification(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI, text: "updated plan", tokens: 40}
	agent, err := NewReviewer(testLogger(t), &stubResolver{client: client}, nil)
	if err != nil {
		t.Fatalf("NewReviewer: %v", err)
	}

	in := Input{
		Task:                testTask(),
		Review:              &domain.StageOutput{Content: "delivered plan"},
		ModificationRequest: "compress to two weeks",
	}
	out, err := agent.Execute(context.Background(), in)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(client.lastReq.User, "compress to two weeks") || !strings.Contains(client.lastReq.User, "delivered plan") {
		t.Fatalf("modification prompt incomplete")
	}
	if out.Metadata["modification_applied"] != true {
		t.Fatalf("modification_applied: got=%v", out.Metadata["modification_applied"])
	}
}

func TestReviewerModificationNeedsExistingPlan(t *testing.T) {
	client := &stubClient{provider: llm.ProviderOpenAI}
	agent, err := NewReviewer(testLogger(t), &stubResolver{client: client}, nil)
	if err != nil {
		t.Fatalf("NewReviewer: %v", err)
	}

	_, err = agent.Execute(context.Background(), Input{Task: testTask(), ModificationRequest: "change it"})
	if err == nil {
		t.Fatalf("expected error with no plan to modify")
	}
	if client.calls != 0 {
		t.Fatalf("provider must not be called, calls=%d", client.calls)
	}
}
