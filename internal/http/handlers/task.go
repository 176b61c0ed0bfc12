package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/http/response"
	"github.com/yungbote/planforge-backend/internal/orchestrator"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type TaskHandler struct {
	log      *logger.Logger
	pipeline *orchestrator.Pipeline
	logs     repos.AgentLogRepo
}

func NewTaskHandler(log *logger.Logger, pipeline *orchestrator.Pipeline, logs repos.AgentLogRepo) *TaskHandler {
	return &TaskHandler{
		log:      log.With("handler", "TaskHandler"),
		pipeline: pipeline,
		logs:     logs,
	}
}

type createTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	TaskType     string `json:"task_type"`
	LLMProvider  string `json:"llm_provider"`
	ModelName    string `json:"model_name"`
	UseCustomRAG bool   `json:"use_custom_rag"`
}

func (h *TaskHandler) Create(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	task, err := h.pipeline.Create(c.Request.Context(), orchestrator.CreateInput{
		OwnerUserID:  userID,
		Title:        req.Title,
		Description:  req.Description,
		TaskType:     domain.TaskType(req.TaskType),
		LLMProvider:  req.LLMProvider,
		ModelName:    req.ModelName,
		UseCustomRAG: req.UseCustomRAG,
	})
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_task", err)
		return
	}
	response.RespondCreated(c, task)
}

func (h *TaskHandler) Get(c *gin.Context) {
	task, ok := h.loadOwnedTask(c)
	if !ok {
		return
	}
	response.RespondOK(c, task)
}

func (h *TaskHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	tasks, err := h.pipeline.List(c.Request.Context(), userID, skip, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"tasks": tasks, "skip": skip, "limit": limit})
}

type modifyTaskRequest struct {
	ModificationRequest string `json:"modification_request"`
	LLMProvider         string `json:"llm_provider"`
	ModelName           string `json:"model_name"`
	UseCustomRAG        *bool  `json:"use_custom_rag"`
}

func (h *TaskHandler) Modify(c *gin.Context) {
	task, ok := h.loadOwnedTask(c)
	if !ok {
		return
	}
	var req modifyTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	err := h.pipeline.Modify(c.Request.Context(), task.ID, orchestrator.ModifyInput{
		ModificationRequest: req.ModificationRequest,
		LLMProvider:         req.LLMProvider,
		ModelName:           req.ModelName,
		UseCustomRAG:        req.UseCustomRAG,
	})
	switch {
	case err == nil:
		response.RespondAccepted(c, gin.H{"task_id": task.ID, "status": domain.TaskStatusReviewing})
	case errors.Is(err, orchestrator.ErrTaskBusy):
		response.RespondError(c, http.StatusConflict, "task_busy", err)
	case errors.Is(err, orchestrator.ErrNotModifiable):
		response.RespondError(c, http.StatusConflict, "not_modifiable", err)
	default:
		response.RespondError(c, http.StatusBadRequest, "invalid_modification", err)
	}
}

// Logs exposes a task's agent execution trail.
func (h *TaskHandler) Logs(c *gin.Context) {
	task, ok := h.loadOwnedTask(c)
	if !ok {
		return
	}
	entries, err := h.logs.ListByTask(c.Request.Context(), nil, task.ID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "logs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"task_id": task.ID, "logs": entries})
}

// loadOwnedTask parses the path id, loads the task and enforces ownership.
// It writes the error response itself when it returns false.
func (h *TaskHandler) loadOwnedTask(c *gin.Context) (*domain.Task, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return nil, false
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("task id must be a uuid"))
		return nil, false
	}
	task, err := h.pipeline.Get(c.Request.Context(), id)
	if errors.Is(err, orchestrator.ErrTaskNotFound) {
		response.RespondError(c, http.StatusNotFound, "not_found", err)
		return nil, false
	}
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return nil, false
	}
	if task.OwnerUserID != userID {
		response.RespondError(c, http.StatusNotFound, "not_found", orchestrator.ErrTaskNotFound)
		return nil, false
	}
	return task, true
}
