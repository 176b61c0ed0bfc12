package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/http/response"
	"github.com/yungbote/planforge-backend/internal/ingestion/extractor"
	"github.com/yungbote/planforge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/platform/qdrant"
)

type FileHandler struct {
	log   *logger.Logger
	cfg   pipeline.Config
	files repos.UploadedFileRepo
	jobs  repos.JobRunRepo
	store qdrant.VectorStore
}

func NewFileHandler(log *logger.Logger, cfg pipeline.Config, files repos.UploadedFileRepo, jobs repos.JobRunRepo, store qdrant.VectorStore) *FileHandler {
	return &FileHandler{
		log:   log.With("handler", "FileHandler"),
		cfg:   cfg,
		files: files,
		jobs:  jobs,
		store: store,
	}
}

// Upload accepts one multipart document, stores it under the upload
// directory and queues its ingestion. The response returns before any
// chunking or embedding happens.
func (h *FileHandler) Upload(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", fmt.Errorf("multipart field %q required", "file"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !extractor.SupportedExtension(header.Filename) {
		response.RespondError(c, http.StatusBadRequest, "unsupported_type", fmt.Errorf("extension %q not supported", ext))
		return
	}
	if header.Size > h.cfg.MaxFileSizeBytes {
		response.RespondError(c, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Errorf("file size %d exceeds limit %d", header.Size, h.cfg.MaxFileSizeBytes))
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	storedName := uuid.NewString() + ext
	if err := c.SaveUploadedFile(header, filepath.Join(h.cfg.UploadDir, storedName)); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}

	file, err := h.files.Create(c.Request.Context(), nil, &domain.UploadedFile{
		OwnerUserID:  userID,
		StoredName:   storedName,
		OriginalName: header.Filename,
		SizeBytes:    header.Size,
		MediaType:    header.Header.Get("Content-Type"),
		Extension:    ext,
		Status:       domain.FileStatusUploaded,
	})
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}

	fileID := file.ID
	if _, err := h.jobs.Create(c.Request.Context(), nil, &domain.JobRun{
		OwnerUserID: userID,
		JobType:     domain.JobTypeFileIngest,
		EntityType:  "uploaded_file",
		EntityID:    &fileID,
		Status:      domain.JobStatusQueued,
	}); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	response.RespondCreated(c, file)
}

func (h *FileHandler) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	files, err := h.files.ListByOwner(c.Request.Context(), nil, userID, skip, limit)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"files": files, "skip": skip, "limit": limit})
}

func (h *FileHandler) Get(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("file id must be a uuid"))
		return
	}
	file, err := h.files.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if file == nil || file.OwnerUserID != userID {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("file not found"))
		return
	}
	response.RespondOK(c, file)
}

// Stats reports the caller's knowledge-base counts plus the shared vector
// collection detail.
func (h *FileHandler) Stats(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	userStats, err := h.files.StatsByOwner(c.Request.Context(), nil, userID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	out := gin.H{"user_stats": userStats}
	if info, err := h.store.CollectionInfo(c.Request.Context()); err != nil {
		// Per-user stats still stand when the index is unreachable.
		h.log.Warn("collection info failed", "error", err.Error())
	} else {
		out["collection_stats"] = info
	}
	response.RespondOK(c, out)
}

// Delete removes the file row, its stored bytes and its index points.
func (h *FileHandler) Delete(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", fmt.Errorf("user not resolved"))
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_id", fmt.Errorf("file id must be a uuid"))
		return
	}
	file, err := h.files.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_failed", err)
		return
	}
	if file == nil || file.OwnerUserID != userID {
		response.RespondError(c, http.StatusNotFound, "not_found", errors.New("file not found"))
		return
	}

	if err := h.files.SoftDeleteByID(c.Request.Context(), nil, id); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "delete_failed", err)
		return
	}
	if err := pipeline.RemoveFileVectors(c.Request.Context(), h.store, id); err != nil {
		// The row is gone; orphaned points are reported, not resurrected.
		h.log.Warn("vector cleanup failed", "file_id", id.String(), "error", err.Error())
	}
	if err := os.Remove(filepath.Join(h.cfg.UploadDir, file.StoredName)); err != nil && !os.IsNotExist(err) {
		h.log.Warn("stored file cleanup failed", "file_id", id.String(), "error", err.Error())
	}
	response.RespondOK(c, gin.H{"deleted": id})
}
