package handlers

import (
	"fmt"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/planforge-backend/internal/jobs/runtime"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// FileIngest runs the ingestion pipeline for an uploaded knowledge-base
// document.
type FileIngest struct {
	log    *logger.Logger
	ingest pipeline.Pipeline
}

func NewFileIngest(log *logger.Logger, ingest pipeline.Pipeline) *FileIngest {
	return &FileIngest{log: log.With("handler", domain.JobTypeFileIngest), ingest: ingest}
}

func (h *FileIngest) Type() string { return domain.JobTypeFileIngest }

func (h *FileIngest) Run(jc *runtime.Context) error {
	fileID, ok := jc.PayloadUUID("file_id")
	if !ok && jc.Job.EntityID != nil {
		fileID = *jc.Job.EntityID
		ok = true
	}
	if !ok {
		jc.Fail("validate", fmt.Errorf("file ingest job %s has no file_id", jc.Job.ID))
		return nil
	}

	jc.Progress("extracting", 10, "")
	if err := h.ingest.Ingest(jc.Ctx, fileID); err != nil {
		jc.Fail("ingest", err)
		return nil
	}
	jc.Succeed("indexed", map[string]any{"file_id": fileID.String()})
	return nil
}
