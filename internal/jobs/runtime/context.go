package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/realtime/bus"
)

// Context is the execution handle for one claimed job run: the row in
// memory, the repo that persists its lifecycle, and the progress bus.
// Handlers never write job_run directly; Progress, Fail and Succeed are
// the only sanctioned transitions.
type Context struct {
	Ctx     context.Context
	Job     *domain.JobRun
	Repo    repos.JobRunRepo
	Publish bus.Publisher

	payload map[string]any
}

// NewContext eagerly decodes the payload; a malformed payload surfaces as
// missing keys, which handlers validate anyway.
func NewContext(ctx context.Context, job *domain.JobRun, repo repos.JobRunRepo, publish bus.Publisher) *Context {
	c := &Context{Ctx: ctx, Job: job, Repo: repo, Publish: publish}
	c.payload = map[string]any{}
	if job != nil && len(job.Payload) > 0 {
		var m map[string]any
		if err := json.Unmarshal(job.Payload, &m); err == nil {
			c.payload = m
		}
	}
	return c
}

func (c *Context) Payload() map[string]any { return c.payload }

// PayloadUUID reads a payload field and parses it as a UUID.
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.payload[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(fmt.Sprint(v))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.payload[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Progress persists a non-terminal stage update with a heartbeat and
// emits it on the bus.
func (c *Context) Progress(stage string, pct int, msg string) {
	now := time.Now().UTC()
	if err := c.Repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": &now,
	}); err != nil {
		return
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.emit(string(domain.JobStatusRunning), stage, pct, msg)
}

// Fail terminally fails the run, releasing the lock so a later claim can
// retry it while attempts remain.
func (c *Context) Fail(stage string, err error) {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if updErr := c.Repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": &now,
		"locked_at":     nil,
	}); updErr != nil {
		return
	}
	c.Job.Status = domain.JobStatusFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.emit(string(domain.JobStatusFailed), stage, c.Job.Progress, msg)
}

// Succeed terminally completes the run and stores the result payload.
func (c *Context) Succeed(finalStage string, result any) {
	now := time.Now().UTC()
	var res datatypes.JSON
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			res = datatypes.JSON(b)
		}
	}
	if err := c.Repo.UpdateFields(c.Ctx, nil, c.Job.ID, map[string]interface{}{
		"status":       domain.JobStatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": &now,
	}); err != nil {
		return
	}
	c.Job.Status = domain.JobStatusSucceeded
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.emit(string(domain.JobStatusSucceeded), finalStage, 100, "")
}

func (c *Context) emit(status, stage string, pct int, msg string) {
	if c.Publish == nil {
		return
	}
	entityID := ""
	if c.Job.EntityID != nil {
		entityID = c.Job.EntityID.String()
	}
	c.Publish.Publish(c.Ctx, c.Job.OwnerUserID, bus.Event{
		JobID:    c.Job.ID.String(),
		JobType:  c.Job.JobType,
		EntityID: entityID,
		Stage:    stage,
		Progress: pct,
		Status:   status,
		Message:  msg,
	})
}
