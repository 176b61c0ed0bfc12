package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

const (
	JobTypeTaskRun    = "task_run"
	JobTypeTaskModify = "task_modify"
	JobTypeFileIngest = "file_ingest"
)

// JobRun is one unit of background work claimed and executed by the worker
// pool. Claiming uses a row lock (SKIP LOCKED) plus an atomic status flip,
// which makes each run single-writer across worker instances.
type JobRun struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	JobType     string     `gorm:"column:job_type;not null;index" json:"job_type"`
	EntityType  string     `gorm:"column:entity_type;index" json:"entity_type,omitempty"`
	EntityID    *uuid.UUID `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`
	Status      JobStatus  `gorm:"column:status;not null;index" json:"status"`
	Stage       string     `gorm:"column:stage" json:"stage,omitempty"`
	Progress    int        `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts    int        `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error       string     `gorm:"column:error;type:text" json:"error,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at;index" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (JobRun) TableName() string { return "job_run" }

func (j *JobRun) BeforeCreate(_ *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
