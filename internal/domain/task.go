package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusReviewing  TaskStatus = "reviewing"
	TaskStatusFailed     TaskStatus = "failed"
)

type TaskType string

const (
	TaskTypeExamPrep        TaskType = "exam_prep"
	TaskTypeProjectPlanning TaskType = "project_planning"
	TaskTypeLearningPath    TaskType = "learning_path"
	TaskTypeCustom          TaskType = "custom"
)

func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskTypeExamPrep, TaskTypeProjectPlanning, TaskTypeLearningPath, TaskTypeCustom:
		return true
	default:
		return false
	}
}

// Task is one planning request and its lifecycle. Stage outputs are
// populated strictly in order: plan_output only after research_output,
// review_output only after plan_output. Only the orchestrator mutates a
// task once created.
type Task struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Title       string     `gorm:"column:title;not null" json:"title"`
	Description string     `gorm:"column:description;type:text;not null" json:"description"`
	TaskType    TaskType   `gorm:"column:task_type;not null;default:'custom'" json:"task_type"`
	Status      TaskStatus `gorm:"column:status;not null;default:'pending';index" json:"status"`

	LLMProvider  string `gorm:"column:llm_provider;not null" json:"llm_provider"`
	ModelName    string `gorm:"column:model_name;not null" json:"model_name"`
	UseCustomRAG bool   `gorm:"column:use_custom_rag;not null;default:false" json:"use_custom_rag"`

	// ReworkClaimedAt is the single-writer lease for the modification run;
	// set while exactly one worker reworks the plan, NULL otherwise.
	ReworkClaimedAt *time.Time `gorm:"column:rework_claimed_at" json:"-"`

	ResearchOutput datatypes.JSON `gorm:"column:research_output;type:jsonb" json:"research_output,omitempty"`
	PlanOutput     datatypes.JSON `gorm:"column:plan_output;type:jsonb" json:"plan_output,omitempty"`
	ReviewOutput   datatypes.JSON `gorm:"column:review_output;type:jsonb" json:"review_output,omitempty"`
	Error          string         `gorm:"column:error;type:text" json:"error,omitempty"`

	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Task) TableName() string { return "task" }

// BeforeCreate fills the id when the database has no uuid default (sqlite
// in tests).
func (t *Task) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
