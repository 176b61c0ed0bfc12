package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AgentType string

const (
	AgentTypeResearcher AgentType = "researcher"
	AgentTypePlanner    AgentType = "planner"
	AgentTypeReviewer   AgentType = "reviewer"
)

type AgentLogStatus string

const (
	AgentLogStatusRunning AgentLogStatus = "running"
	AgentLogStatusSuccess AgentLogStatus = "success"
	AgentLogStatusFailure AgentLogStatus = "failure"
)

// AgentLog records one agent invocation for auditability. A row is opened
// immediately before the provider call and finalized right after it, so at
// most one log per (task, agent, attempt) is ever left open.
type AgentLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID    uuid.UUID      `gorm:"type:uuid;not null;index" json:"task_id"`
	Task      *Task          `gorm:"constraint:OnDelete:CASCADE;foreignKey:TaskID;references:ID" json:"task,omitempty"`
	AgentType AgentType      `gorm:"column:agent_type;not null;index" json:"agent_type"`
	Input     datatypes.JSON `gorm:"column:input;type:jsonb" json:"input"`
	Output    datatypes.JSON `gorm:"column:output;type:jsonb" json:"output,omitempty"`
	Status    AgentLogStatus `gorm:"column:status;not null" json:"status"`
	ErrorMsg  string         `gorm:"column:error_message;type:text" json:"error_message,omitempty"`

	DurationMS int64 `gorm:"column:duration_ms" json:"duration_ms"`
	TokensUsed int   `gorm:"column:tokens_used" json:"tokens_used"`

	StartedAt  time.Time  `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (AgentLog) TableName() string { return "agent_log" }

func (l *AgentLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
