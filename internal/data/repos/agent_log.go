package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type AgentLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *domain.AgentLog) (*domain.AgentLog, error)
	Finalize(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	ListByTask(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) ([]*domain.AgentLog, error)
}

type agentLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAgentLogRepo(db *gorm.DB, baseLog *logger.Logger) AgentLogRepo {
	return &agentLogRepo{db: db, log: baseLog.With("repo", "AgentLogRepo")}
}

func (r *agentLogRepo) Create(ctx context.Context, tx *gorm.DB, entry *domain.AgentLog) (*domain.AgentLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if entry == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *agentLogRepo) Finalize(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["finished_at"]; !ok {
		updates["finished_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&domain.AgentLog{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *agentLogRepo) ListByTask(ctx context.Context, tx *gorm.DB, taskID uuid.UUID) ([]*domain.AgentLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.AgentLog
	if taskID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("started_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
