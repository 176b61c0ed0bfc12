package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type TaskRepo interface {
	Create(ctx context.Context, tx *gorm.DB, task *domain.Task) (*domain.Task, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Task, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, skip, limit int) ([]*domain.Task, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// TransitionStatus flips the task status only when the current status is
	// one of from. Returns false when no row matched, which callers treat as
	// a lost lease (another run is active or the task moved on).
	TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []domain.TaskStatus, to domain.TaskStatus, updates map[string]interface{}) (bool, error)
	// ClaimRework stamps the rework lease on a reviewing task. At most one
	// caller wins; everyone else sees false.
	ClaimRework(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
}

type taskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTaskRepo(db *gorm.DB, baseLog *logger.Logger) TaskRepo {
	return &taskRepo{db: db, log: baseLog.With("repo", "TaskRepo")}
}

func (r *taskRepo) Create(ctx context.Context, tx *gorm.DB, task *domain.Task) (*domain.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if task == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *taskRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var task domain.Task
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, skip, limit int) ([]*domain.Task, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.Task
	if ownerUserID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 50
	}
	if skip < 0 {
		skip = 0
	}
	if err := transaction.WithContext(ctx).
		Where("owner_user_id = ?", ownerUserID).
		Order("created_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *taskRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) TransitionStatus(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []domain.TaskStatus, to domain.TaskStatus, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(from) == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to
	updates["updated_at"] = time.Now()
	res := transaction.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *taskRepo) ClaimRework(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	now := time.Now()
	res := transaction.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ? AND rework_claimed_at IS NULL", id, domain.TaskStatusReviewing).
		Updates(map[string]interface{}{
			"rework_claimed_at": now,
			"updated_at":        now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
