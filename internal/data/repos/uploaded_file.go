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

type UploadedFileRepo interface {
	Create(ctx context.Context, tx *gorm.DB, file *domain.UploadedFile) (*domain.UploadedFile, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.UploadedFile, error)
	ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, skip, limit int) ([]*domain.UploadedFile, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	StatsByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*OwnerFileStats, error)
}

// OwnerFileStats summarizes one user's knowledge base.
type OwnerFileStats struct {
	TotalFiles   int64 `json:"total_files"`
	IndexedFiles int64 `json:"indexed_files"`
	TotalChunks  int64 `json:"total_chunks"`
}

type uploadedFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUploadedFileRepo(db *gorm.DB, baseLog *logger.Logger) UploadedFileRepo {
	return &uploadedFileRepo{db: db, log: baseLog.With("repo", "UploadedFileRepo")}
}

func (r *uploadedFileRepo) Create(ctx context.Context, tx *gorm.DB, file *domain.UploadedFile) (*domain.UploadedFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if file == nil {
		return nil, nil
	}
	if err := transaction.WithContext(ctx).Create(file).Error; err != nil {
		return nil, err
	}
	return file, nil
}

func (r *uploadedFileRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*domain.UploadedFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var file domain.UploadedFile
	err := transaction.WithContext(ctx).Where("id = ?", id).First(&file).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

func (r *uploadedFileRepo) ListByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID, skip, limit int) ([]*domain.UploadedFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.UploadedFile
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
		Order("uploaded_at DESC").
		Offset(skip).
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *uploadedFileRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&domain.UploadedFile{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *uploadedFileRepo) SoftDeleteByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&domain.UploadedFile{}).Error
}

func (r *uploadedFileRepo) StatsByOwner(ctx context.Context, tx *gorm.DB, ownerUserID uuid.UUID) (*OwnerFileStats, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	stats := &OwnerFileStats{}
	if ownerUserID == uuid.Nil {
		return stats, nil
	}
	if err := transaction.WithContext(ctx).
		Model(&domain.UploadedFile{}).
		Where("owner_user_id = ?", ownerUserID).
		Count(&stats.TotalFiles).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Model(&domain.UploadedFile{}).
		Where("owner_user_id = ? AND status = ?", ownerUserID, domain.FileStatusIndexed).
		Count(&stats.IndexedFiles).Error; err != nil {
		return nil, err
	}
	if err := transaction.WithContext(ctx).
		Model(&domain.UploadedFile{}).
		Where("owner_user_id = ? AND status = ?", ownerUserID, domain.FileStatusIndexed).
		Select("COALESCE(SUM(chunk_count), 0)").
		Scan(&stats.TotalChunks).Error; err != nil {
		return nil, err
	}
	return stats, nil
}
