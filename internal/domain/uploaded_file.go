package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type FileStatus string

const (
	FileStatusUploaded   FileStatus = "uploaded"
	FileStatusProcessing FileStatus = "processing"
	FileStatusIndexed    FileStatus = "indexed"
	FileStatusFailed     FileStatus = "failed"
)

// UploadedFile is one ingested knowledge-base document. The ingestion
// pipeline is the only writer after upload; chunk_count and vector_ids are
// write-once on successful indexing.
type UploadedFile struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	StoredName   string     `gorm:"column:stored_name;not null" json:"stored_name"`
	OriginalName string     `gorm:"column:original_name;not null" json:"original_name"`
	SizeBytes    int64      `gorm:"column:size_bytes;not null" json:"size_bytes"`
	MediaType    string     `gorm:"column:media_type" json:"media_type"`
	Extension    string     `gorm:"column:extension;not null" json:"extension"`
	Status       FileStatus `gorm:"column:status;not null;default:'uploaded';index" json:"status"`
	Error        string     `gorm:"column:error;type:text" json:"error,omitempty"`

	ChunkCount int            `gorm:"column:chunk_count;not null;default:0" json:"chunk_count"`
	VectorIDs  datatypes.JSON `gorm:"column:vector_ids;type:jsonb" json:"vector_ids,omitempty"`

	UploadedAt  time.Time      `gorm:"column:uploaded_at;not null" json:"uploaded_at"`
	ProcessedAt *time.Time     `gorm:"column:processed_at" json:"processed_at,omitempty"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (UploadedFile) TableName() string { return "uploaded_file" }

func (f *UploadedFile) BeforeCreate(_ *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	return nil
}
