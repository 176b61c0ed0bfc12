package domain

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return db
}

// The models must migrate on sqlite, so column defaults cannot lean on
// postgres functions. Identity and timestamps come from hooks and gorm's
// autoCreateTime convention instead.
func TestModelsMigrateOnSqlite(t *testing.T) {
	db := openTestDB(t)
	if err := db.AutoMigrate(&Task{}, &JobRun{}, &UploadedFile{}, &AgentLog{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func TestCreateFillsIdentityAndTimestamps(t *testing.T) {
	db := openTestDB(t)
	if err := db.AutoMigrate(&Task{}, &UploadedFile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	task := &Task{
		OwnerUserID: uuid.New(),
		Title:       "exam prep",
		Description: "calculus final",
		TaskType:    TaskTypeExamPrep,
		Status:      TaskStatusPending,
		LLMProvider: "openai",
		ModelName:   "gpt-4o-mini",
	}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID == uuid.Nil {
		t.Fatalf("task id not assigned")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Fatalf("task timestamps not assigned: created=%v updated=%v", task.CreatedAt, task.UpdatedAt)
	}

	file := &UploadedFile{
		OwnerUserID:  uuid.New(),
		StoredName:   "abc.txt",
		OriginalName: "notes.txt",
		SizeBytes:    12,
		Extension:    ".txt",
		Status:       FileStatusUploaded,
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("create file: %v", err)
	}
	if file.ID == uuid.Nil {
		t.Fatalf("file id not assigned")
	}
	if file.UploadedAt.IsZero() {
		t.Fatalf("uploaded_at not assigned")
	}
}
