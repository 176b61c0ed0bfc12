package db

import (
	"fmt"

	"github.com/yungbote/planforge-backend/internal/domain"
)

func (s *PostgresService) AutoMigrateAll() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres service not initialized")
	}
	return s.db.AutoMigrate(
		&domain.Task{},
		&domain.AgentLog{},
		&domain.UploadedFile{},
		&domain.JobRun{},
	)
}
