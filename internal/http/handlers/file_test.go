package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/http/middleware"
	"github.com/yungbote/planforge-backend/internal/ingestion/pipeline"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/platform/qdrant"
)

type fakeVectorStore struct {
	info    *qdrant.CollectionInfo
	infoErr error
}

func (f *fakeVectorStore) Upsert(_ context.Context, _ []qdrant.Vector) error { return nil }

func (f *fakeVectorStore) Query(_ context.Context, _ []float32, _ int, _ map[string]any) ([]qdrant.Match, error) {
	return nil, nil
}

func (f *fakeVectorStore) DeleteByFilter(_ context.Context, _ map[string]any) error { return nil }

func (f *fakeVectorStore) CollectionInfo(_ context.Context) (*qdrant.CollectionInfo, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func newFileFixture(t *testing.T, store *fakeVectorStore) (repos.UploadedFileRepo, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.UploadedFile{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	files := repos.NewUploadedFileRepo(db, log)
	handler := NewFileHandler(log, pipeline.Config{UploadDir: t.TempDir()}, files, nil, store)

	engine := gin.New()
	api := engine.Group("/api")
	api.Use(middleware.RequireUser())
	api.GET("/files/:id", handler.Get)
	api.GET("/rag/stats", handler.Stats)
	return files, engine
}

func getJSON(router *gin.Engine, userID uuid.UUID, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-User-ID", userID.String())
	router.ServeHTTP(w, req)
	return w
}

func seedFile(t *testing.T, files repos.UploadedFileRepo, owner uuid.UUID, status domain.FileStatus, chunks int) *domain.UploadedFile {
	t.Helper()
	file, err := files.Create(context.Background(), nil, &domain.UploadedFile{
		OwnerUserID:  owner,
		StoredName:   uuid.NewString() + ".pdf",
		OriginalName: "notes.pdf",
		SizeBytes:    128,
		Extension:    ".pdf",
		Status:       status,
		ChunkCount:   chunks,
	})
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return file
}

func TestGetFileReturnsOwnRecord(t *testing.T) {
	files, router := newFileFixture(t, &fakeVectorStore{})
	owner := uuid.New()
	seeded := seedFile(t, files, owner, domain.FileStatusIndexed, 4)

	w := getJSON(router, owner, "/api/files/"+seeded.ID.String())
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	var got domain.UploadedFile
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ID != seeded.ID || got.OriginalName != "notes.pdf" {
		t.Fatalf("file: want id=%s got id=%s name=%q", seeded.ID, got.ID, got.OriginalName)
	}
}

func TestGetFileHidesOtherOwners(t *testing.T) {
	files, router := newFileFixture(t, &fakeVectorStore{})
	seeded := seedFile(t, files, uuid.New(), domain.FileStatusIndexed, 4)

	w := getJSON(router, uuid.New(), "/api/files/"+seeded.ID.String())
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: want=%d got=%d", http.StatusNotFound, w.Code)
	}
}

func TestGetFileRejectsBadID(t *testing.T) {
	_, router := newFileFixture(t, &fakeVectorStore{})
	w := getJSON(router, uuid.New(), "/api/files/not-a-uuid")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: want=%d got=%d", http.StatusBadRequest, w.Code)
	}
}

func TestStatsCountsOwnerFiles(t *testing.T) {
	store := &fakeVectorStore{info: &qdrant.CollectionInfo{
		Collection:  "knowledge_base",
		Status:      "green",
		PointsCount: 42,
		VectorDim:   1536,
	}}
	files, router := newFileFixture(t, store)
	owner := uuid.New()
	seedFile(t, files, owner, domain.FileStatusIndexed, 4)
	seedFile(t, files, owner, domain.FileStatusIndexed, 6)
	seedFile(t, files, owner, domain.FileStatusUploaded, 0)
	seedFile(t, files, uuid.New(), domain.FileStatusIndexed, 9)

	w := getJSON(router, owner, "/api/rag/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d body=%s", http.StatusOK, w.Code, w.Body.String())
	}
	var body struct {
		UserStats       repos.OwnerFileStats   `json:"user_stats"`
		CollectionStats *qdrant.CollectionInfo `json:"collection_stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.UserStats.TotalFiles != 3 || body.UserStats.IndexedFiles != 2 || body.UserStats.TotalChunks != 10 {
		t.Fatalf("user stats: got=%+v", body.UserStats)
	}
	if body.CollectionStats == nil || body.CollectionStats.PointsCount != 42 {
		t.Fatalf("collection stats: got=%+v", body.CollectionStats)
	}
}

func TestStatsSurvivesIndexOutage(t *testing.T) {
	files, router := newFileFixture(t, &fakeVectorStore{infoErr: fmt.Errorf("connection refused")})
	owner := uuid.New()
	seedFile(t, files, owner, domain.FileStatusIndexed, 4)

	w := getJSON(router, owner, "/api/rag/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status: want=%d got=%d", http.StatusOK, w.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, ok := body["collection_stats"]; ok {
		t.Fatalf("collection_stats present despite index outage")
	}
	if _, ok := body["user_stats"]; !ok {
		t.Fatalf("user_stats missing")
	}
}
