package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/planforge-backend/internal/data/repos"
	"github.com/yungbote/planforge-backend/internal/domain"
	"github.com/yungbote/planforge-backend/internal/ingestion/extractor"
	"github.com/yungbote/planforge-backend/internal/platform/embedding"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/platform/qdrant"
	"github.com/yungbote/planforge-backend/internal/rag/chunker"
)

// Config bounds what the pipeline will accept and how hard it drives the
// embedding backend.
type Config struct {
	UploadDir         string
	MaxFileSizeBytes  int64
	AllowedExtensions []string
	EmbedBatchSize    int
	EmbedConcurrency  int
}

func ResolveConfigFromEnv() Config {
	exts := strings.Split(envutil.Str("ALLOWED_FILE_EXTENSIONS", ".pdf,.txt,.md,.docx"), ",")
	for i := range exts {
		exts[i] = strings.ToLower(strings.TrimSpace(exts[i]))
	}
	return Config{
		UploadDir:         envutil.Str("UPLOAD_DIR", "./uploads"),
		MaxFileSizeBytes:  int64(envutil.Int("MAX_FILE_SIZE_MB", 100)) * 1024 * 1024,
		AllowedExtensions: exts,
		EmbedBatchSize:    envutil.Int("EMBED_BATCH_SIZE", 64),
		EmbedConcurrency:  envutil.Int("EMBED_CONCURRENCY", 4),
	}
}

// Pipeline turns an uploaded document into indexed vectors: extract text,
// chunk, embed, upsert, then record the indexing result on the file row.
type Pipeline interface {
	Ingest(ctx context.Context, fileID uuid.UUID) error
}

type pipeline struct {
	log      *logger.Logger
	cfg      Config
	files    repos.UploadedFileRepo
	splitter *chunker.Chunker
	embedder embedding.Client
	store    qdrant.VectorStore
}

func New(log *logger.Logger, cfg Config, files repos.UploadedFileRepo, splitter *chunker.Chunker, embedder embedding.Client, store qdrant.VectorStore) Pipeline {
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 64
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	return &pipeline{
		log:      log.With("component", "ingestion"),
		cfg:      cfg,
		files:    files,
		splitter: splitter,
		embedder: embedder,
		store:    store,
	}
}

// Ingest runs the full pipeline for one file. Every failure path marks the
// file failed with a reason; chunk_count and vector_ids are written only
// when indexing completed, so a mid-flight crash leaves them untouched and
// the partly-written vectors visible via the failed status.
func (p *pipeline) Ingest(ctx context.Context, fileID uuid.UUID) error {
	file, err := p.files.GetByID(ctx, nil, fileID)
	if err != nil {
		return fmt.Errorf("ingest: load file %s: %w", fileID, err)
	}
	if file == nil {
		return fmt.Errorf("ingest: file %s not found", fileID)
	}
	if file.Status != domain.FileStatusUploaded && file.Status != domain.FileStatusFailed {
		return fmt.Errorf("ingest: file %s is %s, not ingestable", fileID, file.Status)
	}

	if err := p.files.UpdateFields(ctx, nil, fileID, map[string]interface{}{
		"status": domain.FileStatusProcessing,
		"error":  "",
	}); err != nil {
		return fmt.Errorf("ingest: mark processing: %w", err)
	}

	vectorIDs, chunkCount, err := p.index(ctx, file)
	if err != nil {
		p.log.Error("ingest failed", "file_id", fileID.String(), "error", err.Error())
		now := time.Now().UTC()
		if markErr := p.files.UpdateFields(ctx, nil, fileID, map[string]interface{}{
			"status":       domain.FileStatusFailed,
			"error":        err.Error(),
			"processed_at": &now,
		}); markErr != nil {
			p.log.Error("mark failed", "file_id", fileID.String(), "error", markErr.Error())
		}
		return err
	}

	idsJSON, err := json.Marshal(vectorIDs)
	if err != nil {
		return fmt.Errorf("ingest: encode vector ids: %w", err)
	}
	now := time.Now().UTC()
	if err := p.files.UpdateFields(ctx, nil, fileID, map[string]interface{}{
		"status":       domain.FileStatusIndexed,
		"chunk_count":  chunkCount,
		"vector_ids":   idsJSON,
		"processed_at": &now,
	}); err != nil {
		return fmt.Errorf("ingest: record result: %w", err)
	}
	p.log.Info("file indexed", "file_id", fileID.String(), "chunks", chunkCount)
	return nil
}

func (p *pipeline) index(ctx context.Context, file *domain.UploadedFile) ([]string, int, error) {
	if !p.extensionAllowed(file.Extension) {
		return nil, 0, fmt.Errorf("extension %q not allowed", file.Extension)
	}
	if file.SizeBytes > p.cfg.MaxFileSizeBytes {
		return nil, 0, fmt.Errorf("file size %d exceeds limit %d", file.SizeBytes, p.cfg.MaxFileSizeBytes)
	}

	data, err := os.ReadFile(filepath.Join(p.cfg.UploadDir, file.StoredName))
	if err != nil {
		return nil, 0, fmt.Errorf("read stored file: %w", err)
	}
	if int64(len(data)) > p.cfg.MaxFileSizeBytes {
		return nil, 0, fmt.Errorf("stored file size %d exceeds limit %d", len(data), p.cfg.MaxFileSizeBytes)
	}

	text, err := extractor.Extract(file.OriginalName, data)
	if err != nil {
		return nil, 0, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, 0, fmt.Errorf("no extractable text")
	}

	chunks := p.splitter.SplitAll(text)
	if len(chunks) == 0 {
		return nil, 0, fmt.Errorf("no chunks produced")
	}

	vectors, err := p.embedChunks(ctx, chunks)
	if err != nil {
		return nil, 0, fmt.Errorf("embed chunks: %w", err)
	}

	points := make([]qdrant.Vector, len(chunks))
	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		id := fmt.Sprintf("%s:%d", file.ID, ch.Index)
		ids[i] = id
		points[i] = qdrant.Vector{
			ID:     id,
			Values: vectors[i],
			Payload: map[string]any{
				"text":        ch.Text,
				"file_id":     file.ID.String(),
				"user_id":     file.OwnerUserID.String(),
				"filename":    file.OriginalName,
				"chunk_index": ch.Index,
				"chunk_size":  ch.End - ch.Start,
			},
		}
	}
	if err := p.store.Upsert(ctx, points); err != nil {
		return nil, 0, fmt.Errorf("upsert vectors: %w", err)
	}
	return ids, len(chunks), nil
}

// embedChunks runs bounded-concurrency batch embedding and reassembles the
// vectors in chunk order.
func (p *pipeline) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	out := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)

	for batchStart := 0; batchStart < len(chunks); batchStart += p.cfg.EmbedBatchSize {
		start := batchStart
		end := start + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		g.Go(func() error {
			inputs := make([]string, end-start)
			for i := start; i < end; i++ {
				inputs[i-start] = chunks[i].Text
			}
			vectors, err := p.embedder.Embed(gctx, inputs)
			if err != nil {
				return fmt.Errorf("batch [%d,%d): %w", start, end, err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("batch [%d,%d): want %d vectors, got %d", start, end, end-start, len(vectors))
			}
			for i := range vectors {
				out[start+i] = vectors[i]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *pipeline) extensionAllowed(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range p.cfg.AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// RemoveFileVectors clears a deleted file's points from the index.
func RemoveFileVectors(ctx context.Context, store qdrant.VectorStore, fileID uuid.UUID) error {
	return store.DeleteByFilter(ctx, map[string]any{"file_id": fileID.String()})
}
