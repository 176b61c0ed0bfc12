package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/yungbote/planforge-backend/internal/platform/embedding"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
	"github.com/yungbote/planforge-backend/internal/platform/qdrant"
)

// Result is one retrieved knowledge chunk with its provenance, ordered by
// descending similarity score.
type Result struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Filename   string  `json:"filename"`
	FileID     string  `json:"file_id"`
	ChunkIndex int     `json:"chunk_index"`
}

// Retriever answers similarity queries over a single user's indexed
// documents.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, userID string) ([]Result, error)
}

type retriever struct {
	log         *logger.Logger
	embedder    embedding.Client
	store       qdrant.VectorStore
	defaultTopK int
}

func New(log *logger.Logger, embedder embedding.Client, store qdrant.VectorStore) Retriever {
	return &retriever{
		log:         log.With("component", "retriever"),
		embedder:    embedder,
		store:       store,
		defaultTopK: envutil.Int("RETRIEVAL_TOP_K", 10),
	}
}

// Search embeds the query and runs a filtered similarity lookup scoped to
// the owning user. An index with no matching points yields an empty result
// set, not an error.
func (r *retriever) Search(ctx context.Context, query string, topK int, userID string) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("retriever: query must not be empty")
	}
	if userID == "" {
		return nil, fmt.Errorf("retriever: user id must not be empty")
	}
	if topK <= 0 {
		topK = r.defaultTopK
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retriever: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("retriever: embed query: want 1 vector, got %d", len(vectors))
	}

	matches, err := r.store.Query(ctx, vectors[0], topK, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("retriever: vector query: %w", err)
	}

	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		out = append(out, Result{
			Text:       payloadString(m.Payload, "text"),
			Score:      m.Score,
			Filename:   payloadString(m.Payload, "filename"),
			FileID:     payloadString(m.Payload, "file_id"),
			ChunkIndex: payloadInt(m.Payload, "chunk_index"),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkIndex < out[j].ChunkIndex
	})
	r.log.Debug("search complete", "user_id", userID, "top_k", topK, "hits", len(out))
	return out, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
