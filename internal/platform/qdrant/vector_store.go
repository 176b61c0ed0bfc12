package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/planforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/planforge-backend/internal/platform/httpx"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

const maxErrorBodyBytes = 1024

var pointIDNamespaceUUID = uuid.MustParse("7c9e3b42-8a15-4f6d-9d07-2b46a1c5e0d3")

// Vector is one embedded chunk headed for the index. Payload carries the
// chunk text and its provenance (file_id, user_id, filename, chunk_index,
// chunk_size).
type Vector struct {
	ID      string
	Values  []float32
	Payload map[string]any
}

// Match is one similarity-query hit, ordered by descending score.
type Match struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorStore is the index surface the retriever and ingestion pipeline
// consume: upsert, similarity query with server-side metadata filter, and
// deletion by filter for file cleanup.
type VectorStore interface {
	Upsert(ctx context.Context, vectors []Vector) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error)
	DeleteByFilter(ctx context.Context, filter map[string]any) error
	CollectionInfo(ctx context.Context) (*CollectionInfo, error)
}

// CollectionInfo is the slice of Qdrant's collection detail the stats
// endpoint surfaces.
type CollectionInfo struct {
	Collection  string `json:"collection"`
	Status      string `json:"status"`
	PointsCount int64  `json:"points_count"`
	VectorDim   int    `json:"vector_dim"`
}

type vectorStore struct {
	log     *logger.Logger
	cfg     Config
	baseURL string
	http    *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func NewVectorStore(log *logger.Logger, cfg Config) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	s := &vectorStore{
		log:     log.With("service", "QdrantVectorStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := s.ensureCollection(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Qdrant vector store ready",
		"url", s.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
	)
	return s, nil
}

func (s *vectorStore) Upsert(ctx context.Context, vectors []Vector) error {
	const op = "upsert"
	if len(vectors) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		vectorID := strings.TrimSpace(v.ID)
		if vectorID == "" {
			return opErr(op, OperationErrorValidation, "vector id is required", nil)
		}
		if len(v.Values) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("vector %q has empty values", vectorID), nil)
		}
		if s.cfg.VectorDim > 0 && len(v.Values) != s.cfg.VectorDim {
			return opErr(op, OperationErrorValidation,
				fmt.Sprintf("vector %q dimension mismatch: expected=%d got=%d", vectorID, s.cfg.VectorDim, len(v.Values)),
				nil)
		}
		payload := clonePayload(v.Payload)
		payload["_vector_id"] = vectorID
		points = append(points, map[string]any{
			"id":      pointID(vectorID),
			"vector":  v.Values,
			"payload": payload,
		})
	}

	req := map[string]any{"points": points}
	return s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/points?wait=true"), req, nil)
}

func (s *vectorStore) Query(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	const op = "query"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if s.cfg.VectorDim > 0 && len(vector) != s.cfg.VectorDim {
		return nil, opErr(op, OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", s.cfg.VectorDim, len(vector)),
			nil)
	}
	if topK <= 0 {
		topK = 10
	}

	qdrantFilter, err := translateFilterMap(filter)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if fm := qdrantFilter.asMap(); len(fm) > 0 {
		req["filter"] = fm
	}

	var rawResults []searchResultItem
	if err := s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(rawResults))
	for _, item := range rawResults {
		id := extractVectorID(item)
		if id == "" {
			continue
		}
		out = append(out, Match{
			ID:      id,
			Score:   item.Score,
			Payload: item.Payload,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (s *vectorStore) DeleteByFilter(ctx context.Context, filter map[string]any) error {
	const op = "delete"
	if len(filter) == 0 {
		return opErr(op, OperationErrorValidation, "delete filter required", nil)
	}
	qdrantFilter, err := translateFilterMap(filter)
	if err != nil {
		return err
	}
	req := map[string]any{"filter": qdrantFilter.asMap()}
	return s.doJSON(ctx, op, http.MethodPost, s.collectionPath("/points/delete?wait=true"), req, nil)
}

func (s *vectorStore) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	const op = "info"

	var result struct {
		Status      string `json:"status"`
		PointsCount int64  `json:"points_count"`
		Config      struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Collection:  s.cfg.Collection,
		Status:      result.Status,
		PointsCount: result.PointsCount,
		VectorDim:   result.Config.Params.Vectors.Size,
	}, nil
}

// ensureCollection verifies the collection exists with the configured
// dimension and creates it (cosine distance) when missing.
func (s *vectorStore) ensureCollection(ctx context.Context) error {
	const op = "bootstrap"

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &result)
	if err != nil {
		var oe *OperationError
		if !errors.As(err, &oe) || oe.StatusCode != http.StatusNotFound {
			return err
		}
		create := map[string]any{
			"vectors": map[string]any{
				"size":     s.cfg.VectorDim,
				"distance": "Cosine",
			},
		}
		return s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), create, nil)
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != s.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf("collection %q vector size mismatch: expected=%d actual=%d",
				s.cfg.Collection, s.cfg.VectorDim, size),
		}
	}
	return nil
}

// doJSON issues one request with a single bounded retry on transient
// failures. Every operation here is idempotent: point ids are stable, so
// a replayed upsert overwrites and a replayed delete is a no-op.
func (s *vectorStore) doJSON(ctx context.Context, op, method, path string, in any, out any) error {
	var encoded []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		encoded = raw
	}

	err := s.doJSONOnce(ctx, op, method, path, encoded, out)
	if err != nil && httpx.IsRetryableError(err) {
		select {
		case <-ctx.Done():
			return err
		case <-time.After(httpx.JitterSleep(500 * time.Millisecond)):
		}
		err = s.doJSONOnce(ctx, op, method, path, encoded, out)
	}
	return err
}

func (s *vectorStore) doJSONOnce(ctx context.Context, op, method, path string, encoded []byte, out any) error {
	var body io.Reader
	if encoded != nil {
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, s.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "qdrant request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("qdrant http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode qdrant result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("qdrant status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}
	return fmt.Sprintf("qdrant status=%s", status)
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}

func (s *vectorStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// pointID derives a stable UUID point id from the caller's vector id, so
// re-ingesting the same chunk overwrites rather than duplicates.
func pointID(vectorID string) string {
	return uuid.NewSHA1(pointIDNamespaceUUID, []byte(vectorID)).String()
}

func extractVectorID(item searchResultItem) string {
	if payloadID, ok := item.Payload["_vector_id"].(string); ok {
		if id := strings.TrimSpace(payloadID); id != "" {
			return id
		}
	}
	if len(item.ID) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(item.ID, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(item.ID, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(item.ID))
}
