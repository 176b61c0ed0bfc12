package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/planforge-backend/internal/platform/ctxutil"
	"github.com/yungbote/planforge-backend/internal/platform/envutil"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

// Client maps text to fixed-dimension vectors. The dimension is set by
// configuration and validated on every response.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
	Dimension() int
}

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Dim     int
	Timeout time.Duration
}

func ResolveConfigFromEnv() Config {
	apiKey := envutil.Str("EMBEDDING_API_KEY", "")
	if apiKey == "" {
		apiKey = envutil.Str("OPENAI_API_KEY", "")
	}
	return Config{
		BaseURL: envutil.Str("EMBEDDING_BASE_URL", "https://api.openai.com"),
		APIKey:  apiKey,
		Model:   envutil.Str("EMBEDDING_MODEL", "text-embedding-3-small"),
		Dim:     envutil.Int("EMBEDDING_DIM", 384),
		Timeout: envutil.Duration("EMBEDDING_TIMEOUT", 30*time.Second),
	}
}

type client struct {
	log  *logger.Logger
	cfg  Config
	http *http.Client
}

// NewClient builds an embeddings client against any OpenAI-compatible
// /v1/embeddings endpoint (api.openai.com or a self-hosted server).
func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("embedding base URL required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("embedding model required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dim)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &client{
		log:  log.With("client", "EmbeddingClient"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *client) Dimension() int { return c.cfg.Dim }

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	reqBody := embeddingsRequest{
		Model:      c.cfg.Model,
		Input:      clean,
		Dimensions: c.cfg.Dim,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("embeddings encode: %w", err)
	}

	u := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embeddings request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embeddings http %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var parsed embeddingsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("embeddings decode: %w", err)
	}
	if len(parsed.Data) != len(clean) {
		return nil, fmt.Errorf("embeddings count mismatch: requested=%d returned=%d", len(clean), len(parsed.Data))
	}

	out := make([][]float32, len(clean))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embeddings index out of range: %d", d.Index)
		}
		if len(d.Embedding) != c.cfg.Dim {
			return nil, fmt.Errorf("embedding dimension mismatch: expected=%d got=%d", c.cfg.Dim, len(d.Embedding))
		}
		out[d.Index] = d.Embedding
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embeddings response missing index %d", i)
		}
	}
	return out, nil
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
