package llm

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
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

type openAIClient struct {
	log     *logger.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

func newOpenAIClient(log *logger.Logger, baseURL, apiKey string, timeout time.Duration) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("missing OpenAI API key")
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.openai.com"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &openAIClient{
		log:     log.With("client", "OpenAIClient"),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

func (c *openAIClient) Provider() Provider { return ProviderOpenAI }

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (c *openAIClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	messages := make([]openAIMessage, 0, 2)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.User})

	body := openAIChatRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindInvalidRequest, Cause: err}
	}

	u := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctxutil.Default(ctx), http.MethodPost, u, bytes.NewReader(raw))
	if err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindInvalidRequest, Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(ProviderOpenAI, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(ProviderOpenAI, resp, truncate(respBody, 512))
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindUnavailable, Message: "decode response failed", Cause: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: ProviderOpenAI, Kind: ErrKindUnavailable, Message: "no choices in response"}
	}

	return &Completion{
		Text:       parsed.Choices[0].Message.Content,
		TokensUsed: parsed.Usage.TotalTokens,
	}, nil
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n]) + "..."
}
