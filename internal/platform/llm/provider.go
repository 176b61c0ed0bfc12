package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/yungbote/planforge-backend/internal/platform/httpx"
)

// maxRetryAfter caps how long a provider can ask us to wait before the
// next attempt.
const maxRetryAfter = 30 * time.Second

type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

func ValidProvider(p Provider) bool {
	switch p {
	case ProviderOpenAI, ProviderGemini:
		return true
	default:
		return false
	}
}

// CompletionRequest is the uniform call contract every provider implements.
type CompletionRequest struct {
	System      string
	User        string
	Model       string
	Temperature float64
	MaxTokens   int
}

type Completion struct {
	Text       string
	TokensUsed int
}

// Client is the provider-call capability agents consume. Retry policy lives
// with the caller; implementations surface a classified ProviderError per
// failed attempt.
type Client interface {
	Provider() Provider
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

type ErrorKind string

const (
	ErrKindRateLimited    ErrorKind = "rate_limited"
	ErrKindTimeout        ErrorKind = "timeout"
	ErrKindAuth           ErrorKind = "auth"
	ErrKindInvalidRequest ErrorKind = "invalid_request"
	ErrKindUnavailable    ErrorKind = "unavailable"
)

type ProviderError struct {
	Provider   Provider
	Kind       ErrorKind
	StatusCode int
	Message    string
	Cause      error

	// RetryAfter carries the provider's requested pause when the response
	// named one; zero means the caller picks its own backoff.
	RetryAfter time.Duration
}

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	if e.Message != "" {
		return fmt.Sprintf("%s provider error (kind=%s status=%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s provider error (kind=%s status=%d): %v", e.Provider, e.Kind, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s provider error (kind=%s status=%d)", e.Provider, e.Kind, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Retryable reports whether the error is transient: timeouts and rate
// limits retry with backoff, auth and malformed-request failures surface
// immediately.
func (e *ProviderError) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case ErrKindRateLimited, ErrKindTimeout, ErrKindUnavailable:
		return true
	default:
		return false
	}
}

func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

func classifyStatus(provider Provider, resp *http.Response, body string) *ProviderError {
	status := resp.StatusCode
	kind := ErrKindUnavailable
	switch {
	case status == http.StatusTooManyRequests:
		kind = ErrKindRateLimited
	case status == http.StatusRequestTimeout:
		kind = ErrKindTimeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrKindAuth
	case status >= 400 && status < 500:
		kind = ErrKindInvalidRequest
	}
	return &ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Message:    body,
		RetryAfter: httpx.RetryAfterDuration(resp, 0, maxRetryAfter),
	}
}

func classifyTransport(provider Provider, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{Provider: provider, Kind: ErrKindTimeout, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ProviderError{Provider: provider, Kind: ErrKindTimeout, Cause: err}
	}
	return &ProviderError{Provider: provider, Kind: ErrKindUnavailable, Cause: err}
}
