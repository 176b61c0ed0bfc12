package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

func TestClassifyStatusKinds(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusTooManyRequests, ErrKindRateLimited},
		{http.StatusRequestTimeout, ErrKindTimeout},
		{http.StatusUnauthorized, ErrKindAuth},
		{http.StatusForbidden, ErrKindAuth},
		{http.StatusBadRequest, ErrKindInvalidRequest},
		{http.StatusUnprocessableEntity, ErrKindInvalidRequest},
		{http.StatusInternalServerError, ErrKindUnavailable},
		{http.StatusBadGateway, ErrKindUnavailable},
	}
	for _, tc := range cases {
		resp := &http.Response{StatusCode: tc.status, Header: http.Header{}}
		pe := classifyStatus(ProviderOpenAI, resp, "boom")
		if pe.Kind != tc.want {
			t.Fatalf("status %d kind: want=%s got=%s", tc.status, tc.want, pe.Kind)
		}
		if pe.StatusCode != tc.status {
			t.Fatalf("status code: want=%d got=%d", tc.status, pe.StatusCode)
		}
	}
}

func TestClassifyStatusHonorsRetryAfter(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "7")
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: header}
	pe := classifyStatus(ProviderOpenAI, resp, "slow down")
	if pe.RetryAfter != 7*time.Second {
		t.Fatalf("retry after: want=%s got=%s", 7*time.Second, pe.RetryAfter)
	}

	header.Set("Retry-After", "3600")
	pe = classifyStatus(ProviderOpenAI, resp, "slow down")
	if pe.RetryAfter != maxRetryAfter {
		t.Fatalf("retry after cap: want=%s got=%s", maxRetryAfter, pe.RetryAfter)
	}
}

func TestRetryableKinds(t *testing.T) {
	retryable := []ErrorKind{ErrKindRateLimited, ErrKindTimeout, ErrKindUnavailable}
	for _, k := range retryable {
		pe := &ProviderError{Provider: ProviderOpenAI, Kind: k}
		if !pe.Retryable() {
			t.Fatalf("kind %s: want retryable", k)
		}
	}
	permanent := []ErrorKind{ErrKindAuth, ErrKindInvalidRequest}
	for _, k := range permanent {
		pe := &ProviderError{Provider: ProviderOpenAI, Kind: k}
		if pe.Retryable() {
			t.Fatalf("kind %s: want permanent", k)
		}
	}
}

func TestIsRetryableUnwrapsWrappedErrors(t *testing.T) {
	pe := &ProviderError{Provider: ProviderGemini, Kind: ErrKindRateLimited}
	wrapped := fmt.Errorf("stage researcher failed: %w", pe)
	if !IsRetryable(wrapped) {
		t.Fatalf("wrapped provider error should stay retryable")
	}
	if IsRetryable(errors.New("plain failure")) {
		t.Fatalf("non-provider error must not be retryable")
	}
}

func TestClassifyTransportTimeout(t *testing.T) {
	pe := classifyTransport(ProviderOpenAI, context.DeadlineExceeded)
	if pe.Kind != ErrKindTimeout {
		t.Fatalf("deadline kind: want=%s got=%s", ErrKindTimeout, pe.Kind)
	}
	pe = classifyTransport(ProviderOpenAI, errors.New("connection refused"))
	if pe.Kind != ErrKindUnavailable {
		t.Fatalf("transport kind: want=%s got=%s", ErrKindUnavailable, pe.Kind)
	}
}

func TestFactoryRejectsUnknownProvider(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	f := NewFactory(log)
	if _, err := f.Client(Provider("mystery")); err == nil {
		t.Fatalf("unknown provider: want error")
	}
}
