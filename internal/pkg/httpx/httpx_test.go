package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr struct{ code int }

func (e *statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) HTTPStatusCode() int { return e.code }

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{429, true},
		{500, true},
		{502, true},
		{599, true},
		{600, false},
	}
	for _, c := range cases {
		if got := IsRetryableHTTPStatus(c.code); got != c.want {
			t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", c.code, got, c.want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be retryable")
	}
	if IsRetryableError(context.Canceled) {
		t.Error("cancellation should not be retryable")
	}
	if !IsRetryableError(&statusErr{code: 503}) {
		t.Error("503 should be retryable")
	}
	if IsRetryableError(&statusErr{code: 401}) {
		t.Error("401 should not be retryable")
	}
	wrapped := fmt.Errorf("call upstream: %w", &statusErr{code: 429})
	if !IsRetryableError(wrapped) {
		t.Error("wrapped 429 should be retryable")
	}
	if !IsRetryableError(errors.New("dial tcp 127.0.0.1:11434: connect: connection refused")) {
		t.Error("connection refused should be retryable")
	}
	if IsRetryableError(errors.New("invalid model name")) {
		t.Error("plain error should not be retryable")
	}
}

func TestRetryAfterDuration(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "7")
	got := RetryAfterDuration(resp, time.Second, time.Minute)
	if got != 7*time.Second {
		t.Errorf("expected 7s, got %v", got)
	}
	got = RetryAfterDuration(resp, time.Second, 3*time.Second)
	if got != 3*time.Second {
		t.Errorf("expected clamp to 3s, got %v", got)
	}
	got = RetryAfterDuration(nil, 2*time.Second, time.Minute)
	if got != 2*time.Second {
		t.Errorf("expected fallback 2s, got %v", got)
	}
}

func TestJitterSleepBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		got := JitterSleep(base)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("jitter out of bounds: %v", got)
		}
	}
	if got := JitterSleep(0); got != 0 {
		t.Errorf("zero base should yield 0, got %v", got)
	}
}
