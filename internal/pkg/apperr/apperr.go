package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for the error taxonomy the core surfaces. Lower layers classify
// into these; handlers map them to HTTP statuses; the task layer maps them
// to retry categories.
var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrEmbeddingUnavailable  = errors.New("embedding service unavailable")
	ErrClusteringUnavailable = errors.New("clustering unavailable")
)

// Kind partitions provider failures for retry policy and user messaging.
type Kind string

const (
	KindTransient      Kind = "transient"
	KindTimeout        Kind = "timeout"
	KindAuth           Kind = "auth"
	KindRateLimit      Kind = "rate_limit"
	KindInvalidRequest Kind = "invalid_request"
	KindUnknown        Kind = "unknown"
)

// Retryable reports whether the orchestrator may retry a failure of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

// UserMessage is the safe per-kind message surfaced to clients.
func (k Kind) UserMessage() string {
	switch k {
	case KindTransient:
		return "The AI service is temporarily unreachable. Please try again."
	case KindTimeout:
		return "The AI service took too long to respond. Please try again."
	case KindAuth:
		return "The API credentials for this provider were rejected."
	case KindRateLimit:
		return "The AI provider is rate limiting requests. Please wait a moment."
	case KindInvalidRequest:
		return "The request was rejected by the AI provider."
	default:
		return "An unexpected error occurred while contacting the AI provider."
	}
}

// ProviderError is a classified failure from an LLM or embedding backend.
type ProviderError struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s provider %s: %s", e.Provider, e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s provider %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s provider %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// HTTPStatusCode satisfies httpx.HTTPStatusCoder for retry decisions.
func (e *ProviderError) HTTPStatusCode() int { return e.StatusCode }

// CircuitOpenError fast-fails a call while a provider's breaker is open.
// It never counts as a provider failure.
type CircuitOpenError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for provider %s, retry after %s", e.Provider, e.RetryAfter.Round(time.Second))
}

func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// KindOf extracts the classification of err, defaulting to unknown.
// Circuit-open errors report as rate-limit-like but are distinguished by
// IsCircuitOpen and must never be re-counted as failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
