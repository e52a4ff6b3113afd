package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
)

// ClassifyError folds a raw transport or backend failure into the provider
// error taxonomy. Already-classified errors and circuit-open errors pass
// through untouched so kinds assigned close to the wire are never rewritten.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}

	var pe *apperr.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if apperr.IsCircuitOpen(err) {
		return err
	}

	kind, status := classifyKind(err)
	return &apperr.ProviderError{
		Provider:   provider,
		Kind:       kind,
		StatusCode: status,
		Err:        err,
	}
}

func classifyKind(err error) (apperr.Kind, int) {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.KindTimeout, 0
	}
	if errors.Is(err, context.Canceled) {
		// Caller went away; neither retryable nor a provider fault.
		return apperr.KindInvalidRequest, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.KindTimeout, 0
	}

	var he *httpError
	if errors.As(err, &he) {
		return kindFromStatus(he.StatusCode), he.StatusCode
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "unexpected eof"):
		return apperr.KindTransient, 0
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return apperr.KindTimeout, 0
	}
	return apperr.KindUnknown, 0
}

func kindFromStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.KindAuth
	case status == http.StatusTooManyRequests:
		return apperr.KindRateLimit
	case status == http.StatusRequestTimeout:
		return apperr.KindTimeout
	case status >= 500:
		return apperr.KindTransient
	case status >= 400:
		return apperr.KindInvalidRequest
	default:
		return apperr.KindUnknown
	}
}
