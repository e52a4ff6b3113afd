package tasks

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
)

// Category is the retry class a task failure falls into. The claim query
// re-runs retryable failures after their backoff window; permanent failures
// stay failed until a user restarts them.
type Category string

const (
	CategoryPermanent Category = "permanent"
	CategoryTransient Category = "transient"
	CategoryUnknown   Category = "unknown"
)

// Retryable reports whether the worker may re-run a failure of this
// category. Unknown failures retry: the attempt cap bounds the damage, and
// most of them turn out to be infrastructure hiccups.
func (c Category) Retryable() bool {
	return c != CategoryPermanent
}

// Classify maps a handler error onto a retry category. Missing resources,
// bad input, and rejected credentials cannot be fixed by running again;
// network, timeout, and lock contention failures usually can.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	if errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrUnauthorized) {
		return CategoryPermanent
	}

	// An uploaded file that is gone stays gone.
	if errors.Is(err, fs.ErrNotExist) {
		return CategoryPermanent
	}

	if apperr.IsCircuitOpen(err) {
		return CategoryTransient
	}
	switch apperr.KindOf(err) {
	case apperr.KindAuth, apperr.KindInvalidRequest:
		return CategoryPermanent
	case apperr.KindTransient, apperr.KindTimeout, apperr.KindRateLimit:
		return CategoryTransient
	}

	if errors.Is(err, apperr.ErrEmbeddingUnavailable) {
		return CategoryTransient
	}

	// Shutdown and deadline cancellations retry once a worker is back.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTransient
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return CategoryTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization failure, deadlock, lock not available
			return CategoryTransient
		case "23505": // unique violation: the row already exists, a retry hits it again
			return CategoryPermanent
		}
	}

	return CategoryUnknown
}
