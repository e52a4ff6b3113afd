package llm

import (
	"sync"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
)

type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	DefaultFailureThreshold = 3
	DefaultRecoveryTimeout  = 30 * time.Second
)

// Breaker guards one provider instance. Closed until threshold consecutive
// failures, then open; after the recovery timeout a single probe is let
// through half-open, and its outcome decides between closed and open again.
// All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	provider  string
	threshold int
	recovery  time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
}

func NewBreaker(provider string, threshold int, recovery time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryTimeout
	}
	return &Breaker{
		provider:  provider,
		threshold: threshold,
		recovery:  recovery,
		state:     BreakerClosed,
	}
}

// Allow is the pre-request gate. While open it fails fast with
// CircuitOpenError carrying the time left until the next probe; once the
// recovery timeout elapses it transitions to half-open and lets one call
// through.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}

	elapsed := time.Since(b.lastFailure)
	if elapsed >= b.recovery {
		b.state = BreakerHalfOpen
		return nil
	}
	return &apperr.CircuitOpenError{
		Provider:   b.provider,
		RetryAfter: b.recovery - elapsed,
	}
}

// RecordSuccess closes the breaker and resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// RecordFailure counts one failure. A half-open probe failure reopens
// immediately; in the closed state the breaker opens once the consecutive
// count reaches the threshold. Callers must not record circuit-open errors.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset returns the breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}
