package llm

import (
	"errors"
	"testing"
	"time"

	"github.com/Simmak7/project-Mnemosyne-sub001/internal/pkg/apperr"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("local", 3, time.Minute)

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if got := b.State(); got != BreakerClosed {
			t.Fatalf("after %d failures: state=%s want closed", i+1, got)
		}
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker blocked call: %v", err)
		}
	}

	b.RecordFailure()
	if got := b.State(); got != BreakerOpen {
		t.Fatalf("after 3 failures: state=%s want open", got)
	}
	err := b.Allow()
	if err == nil {
		t.Fatalf("open breaker allowed call")
	}
	var ce *apperr.CircuitOpenError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CircuitOpenError, got %T: %v", err, err)
	}
	if ce.Provider != "local" {
		t.Fatalf("provider = %q", ce.Provider)
	}
	if ce.RetryAfter <= 0 || ce.RetryAfter > time.Minute {
		t.Fatalf("retry after = %s", ce.RetryAfter)
	}
}

func TestBreakerHalfOpenProbeSuccessCloses(t *testing.T) {
	b := NewBreaker("anthropic", 3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state=%s want open", b.State())
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("probe blocked after recovery timeout: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state=%s want half_open", b.State())
	}

	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Fatalf("state=%s want closed after probe success", b.State())
	}
	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("failures=%d want 0", b.ConsecutiveFailures())
	}
}

func TestBreakerHalfOpenProbeFailureReopens(t *testing.T) {
	b := NewBreaker("openai", 3, 20*time.Millisecond)

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(30 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe blocked: %v", err)
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state=%s want open after probe failure", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatalf("reopened breaker allowed call immediately")
	}
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker("local", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("state=%s want closed: success should reset the streak", b.State())
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state=%s want open", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker("local", 1, time.Hour)
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state=%s want open", b.State())
	}
	b.Reset()
	if b.State() != BreakerClosed || b.ConsecutiveFailures() != 0 {
		t.Fatalf("reset left state=%s failures=%d", b.State(), b.ConsecutiveFailures())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("reset breaker blocked call: %v", err)
	}
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker("local", 0, 0)
	if b.threshold != DefaultFailureThreshold {
		t.Fatalf("threshold=%d want %d", b.threshold, DefaultFailureThreshold)
	}
	if b.recovery != DefaultRecoveryTimeout {
		t.Fatalf("recovery=%s want %s", b.recovery, DefaultRecoveryTimeout)
	}
}
