package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/finance-tracker-api/internal/domain"
	"github.com/boddenberg/finance-tracker-api/internal/infra/resilience"
)

func TestRetryWithBackoff_Success(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_RetriesOnFailure(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		if callCount < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestRetryWithBackoff_StopsOnDomainError(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     3,
		InitialBackoff: 10 * time.Millisecond,
	}

	callCount := 0
	err := resilience.RetryWithBackoff(context.Background(), cfg, func() error {
		callCount++
		return &domain.ErrNotFound{Resource: "transaction", ID: "tx-1"}
	})

	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("expected no retries for a permanent error, got %d calls", callCount)
	}
}

func TestRetryWithBackoff_RespectsContext(t *testing.T) {
	cfg := resilience.Config{
		MaxRetries:     5,
		InitialBackoff: 1 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := resilience.RetryWithBackoff(ctx, cfg, func() error {
		return errors.New("error")
	})

	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestExecute_OpenBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-store", nil)

	for i := 0; i < 5; i++ {
		_ = resilience.Execute(cb, func() error { return errors.New("db down") })
	}

	err := resilience.Execute(cb, func() error { return nil })
	var open *domain.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if open.Service != "test-store" {
		t.Errorf("expected service test-store, got %s", open.Service)
	}
}

func TestExecute_DomainErrorsKeepBreakerClosed(t *testing.T) {
	cb := resilience.NewCircuitBreaker("test-store", nil)

	for i := 0; i < 10; i++ {
		_ = resilience.Execute(cb, func() error {
			return &domain.ErrValidation{Field: "amount", Message: "invalid"}
		})
	}

	if err := resilience.Execute(cb, func() error { return nil }); err != nil {
		t.Fatalf("expected breaker to stay closed, got %v", err)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	bh := resilience.NewBulkhead(2)

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire, got %v", err)
	}

	// third acquire blocks until the timeout
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bh.Acquire(ctx)
	if err == nil {
		t.Fatal("expected timeout on third acquire")
	}

	bh.Release()

	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after release, got %v", err)
	}
}

func TestBulkhead_Do(t *testing.T) {
	bh := resilience.NewBulkhead(1)

	called := false
	err := bh.Do(context.Background(), func() error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected fn to run, err=%v", err)
	}

	// the slot was released
	if err := bh.Acquire(context.Background()); err != nil {
		t.Fatalf("expected acquire after Do, got %v", err)
	}
}
