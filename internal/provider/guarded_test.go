package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/provider/circuit"
)

// fakeClient fails the first failCount calls to each operation, then
// succeeds.
type fakeClient struct {
	failCount int
	failWith  error

	createCalls  int
	enableCalls  int
	disableCalls int
	healthCalls  int
}

func (f *fakeClient) maybeFail(calls int) error {
	if calls <= f.failCount {
		return f.failWith
	}
	return nil
}

func (f *fakeClient) CreateAccount(_ context.Context, username, _ string) (string, error) {
	f.createCalls++
	if err := f.maybeFail(f.createCalls); err != nil {
		return "", err
	}
	return "acct-" + username, nil
}

func (f *fakeClient) EnableAccount(_ context.Context, _ string) error {
	f.enableCalls++
	return f.maybeFail(f.enableCalls)
}

func (f *fakeClient) DisableAccount(_ context.Context, _ string) error {
	f.disableCalls++
	return f.maybeFail(f.disableCalls)
}

func (f *fakeClient) HealthCheck(_ context.Context) (Health, error) {
	f.healthCalls++
	if err := f.maybeFail(f.healthCalls); err != nil {
		return Health{}, err
	}
	return Health{Healthy: true, Latency: time.Millisecond}, nil
}

func retryableErr() error {
	return apperrors.WrapProviderError(apperrors.ErrorTypeProviderTimeout, "disable_account", "u1",
		apperrors.ErrProviderTimeout)
}

func authErr() error {
	return apperrors.WrapProviderError(apperrors.ErrorTypeProviderAuth, "disable_account", "u1",
		apperrors.ErrProviderAuthFailure)
}

// newTestGuard wires a guarded client with instant, recorded sleeps.
func newTestGuard(inner Client) (*GuardedClient, *[]time.Duration) {
	g := NewGuardedClient(inner, audit.NewMemoryRecorder(), GuardedConfig{})
	var sleeps []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return g, &sleeps
}

func TestGuardedRetriesTransientFailure(t *testing.T) {
	inner := &fakeClient{failCount: 2, failWith: retryableErr()}
	g, sleeps := newTestGuard(inner)

	if err := g.DisableAccount(context.Background(), "u1"); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if inner.disableCalls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.disableCalls)
	}

	// Exponential backoff: 1s before attempt 2, 2s before attempt 3
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d", len(want), len(*sleeps))
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("backoff %d: expected %s, got %s", i, d, (*sleeps)[i])
		}
	}
}

func TestGuardedGivesUpAfterMaxAttempts(t *testing.T) {
	inner := &fakeClient{failCount: 10, failWith: retryableErr()}
	g, _ := newTestGuard(inner)

	err := g.DisableAccount(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if inner.disableCalls != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, inner.disableCalls)
	}
	if !errors.Is(err, apperrors.ErrProviderTimeout) {
		t.Errorf("expected last provider error to surface, got %v", err)
	}
}

func TestGuardedFailsFastOnAuthError(t *testing.T) {
	inner := &fakeClient{failCount: 10, failWith: authErr()}
	g, sleeps := newTestGuard(inner)

	err := g.EnableAccount(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected auth error")
	}
	if inner.enableCalls != 1 {
		t.Errorf("auth failures should not be retried, got %d attempts", inner.enableCalls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no backoff sleeps, got %d", len(*sleeps))
	}
	if !apperrors.IsAuthError(err) {
		t.Errorf("expected auth error classification, got %v", err)
	}
}

func TestGuardedFailsFastWhenBreakerOpen(t *testing.T) {
	inner := &fakeClient{failCount: 100, failWith: retryableErr()}
	g, _ := newTestGuard(inner)

	// Each failed call records one breaker failure; trip it
	for i := 0; i < 5; i++ {
		_ = g.DisableAccount(context.Background(), "u1")
	}
	if status := g.BreakerStatus(); status.State != "open" {
		t.Fatalf("expected open breaker, got %s", status.State)
	}

	callsBefore := inner.disableCalls
	err := g.DisableAccount(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected fail-fast error with open breaker")
	}
	if !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Errorf("expected provider-unavailable error, got %v", err)
	}
	if inner.disableCalls != callsBefore {
		t.Error("open breaker must not reach the provider")
	}
}

func TestGuardedBreakerIgnoresCallerSideErrors(t *testing.T) {
	inner := &fakeClient{failCount: 100, failWith: authErr()}
	g, _ := newTestGuard(inner)

	// Well past the breaker's minimum sample count
	for i := 0; i < 10; i++ {
		if err := g.DisableAccount(context.Background(), "u1"); err == nil {
			t.Fatal("expected auth failure")
		}
	}

	if got := g.breaker.State(); got != circuit.StateClosed {
		t.Fatalf("auth failures must not open the breaker, got %s", got)
	}

	// Calls still reach the provider
	calls := inner.disableCalls
	g.DisableAccount(context.Background(), "u1")
	if inner.disableCalls != calls+1 {
		t.Error("expected call to reach the provider with the breaker closed")
	}
}

func TestGuardedCreateAccountReturnsID(t *testing.T) {
	inner := &fakeClient{}
	g, _ := newTestGuard(inner)

	id, err := g.CreateAccount(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "acct-alice" {
		t.Errorf("expected provider account id, got %q", id)
	}
}

func TestGuardedHealthCheckSingleAttempt(t *testing.T) {
	inner := &fakeClient{failCount: 1, failWith: retryableErr()}
	g, sleeps := newTestGuard(inner)

	if _, err := g.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health probe failure")
	}
	if inner.healthCalls != 1 {
		t.Errorf("health probes must not retry, got %d calls", inner.healthCalls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("expected no backoff sleeps for health probe, got %d", len(*sleeps))
	}

	health, err := g.HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("expected healthy probe, got %v", err)
	}
	if !health.Healthy {
		t.Error("expected healthy result")
	}
}

func TestGuardedStopsOnCancelledContext(t *testing.T) {
	inner := &fakeClient{failCount: 10, failWith: retryableErr()}
	g := NewGuardedClient(inner, nil, GuardedConfig{Breaker: circuit.DefaultConfig()})
	g.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	err := g.DisableAccount(context.Background(), "u1")
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.disableCalls != 1 {
		t.Errorf("cancelled backoff should stop retries, got %d attempts", inner.disableCalls)
	}
}
