package circuit

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MinSamples:           5,
		FailureRateThreshold: 0.5,
		WindowSize:           10,
		ResetTimeout:         50 * time.Millisecond,
	}
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b := NewBreaker("test", testConfig())

	// Four failures in a row: rate is 100% but the sample floor is not met
	for i := 0; i < 4; i++ {
		b.RecordFailure(errors.New("provider down"))
	}

	if b.State() != StateClosed {
		t.Errorf("expected closed below min samples, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("closed breaker should allow calls")
	}
}

func TestBreakerTripsAtFailureRate(t *testing.T) {
	b := NewBreaker("test", testConfig())

	for i := 0; i < 5; i++ {
		b.RecordFailure(errors.New("provider down"))
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Error("open breaker should block calls")
	}

	status := b.GetStatus()
	if status.TotalTrips != 1 {
		t.Errorf("expected 1 trip, got %d", status.TotalTrips)
	}
	if status.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	b := NewBreaker("test", testConfig())

	// 6 successes, 4 failures: 40% failure rate with plenty of samples
	for i := 0; i < 6; i++ {
		b.RecordSuccess()
	}
	for i := 0; i < 4; i++ {
		b.RecordFailure(errors.New("flaky"))
	}

	if b.State() != StateClosed {
		t.Errorf("expected closed at 40%% failure rate, got %s", b.State())
	}

	// One more failure pushes the window to 50%
	b.RecordFailure(errors.New("flaky"))
	if b.State() != StateOpen {
		t.Errorf("expected open at 50%% failure rate, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(errors.New("provider down"))
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(60 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed after reset timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open during probe, got %s", b.State())
	}
	if b.Allow() {
		t.Error("only one probe should be in flight at a time")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}

	// Window must be clean after recovery so the old failures don't
	// immediately re-trip the breaker
	status := b.GetStatus()
	if status.Samples != 0 {
		t.Errorf("expected empty window after recovery, got %d samples", status.Samples)
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(errors.New("provider down"))
	}

	time.Sleep(60 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	b.RecordFailure(errors.New("still down"))

	if b.State() != StateOpen {
		t.Errorf("expected open after failed probe, got %s", b.State())
	}
	if b.Allow() {
		t.Error("reopened breaker should block calls")
	}
	if got := b.GetStatus().TotalTrips; got != 2 {
		t.Errorf("expected 2 trips, got %d", got)
	}
}

func TestBreakerReset(t *testing.T) {
	b := NewBreaker("test", testConfig())
	for i := 0; i < 5; i++ {
		b.RecordFailure(errors.New("provider down"))
	}
	if !b.IsOpen() {
		t.Fatal("expected open breaker before reset")
	}

	b.Reset()

	if b.State() != StateClosed {
		t.Errorf("expected closed after reset, got %s", b.State())
	}
	if !b.Allow() {
		t.Error("reset breaker should allow calls")
	}
	if got := b.GetStatus().Samples; got != 0 {
		t.Errorf("expected empty window after reset, got %d samples", got)
	}
}

func TestBreakerConfigDefaults(t *testing.T) {
	b := NewBreaker("test", Config{})

	if b.config.MinSamples != 5 {
		t.Errorf("expected default min samples 5, got %d", b.config.MinSamples)
	}
	if b.config.FailureRateThreshold != 0.5 {
		t.Errorf("expected default threshold 0.5, got %f", b.config.FailureRateThreshold)
	}
	if b.config.ResetTimeout != 30*time.Second {
		t.Errorf("expected default reset timeout 30s, got %s", b.config.ResetTimeout)
	}
	if len(b.window) < b.config.MinSamples {
		t.Errorf("window size %d smaller than min samples %d", len(b.window), b.config.MinSamples)
	}
}
