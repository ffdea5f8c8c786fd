package provider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/provider/circuit"
)

const maxAttempts = 3

// GuardedClient wraps a provider client with bounded retry, exponential
// backoff, and a circuit breaker. Every call, success or failure, is timed
// and reported to the audit recorder as a metric event.
type GuardedClient struct {
	inner    Client
	breaker  *circuit.Breaker
	recorder audit.Recorder

	healthTimeout time.Duration

	// sleep is injectable for tests
	sleep func(ctx context.Context, d time.Duration) error
}

// GuardedConfig tunes the call guard.
type GuardedConfig struct {
	Breaker       circuit.Config
	HealthTimeout time.Duration // health probe budget, capped at 5s
}

// NewGuardedClient wraps inner with retry and circuit-breaking call guards.
func NewGuardedClient(inner Client, recorder audit.Recorder, cfg GuardedConfig) *GuardedClient {
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 || healthTimeout > 5*time.Second {
		healthTimeout = 5 * time.Second
	}
	if cfg.Breaker.MinSamples == 0 {
		cfg.Breaker = circuit.DefaultConfig()
	}
	return &GuardedClient{
		inner:         inner,
		breaker:       circuit.NewBreaker("provider", cfg.Breaker),
		recorder:      recorder,
		healthTimeout: healthTimeout,
		sleep:         sleepCtx,
	}
}

// BreakerStatus exposes the breaker snapshot for operational surfaces.
func (g *GuardedClient) BreakerStatus() circuit.Status {
	return g.breaker.GetStatus()
}

// CreateAccount provisions an account with retry and breaker guards.
func (g *GuardedClient) CreateAccount(ctx context.Context, username, secret string) (string, error) {
	var id string
	err := g.call(ctx, "create_account", username, func(ctx context.Context) error {
		var err error
		id, err = g.inner.CreateAccount(ctx, username, secret)
		return err
	})
	return id, err
}

// EnableAccount enables an account with retry and breaker guards.
func (g *GuardedClient) EnableAccount(ctx context.Context, id string) error {
	return g.call(ctx, "enable_account", id, func(ctx context.Context) error {
		return g.inner.EnableAccount(ctx, id)
	})
}

// DisableAccount disables an account with retry and breaker guards.
func (g *GuardedClient) DisableAccount(ctx context.Context, id string) error {
	return g.call(ctx, "disable_account", id, func(ctx context.Context) error {
		return g.inner.DisableAccount(ctx, id)
	})
}

// HealthCheck probes the provider with a short budget. The probe is a
// single attempt; callers use it to pre-flight batches, so a slow or
// failing probe should report quickly rather than retry.
func (g *GuardedClient) HealthCheck(ctx context.Context) (Health, error) {
	probeCtx, cancel := context.WithTimeout(ctx, g.healthTimeout)
	defer cancel()

	started := time.Now()
	health, err := g.inner.HealthCheck(probeCtx)
	g.report("health_check", "", started, 1, err)
	if err != nil {
		return Health{}, err
	}
	return health, nil
}

// call runs fn with up to maxAttempts tries. Only timeout/unavailable/5xx
// error classes are retried; auth failures and bad requests fail fast.
// Backoff between attempts is 2^(attempt-1) seconds.
func (g *GuardedClient) call(ctx context.Context, op, subject string, fn func(ctx context.Context) error) error {
	if !g.breaker.Allow() {
		err := apperrors.WrapProviderError(apperrors.ErrorTypeProviderUnavailable, op, subject,
			apperrors.ErrProviderUnavailable)
		g.report(op, subject, time.Now(), 0, err)
		return err
	}

	started := time.Now()
	var lastErr error
	attemptsUsed := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptsUsed = attempt
		if attempt > 1 {
			backoff := time.Duration(1<<(attempt-2)) * time.Second
			log.Debug().
				Str("operation", op).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying provider call after backoff")
			if err := g.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		err := fn(ctx)
		if err == nil {
			g.breaker.RecordSuccess()
			g.report(op, subject, started, attempt, nil)
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Msg("Provider call attempt failed")

		if !apperrors.IsRetryableError(err) {
			break
		}
	}

	// Only timeout/unavailable classes count against the breaker; a burst
	// of caller-side 4xx responses says nothing about provider health.
	if apperrors.IsRetryableError(lastErr) {
		g.breaker.RecordFailure(lastErr)
	}
	g.report(op, subject, started, attemptsUsed, lastErr)
	return lastErr
}

// report times the call and emits both a Prometheus observation and an
// audit metric event. Metric events are operational telemetry, distinct
// from business audit records.
func (g *GuardedClient) report(op, subject string, started time.Time, attempts int, callErr error) {
	elapsed := time.Since(started)
	result := "success"
	if callErr != nil {
		result = "failure"
	}

	m := getCallMetrics()
	m.observe(op, result, elapsed.Seconds())
	m.breakerState.Set(float64(g.breaker.State()))

	if g.recorder == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"operation":  op,
		"durationMs": elapsed.Milliseconds(),
		"attempts":   attempts,
	})
	event := models.AuditEvent{
		Actor:         "provider-client",
		Action:        models.AuditActionProviderCall,
		SubjectUserID: subject,
		Details:       string(details),
		Success:       callErr == nil,
		Timestamp:     time.Now(),
	}
	event.ID = audit.NewEventID(event.Timestamp)
	if err := g.recorder.Record(event); err != nil {
		log.Warn().Err(err).Msg("Failed to record provider call metric event")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
