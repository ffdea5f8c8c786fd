// Package provider wraps the external account-provisioning service behind a
// circuit breaker and bounded-retry call guard. The provider is assumed to
// be flaky; callers see the error taxonomy from the errors package instead
// of raw transport failures.
package provider

import (
	"context"
	"time"
)

// Health is the result of a provider health probe.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latencyMs"`
}

// Client is the account-provider contract. All calls are idempotent from
// the caller's perspective: retrying DisableAccount on an already-disabled
// id must not error.
type Client interface {
	CreateAccount(ctx context.Context, username, secret string) (string, error)
	EnableAccount(ctx context.Context, id string) error
	DisableAccount(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) (Health, error)
}
