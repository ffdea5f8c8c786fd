package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// GetCounters returns the usage counters for a user. Missing rows are
// treated as a fresh window starting now.
func (s *Store) GetCounters(ctx context.Context, userID string, now time.Time) (models.UsageCounters, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, storage_bytes, active_streams, concurrent_sessions, api_calls_in_window, window_started_at
		FROM usage_counters WHERE user_id = ?`, userID)

	var (
		c           models.UsageCounters
		windowStart int64
	)
	err := row.Scan(&c.UserID, &c.StorageBytes, &c.ActiveStreams, &c.ConcurrentSessions,
		&c.APICallsInWindow, &windowStart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.UsageCounters{UserID: userID, WindowStartedAt: now}, nil
		}
		return models.UsageCounters{}, apperrors.WrapStoreError("get_counters", err)
	}
	c.WindowStartedAt = time.Unix(windowStart, 0).UTC()
	return c, nil
}

// SaveCounters upserts the full counter row for a user.
func (s *Store) SaveCounters(ctx context.Context, c models.UsageCounters) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_counters (user_id, storage_bytes, active_streams, concurrent_sessions, api_calls_in_window, window_started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			storage_bytes=excluded.storage_bytes,
			active_streams=excluded.active_streams,
			concurrent_sessions=excluded.concurrent_sessions,
			api_calls_in_window=excluded.api_calls_in_window,
			window_started_at=excluded.window_started_at`,
		c.UserID, c.StorageBytes, c.ActiveStreams, c.ConcurrentSessions,
		c.APICallsInWindow, c.WindowStartedAt.Unix())
	if err != nil {
		return apperrors.WrapStoreError("save_counters", err)
	}
	return nil
}

// AppendUsageHistory records a usage-history point. Best effort; callers
// log failures and continue.
func (s *Store) AppendUsageHistory(ctx context.Context, userID string, metric models.Metric, delta int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_history (user_id, metric, delta, recorded_at) VALUES (?, ?, ?, ?)`,
		userID, metric, delta, at.Unix())
	if err != nil {
		return apperrors.WrapStoreError("append_usage_history", err)
	}
	return nil
}

// GetTier returns the limits for a tier.
func (s *Store) GetTier(ctx context.Context, tierID string) (models.TierLimits, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tier_id, storage_cap, stream_cap, concurrent_session_cap, api_call_cap,
			window_duration_secs, grace_duration_secs, throttle_delay_ms
		FROM tier_limits WHERE tier_id = ?`, tierID)

	var (
		t          models.TierLimits
		windowSecs int64
		graceSecs  int64
		throttleMs int64
	)
	err := row.Scan(&t.TierID, &t.StorageCap, &t.StreamCap, &t.ConcurrentSessionCap,
		&t.APICallCap, &windowSecs, &graceSecs, &throttleMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.TierLimits{}, apperrors.ErrNotFound
		}
		return models.TierLimits{}, apperrors.WrapStoreError("get_tier", err)
	}
	t.WindowDuration = time.Duration(windowSecs) * time.Second
	t.GraceDuration = time.Duration(graceSecs) * time.Second
	t.ThrottleDelay = time.Duration(throttleMs) * time.Millisecond
	return t, nil
}

// SeedTiers inserts tier profiles that do not already exist. Existing rows
// are left untouched so operator tuning survives restarts.
func (s *Store) SeedTiers(ctx context.Context, tiers []models.TierLimits) error {
	for _, t := range tiers {
		_, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO tier_limits
				(tier_id, storage_cap, stream_cap, concurrent_session_cap, api_call_cap, window_duration_secs, grace_duration_secs, throttle_delay_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.TierID, t.StorageCap, t.StreamCap, t.ConcurrentSessionCap, t.APICallCap,
			int64(t.WindowDuration.Seconds()), int64(t.GraceDuration.Seconds()),
			t.ThrottleDelay.Milliseconds())
		if err != nil {
			return apperrors.WrapStoreError("seed_tiers", err)
		}
	}
	return nil
}
