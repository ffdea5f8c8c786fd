package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

const subscriptionColumns = `user_id, external_account_id, tier_id, expiration_at, state, sync_status, grace_ends_at, last_sync_at, updated_at`

func scanSubscription(row interface{ Scan(...interface{}) error }) (models.Subscription, error) {
	var (
		sub         models.Subscription
		expiration  int64
		graceEnds   sql.NullInt64
		lastSync    sql.NullInt64
		updatedUnix int64
	)
	err := row.Scan(&sub.UserID, &sub.ExternalAccountID, &sub.TierID, &expiration,
		&sub.State, &sub.SyncStatus, &graceEnds, &lastSync, &updatedUnix)
	if err != nil {
		return models.Subscription{}, err
	}
	sub.ExpirationAt = time.Unix(expiration, 0).UTC()
	sub.GraceEndsAt = unixPtr(graceEnds)
	sub.LastSyncAt = unixPtr(lastSync)
	sub.UpdatedAt = time.Unix(updatedUnix, 0).UTC()
	return sub, nil
}

// GetSubscription returns the subscription row for a user.
func (s *Store) GetSubscription(ctx context.Context, userID string) (models.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = ?`, userID)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Subscription{}, apperrors.ErrNotFound
		}
		return models.Subscription{}, apperrors.WrapStoreError("get_subscription", err)
	}
	return sub, nil
}

// UpsertSubscription inserts or replaces a subscription row. Used at
// registration and by tests; periodic tasks mutate state only through the
// conditional transition methods below.
func (s *Store) UpsertSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, external_account_id, tier_id, expiration_at, state, sync_status, grace_ends_at, last_sync_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			external_account_id=excluded.external_account_id,
			tier_id=excluded.tier_id,
			expiration_at=excluded.expiration_at,
			state=excluded.state,
			sync_status=excluded.sync_status,
			grace_ends_at=excluded.grace_ends_at,
			last_sync_at=excluded.last_sync_at,
			updated_at=excluded.updated_at`,
		sub.UserID, sub.ExternalAccountID, sub.TierID, sub.ExpirationAt.Unix(),
		sub.State, sub.SyncStatus, nullableUnix(sub.GraceEndsAt), nullableUnix(sub.LastSyncAt),
		time.Now().Unix())
	if err != nil {
		return apperrors.WrapStoreError("upsert_subscription", err)
	}
	return nil
}

// ExpiredActive returns subscriptions whose expiration has passed but are
// still marked active, oldest expirations first.
func (s *Store) ExpiredActive(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE expiration_at < ? AND state = ?
		ORDER BY expiration_at ASC`,
		now.Unix(), models.StateActive)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_expired_active", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.WrapStoreError("scan_expired_active", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.WrapStoreError("iterate_expired_active", err)
	}
	return subs, nil
}

// MarkDisabled conditionally transitions a subscription to Disabled. The
// update only applies while the row is still in fromState, which makes
// repeated runs idempotent. A confirmed provider sync records last_sync_at;
// a local-only disable tags the row pending_provider_sync instead. Any
// outstanding grace deadline is cleared. The reason is persisted so
// restriction state can be rebuilt after a restart.
func (s *Store) MarkDisabled(ctx context.Context, userID string, fromState models.SubscriptionState, syncStatus models.SyncStatus, reason models.DisabledReason, now time.Time) (bool, error) {
	var lastSync interface{}
	if syncStatus == models.SyncStatusSynced {
		lastSync = now.Unix()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET state = ?, sync_status = ?, disabled_reason = ?, grace_ends_at = NULL,
			last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE user_id = ? AND state = ?`,
		models.StateDisabled, syncStatus, reason, lastSync, now.Unix(), userID, fromState)
	if err != nil {
		return false, apperrors.WrapStoreError("mark_disabled", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.WrapStoreError("mark_disabled", err)
	}
	return n > 0, nil
}

// StartGrace conditionally moves an active subscription into its grace
// period with a persisted deadline.
func (s *Store) StartGrace(ctx context.Context, userID string, graceEndsAt, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET state = ?, grace_ends_at = ?, updated_at = ?
		WHERE user_id = ? AND state = ?`,
		models.StateGracePeriod, graceEndsAt.Unix(), now.Unix(), userID, models.StateActive)
	if err != nil {
		return false, apperrors.WrapStoreError("start_grace", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.WrapStoreError("start_grace", err)
	}
	return n > 0, nil
}

// EndGrace conditionally restores a grace-period subscription to Active and
// clears the persisted deadline.
func (s *Store) EndGrace(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET state = ?, grace_ends_at = NULL, updated_at = ?
		WHERE user_id = ? AND state = ?`,
		models.StateActive, now.Unix(), userID, models.StateGracePeriod)
	if err != nil {
		return false, apperrors.WrapStoreError("end_grace", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.WrapStoreError("end_grace", err)
	}
	return n > 0, nil
}

// GraceExpired returns grace-period subscriptions whose persisted deadline
// has passed. Checking the stored deadline instead of holding timers means
// grace-period completion survives process restarts.
func (s *Store) GraceExpired(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE state = ? AND grace_ends_at IS NOT NULL AND grace_ends_at <= ?
		ORDER BY grace_ends_at ASC`,
		models.StateGracePeriod, now.Unix())
	if err != nil {
		return nil, apperrors.WrapStoreError("query_grace_expired", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.WrapStoreError("scan_grace_expired", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// InGracePeriod returns every subscription currently in its grace period,
// regardless of whether the deadline has passed.
func (s *Store) InGracePeriod(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE state = ? ORDER BY grace_ends_at ASC`,
		models.StateGracePeriod)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_grace_period", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.WrapStoreError("scan_grace_period", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ActiveSubscriptions returns every active subscription, used by the
// usage-threshold sweep and expiration-warning pass.
func (s *Store) ActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE state = ? ORDER BY user_id ASC`,
		models.StateActive)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_active", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.WrapStoreError("scan_active", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// PendingProviderSync returns disabled subscriptions the provider has not
// yet confirmed.
func (s *Store) PendingProviderSync(ctx context.Context) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE sync_status = ? ORDER BY updated_at ASC`,
		models.SyncStatusPendingProviderSync)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_pending_sync", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperrors.WrapStoreError("scan_pending_sync", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// DisabledUserIDs returns the users whose subscriptions were disabled for
// the given reason.
func (s *Store) DisabledUserIDs(ctx context.Context, reason models.DisabledReason) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM subscriptions
		WHERE state = ? AND disabled_reason = ?
		ORDER BY user_id ASC`,
		models.StateDisabled, reason)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_disabled_by_reason", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.WrapStoreError("scan_disabled_by_reason", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkSynced records provider confirmation for a previously local-only
// disablement.
func (s *Store) MarkSynced(ctx context.Context, userID string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET sync_status = ?, last_sync_at = ?, updated_at = ?
		WHERE user_id = ?`,
		models.SyncStatusSynced, now.Unix(), now.Unix(), userID)
	if err != nil {
		return apperrors.WrapStoreError("mark_synced", err)
	}
	return nil
}
