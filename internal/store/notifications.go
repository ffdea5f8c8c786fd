package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/rdk-i/Rflix-User-Center-sub000/internal/errors"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
)

// InsertNotification persists a scheduled notification.
func (s *Store) InsertNotification(ctx context.Context, n models.ScheduledNotification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications (id, user_id, kind, due_at, payload, status, created_at, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Kind, n.DueAt.Unix(), n.Payload, n.Status,
		n.CreatedAt.Unix(), nullableUnix(n.SentAt))
	if err != nil {
		return apperrors.WrapStoreError("insert_notification", err)
	}
	return nil
}

// DueNotifications returns pending entries whose due time has passed,
// oldest first, bounded by limit.
func (s *Store) DueNotifications(ctx context.Context, now time.Time, limit int) ([]models.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, due_at, payload, status, created_at, sent_at
		FROM scheduled_notifications
		WHERE status = ? AND due_at <= ?
		ORDER BY due_at ASC LIMIT ?`,
		models.NotificationPending, now.Unix(), limit)
	if err != nil {
		return nil, apperrors.WrapStoreError("query_due_notifications", err)
	}
	defer rows.Close()

	var out []models.ScheduledNotification
	for rows.Next() {
		var (
			n       models.ScheduledNotification
			due     int64
			created int64
			sent    sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &due, &n.Payload, &n.Status, &created, &sent); err != nil {
			return nil, apperrors.WrapStoreError("scan_due_notifications", err)
		}
		n.DueAt = time.Unix(due, 0).UTC()
		n.CreatedAt = time.Unix(created, 0).UTC()
		n.SentAt = unixPtr(sent)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotification records a delivery outcome.
func (s *Store) MarkNotification(ctx context.Context, id string, status models.NotificationStatus, at time.Time) error {
	var sentAt interface{}
	if status == models.NotificationSent {
		sentAt = at.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications SET status = ?, sent_at = ? WHERE id = ?`,
		status, sentAt, id)
	if err != nil {
		return apperrors.WrapStoreError("mark_notification", err)
	}
	return nil
}

// HasPendingNotification reports whether an undelivered entry of this kind
// already exists for the user, so deferral does not queue duplicates.
func (s *Store) HasPendingNotification(ctx context.Context, userID string, kind models.NotificationKind) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM scheduled_notifications
		WHERE user_id = ? AND kind = ? AND status = ?`,
		userID, kind, models.NotificationPending)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, apperrors.WrapStoreError("has_pending_notification", err)
	}
	return n > 0, nil
}

// LastSentAt returns the most recent successful delivery time of a kind to
// a user, or nil if none exists. Used for the dedup window.
func (s *Store) LastSentAt(ctx context.Context, userID string, kind models.NotificationKind) (*time.Time, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sent_at FROM scheduled_notifications
		WHERE user_id = ? AND kind = ? AND status = ? AND sent_at IS NOT NULL
		ORDER BY sent_at DESC LIMIT 1`,
		userID, kind, models.NotificationSent)

	var sent sql.NullInt64
	if err := row.Scan(&sent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.WrapStoreError("last_sent_at", err)
	}
	return unixPtr(sent), nil
}

// GetPrefs returns a user's notification preferences. Missing rows yield
// defaults (email channel, no quiet hours).
func (s *Store) GetPrefs(ctx context.Context, userID string) (models.NotificationPrefs, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, channel, recipient, quiet_enabled, quiet_start, quiet_end, timezone
		FROM notification_prefs WHERE user_id = ?`, userID)

	var (
		p       models.NotificationPrefs
		enabled int
	)
	err := row.Scan(&p.UserID, &p.Channel, &p.Recipient, &enabled,
		&p.QuietHours.Start, &p.QuietHours.End, &p.QuietHours.Timezone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.NotificationPrefs{UserID: userID, Channel: "email"}, nil
		}
		return models.NotificationPrefs{}, apperrors.WrapStoreError("get_prefs", err)
	}
	p.QuietHours.Enabled = enabled != 0
	return p, nil
}

// SavePrefs upserts a user's notification preferences.
func (s *Store) SavePrefs(ctx context.Context, p models.NotificationPrefs) error {
	enabled := 0
	if p.QuietHours.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_prefs (user_id, channel, recipient, quiet_enabled, quiet_start, quiet_end, timezone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			channel=excluded.channel,
			recipient=excluded.recipient,
			quiet_enabled=excluded.quiet_enabled,
			quiet_start=excluded.quiet_start,
			quiet_end=excluded.quiet_end,
			timezone=excluded.timezone`,
		p.UserID, p.Channel, p.Recipient, enabled,
		p.QuietHours.Start, p.QuietHours.End, p.QuietHours.Timezone)
	if err != nil {
		return apperrors.WrapStoreError("save_prefs", err)
	}
	return nil
}
