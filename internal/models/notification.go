package models

import "time"

// NotificationKind identifies a class of user-facing message. Dedup applies
// per (user, kind).
type NotificationKind string

const (
	NotificationExpiringSoon    NotificationKind = "expiring_soon"
	NotificationAccountDisabled NotificationKind = "account_disabled"
	NotificationUsageWarning    NotificationKind = "usage_warning"
	NotificationGraceStarted    NotificationKind = "grace_started"
	NotificationAccountRestored NotificationKind = "account_restored"
	NotificationUsageRestricted NotificationKind = "usage_restricted"
)

// NotificationStatus is the delivery state of a scheduled notification.
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// ScheduledNotification is a deferred delivery entry, created when immediate
// delivery is blocked and consumed by the scheduler's drain pass.
type ScheduledNotification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Kind      NotificationKind   `json:"kind"`
	DueAt     time.Time          `json:"dueAt"`
	Payload   string             `json:"payload"`
	Status    NotificationStatus `json:"status"`
	CreatedAt time.Time          `json:"createdAt"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
}

// QuietHours is a per-user window during which notifications must not be
// delivered. The window may wrap midnight (e.g. 22:00 to 08:00).
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"` // 24-hour format "HH:MM"
	End      string `json:"end"`   // 24-hour format "HH:MM"
	Timezone string `json:"timezone"`
}

// NotificationPrefs holds a user's delivery configuration.
type NotificationPrefs struct {
	UserID     string     `json:"userId"`
	Channel    string     `json:"channel"` // "email", "push", ...
	Recipient  string     `json:"recipient"`
	QuietHours QuietHours `json:"quietHours"`
}
