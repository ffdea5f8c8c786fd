package models

import (
	"strings"
	"time"
)

// SubscriptionState is the single source of truth for whether the external
// account should be enabled.
type SubscriptionState string

const (
	StateActive      SubscriptionState = "active"
	StateGracePeriod SubscriptionState = "grace_period"
	StateDisabled    SubscriptionState = "disabled"
)

// DisabledReason records why a subscription was disabled, so restart-time
// rehydration can tell an expired account from a usage-restricted one.
type DisabledReason string

const (
	DisabledReasonExpired         DisabledReason = "expired"
	DisabledReasonUsageRestricted DisabledReason = "usage_restricted"
)

// SyncStatus tracks whether the provider has confirmed the local state.
type SyncStatus string

const (
	SyncStatusSynced              SyncStatus = "synced"
	SyncStatusPendingProviderSync SyncStatus = "pending_provider_sync"
)

// Subscription represents a user's paid access record.
// One row per user, created at registration, soft-disabled instead of deleted.
type Subscription struct {
	UserID            string            `json:"userId"`
	ExternalAccountID string            `json:"externalAccountId"`
	TierID            string            `json:"tierId"`
	ExpirationAt      time.Time         `json:"expirationAt"`
	State             SubscriptionState `json:"state"`
	SyncStatus        SyncStatus        `json:"syncStatus"`
	GraceEndsAt       *time.Time        `json:"graceEndsAt,omitempty"`
	LastSyncAt        *time.Time        `json:"lastSyncAt,omitempty"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// IsExpired reports whether the subscription's expiration has passed.
func (s *Subscription) IsExpired(now time.Time) bool {
	return s.ExpirationAt.Before(now)
}

// HasPlaceholderAccount reports whether the external account id is still a
// placeholder awaiting provider confirmation. A subscription with a
// placeholder id must not be Active.
func (s *Subscription) HasPlaceholderAccount() bool {
	return strings.HasPrefix(s.ExternalAccountID, "pending-")
}

// DaysRemaining returns the number of whole or partial days until expiration,
// rounded up. Expired subscriptions return zero or a negative count.
func (s *Subscription) DaysRemaining(now time.Time) int {
	remaining := s.ExpirationAt.Sub(now)
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}
