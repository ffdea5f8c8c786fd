package models

import "time"

// AuditEvent is an append-only record of a governance action. Events are
// never mutated after being written.
type AuditEvent struct {
	ID            string    `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	SubjectUserID string    `json:"subjectUserId,omitempty"`
	Details       string    `json:"details,omitempty"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

// Audit actions emitted by the governance engine.
const (
	AuditActionReconcileRun       = "reconcile.run"
	AuditActionSubscriptionExpire = "subscription.expire"
	AuditActionUsageEscalation    = "usage.escalation"
	AuditActionNotificationSend   = "notification.send"
	AuditActionProviderCall       = "provider.call"
)
