// Package notify decides delivery eligibility (dedup windows, quiet hours)
// and manages deferred delivery. Notification concerns never escalate to
// subscription-state changes.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/store"
)

// warningDayMarks are the only remaining-day counts at which expiration
// warnings are sent.
var warningDayMarks = map[int]bool{30: true, 14: true, 7: true, 3: true, 1: true}

// Scheduler decides whether a message may be sent now, defers it when
// quiet hours block it, and drains deferred entries on its own tick.
type Scheduler struct {
	store       *store.Store
	dispatcher  Dispatcher
	recorder    audit.Recorder
	dedupWindow time.Duration
	drainBatch  int
	now         func() time.Time
}

// SchedulerConfig tunes the notification scheduler.
type SchedulerConfig struct {
	DedupWindow time.Duration // default 24h
	DrainBatch  int           // default 50
}

// NewScheduler creates a notification scheduler.
func NewScheduler(st *store.Store, dispatcher Dispatcher, recorder audit.Recorder, cfg SchedulerConfig) *Scheduler {
	dedup := cfg.DedupWindow
	if dedup <= 0 {
		dedup = 24 * time.Hour
	}
	batch := cfg.DrainBatch
	if batch <= 0 {
		batch = 50
	}
	if dispatcher == nil {
		dispatcher = LogDispatcher{}
	}
	return &Scheduler{
		store:       st,
		dispatcher:  dispatcher,
		recorder:    recorder,
		dedupWindow: dedup,
		drainBatch:  batch,
		now:         time.Now,
	}
}

// ShouldSendNow reports whether a message of this kind may be delivered to
// the user now, i.e. no identical kind was successfully delivered within
// the dedup window.
func (s *Scheduler) ShouldSendNow(ctx context.Context, userID string, kind models.NotificationKind, within time.Duration) (bool, error) {
	if within <= 0 {
		within = s.dedupWindow
	}
	lastSent, err := s.store.LastSentAt(ctx, userID, kind)
	if err != nil {
		return false, err
	}
	if lastSent == nil {
		return true, nil
	}
	return s.now().Sub(*lastSent) >= within, nil
}

// Notify is the main entry point: it applies the dedup window, defers into
// quiet hours, and otherwise delivers immediately.
func (s *Scheduler) Notify(ctx context.Context, userID string, kind models.NotificationKind, payload string) {
	ok, err := s.ShouldSendNow(ctx, userID, kind, 0)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("kind", string(kind)).Msg("Dedup check failed; skipping notification")
		return
	}
	if !ok {
		log.Debug().Str("user", userID).Str("kind", string(kind)).Msg("Notification suppressed by dedup window")
		return
	}

	// A deferred entry of the same kind counts against the dedup window
	// too: it will deliver when drained, so delivering now as well would
	// send the user the same message twice.
	pending, err := s.store.HasPendingNotification(ctx, userID, kind)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("kind", string(kind)).Msg("Pending check failed; skipping notification")
		return
	}
	if pending {
		log.Debug().Str("user", userID).Str("kind", string(kind)).Msg("Notification suppressed; identical deferred entry pending")
		return
	}

	prefs, err := s.store.GetPrefs(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to load notification prefs; using defaults")
		prefs = models.NotificationPrefs{UserID: userID, Channel: "email"}
	}

	now := s.now()
	if deferUntil, quiet := quietHoursEnd(prefs.QuietHours, now); quiet {
		if err := s.Schedule(ctx, userID, kind, payload, deferUntil); err != nil {
			log.Warn().Err(err).Str("user", userID).Str("kind", string(kind)).Msg("Failed to defer notification")
		} else {
			log.Info().
				Str("user", userID).
				Str("kind", string(kind)).
				Time("dueAt", deferUntil).
				Msg("Notification deferred past quiet hours")
		}
		return
	}

	s.deliverNow(ctx, prefs, kind, payload, now)
}

// Schedule persists a deferred entry. An undelivered entry of the same
// kind already pending for the user is not duplicated.
func (s *Scheduler) Schedule(ctx context.Context, userID string, kind models.NotificationKind, payload string, dueAt time.Time) error {
	pending, err := s.store.HasPendingNotification(ctx, userID, kind)
	if err != nil {
		return err
	}
	if pending {
		return nil
	}
	return s.store.InsertNotification(ctx, models.ScheduledNotification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		DueAt:     dueAt,
		Payload:   payload,
		Status:    models.NotificationPending,
		CreatedAt: s.now(),
	})
}

// Drain delivers pending entries whose due time has passed. Failed entries
// are not retried automatically; they surface via audit for administrative
// follow-up.
func (s *Scheduler) Drain(ctx context.Context) {
	now := s.now()
	due, err := s.store.DueNotifications(ctx, now, s.drainBatch)
	if err != nil {
		log.Error().Err(err).Msg("Notification drain aborted: store unavailable")
		return
	}
	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("Draining deferred notifications")

	for _, n := range due {
		prefs, err := s.store.GetPrefs(ctx, n.UserID)
		if err != nil {
			prefs = models.NotificationPrefs{UserID: n.UserID, Channel: "email"}
		}

		deliverErr := s.dispatcher.Deliver(ctx, prefs.Channel, prefs.Recipient, n.Kind, n.Payload)

		status := models.NotificationSent
		if deliverErr != nil {
			status = models.NotificationFailed
			log.Warn().Err(deliverErr).
				Str("user", n.UserID).
				Str("kind", string(n.Kind)).
				Msg("Deferred notification delivery failed")
		}
		if err := s.store.MarkNotification(ctx, n.ID, status, s.now()); err != nil {
			log.Warn().Err(err).Str("id", n.ID).Msg("Failed to mark notification outcome")
		}
		s.auditDelivery(n.UserID, n.Kind, deliverErr == nil)
	}
}

// SweepExpirationWarnings sends expiring-soon reminders for active
// subscriptions sitting exactly on a warning day mark. The mark check runs
// before dedup and quiet-hours logic.
func (s *Scheduler) SweepExpirationWarnings(ctx context.Context) {
	subs, err := s.store.ActiveSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Expiration warning sweep aborted: store unavailable")
		return
	}

	now := s.now()
	for _, sub := range subs {
		days := sub.DaysRemaining(now)
		if !warningDayMarks[days] {
			continue
		}
		payload, _ := json.Marshal(map[string]interface{}{
			"daysRemaining": days,
			"expirationAt":  sub.ExpirationAt,
		})
		s.Notify(ctx, sub.UserID, models.NotificationExpiringSoon, string(payload))
	}
}

func (s *Scheduler) deliverNow(ctx context.Context, prefs models.NotificationPrefs, kind models.NotificationKind, payload string, now time.Time) {
	n := models.ScheduledNotification{
		ID:        uuid.NewString(),
		UserID:    prefs.UserID,
		Kind:      kind,
		DueAt:     now,
		Payload:   payload,
		Status:    models.NotificationPending,
		CreatedAt: now,
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		log.Warn().Err(err).Str("user", prefs.UserID).Msg("Failed to persist notification; delivering anyway")
	}

	deliverErr := s.dispatcher.Deliver(ctx, prefs.Channel, prefs.Recipient, kind, payload)

	status := models.NotificationSent
	if deliverErr != nil {
		status = models.NotificationFailed
		log.Warn().Err(deliverErr).
			Str("user", prefs.UserID).
			Str("kind", string(kind)).
			Msg("Notification delivery failed")
	}
	if err := s.store.MarkNotification(ctx, n.ID, status, s.now()); err != nil {
		log.Warn().Err(err).Str("id", n.ID).Msg("Failed to mark notification outcome")
	}
	s.auditDelivery(prefs.UserID, kind, deliverErr == nil)
}

func (s *Scheduler) auditDelivery(userID string, kind models.NotificationKind, success bool) {
	if s.recorder == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"kind": string(kind)})
	event := models.AuditEvent{
		Actor:         "notification-scheduler",
		Action:        models.AuditActionNotificationSend,
		SubjectUserID: userID,
		Details:       string(details),
		Success:       success,
		Timestamp:     s.now(),
	}
	event.ID = audit.NewEventID(event.Timestamp)
	if err := s.recorder.Record(event); err != nil {
		log.Warn().Err(err).Msg("Failed to record notification audit event")
	}
}
