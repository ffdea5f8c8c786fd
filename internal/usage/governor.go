// Package usage tracks per-user consumption against tier limits and drives
// the escalation machine from threshold warnings through grace periods to
// restriction. Escalation for a given (user, metric) is serialized behind a
// per-user lock; cross-user operations run fully in parallel.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/store"
)

// Level is the escalation state for a (user, metric) pair.
type Level int

const (
	LevelNormal Level = iota
	LevelWarned
	LevelGrace
	LevelRestricted
)

// String returns the level as a string
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarned:
		return "warned"
	case LevelGrace:
		return "grace_period"
	case LevelRestricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Current int64   `json:"current"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent"`
}

// Alert describes a metric running at or above the warning threshold.
type Alert struct {
	UserID  string        `json:"userId"`
	Metric  models.Metric `json:"metric"`
	Current int64         `json:"current"`
	Limit   int64         `json:"limit"`
	Percent float64       `json:"percent"`
}

// AccountDisabler issues provider disablement for restricted users.
type AccountDisabler interface {
	DisableAccount(ctx context.Context, id string) error
}

// Notifier receives usage-driven notification requests. Delivery
// eligibility (dedup, quiet hours) is the notifier's concern, not the
// governor's.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind models.NotificationKind, payload string)
}

// Governor answers "is this operation allowed" and maintains per-tier
// counters.
type Governor struct {
	store     *store.Store
	disabler  AccountDisabler
	notifier  Notifier
	recorder  audit.Recorder
	tiers     *TierCache
	threshold float64
	now       func() time.Time

	// sleep is injectable for throttle tests
	sleep func(ctx context.Context, d time.Duration) error

	lockMu    sync.Mutex
	userLocks map[string]*sync.Mutex

	stateMu    sync.RWMutex
	levels     map[string]map[models.Metric]Level
	restricted map[string]bool
	counters   map[string]*models.UsageCounters
	degraded   bool // counter persistence failed; in-memory tracking only
}

// Config tunes the governor.
type Config struct {
	ThresholdPercent float64 // warning threshold, default 80
}

// NewGovernor creates a usage governor.
func NewGovernor(st *store.Store, tiers *TierCache, disabler AccountDisabler, notifier Notifier, recorder audit.Recorder, cfg Config) *Governor {
	threshold := cfg.ThresholdPercent
	if threshold <= 0 || threshold > 100 {
		threshold = 80
	}
	return &Governor{
		store:      st,
		disabler:   disabler,
		notifier:   notifier,
		recorder:   recorder,
		tiers:      tiers,
		threshold:  threshold,
		now:        time.Now,
		sleep:      sleepCtx,
		userLocks:  make(map[string]*sync.Mutex),
		levels:     make(map[string]map[models.Metric]Level),
		restricted: make(map[string]bool),
		counters:   make(map[string]*models.UsageCounters),
	}
}

// Rehydrate reloads usage-restriction state persisted by earlier runs so
// throttling survives a process restart. Called once at startup.
func (g *Governor) Rehydrate(ctx context.Context) error {
	ids, err := g.store.DisabledUserIDs(ctx, models.DisabledReasonUsageRestricted)
	if err != nil {
		return err
	}
	g.stateMu.Lock()
	for _, id := range ids {
		g.restricted[id] = true
	}
	g.stateMu.Unlock()
	if len(ids) > 0 {
		log.Info().Int("count", len(ids)).Msg("Rehydrated usage restrictions from store")
	}
	return nil
}

func (g *Governor) lockFor(userID string) *sync.Mutex {
	g.lockMu.Lock()
	defer g.lockMu.Unlock()
	mu, ok := g.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		g.userLocks[userID] = mu
	}
	return mu
}

// TrackUsage increments the counter for a metric and appends a
// usage-history point. It never blocks the caller on escalation work and a
// persistence failure degrades to in-memory tracking rather than surfacing
// an error.
func (g *Governor) TrackUsage(ctx context.Context, userID string, metric models.Metric, delta int64) {
	mu := g.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	now := g.now()
	counters := g.loadCounters(ctx, userID, now)
	if tier, err := g.tierFor(ctx, userID); err == nil {
		counters = g.currentCounters(ctx, userID, tier, now)
	}

	counters.Add(metric, delta)

	if err := g.store.AppendUsageHistory(ctx, userID, metric, delta, now); err != nil {
		log.Debug().Err(err).Str("user", userID).Msg("Failed to append usage history")
	}

	if err := g.store.SaveCounters(ctx, *counters); err != nil {
		g.markDegraded(err)
	}

	// Usage dropping back under the cap recovers an in-flight grace period
	if delta < 0 {
		g.maybeRecoverLocked(ctx, userID, counters, now)
	}
}

// CheckLimit compares the current counter plus the requested amount against
// the user's tier cap. Persistence errors never produce a denial; the
// governor fails open.
func (g *Governor) CheckLimit(ctx context.Context, userID string, metric models.Metric, requested int64) Decision {
	mu := g.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	now := g.now()
	tier, err := g.tierFor(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Limit check degraded to allow: tier lookup failed")
		return Decision{Allowed: true}
	}
	counters := g.currentCounters(ctx, userID, tier, now)

	limit := tier.Cap(metric)
	current := counters.Value(metric)
	if limit <= 0 {
		return Decision{Allowed: true, Current: current}
	}

	percent := models.UsagePercent(current, limit)
	if current+requested <= limit {
		return Decision{Allowed: true, Current: current, Limit: limit, Percent: percent}
	}

	g.escalateOnDenyLocked(ctx, userID, metric, current, limit, tier, now)

	return Decision{
		Allowed: false,
		Reason:  fmt.Sprintf("%s limit exceeded", metric),
		Current: current,
		Limit:   limit,
		Percent: percent,
	}
}

// CheckThreshold returns an alert for each metric at or above the warning
// threshold. It notifies but never denies.
func (g *Governor) CheckThreshold(ctx context.Context, userID string, thresholdPercent float64) []Alert {
	if thresholdPercent <= 0 {
		thresholdPercent = g.threshold
	}

	mu := g.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	now := g.now()
	tier, err := g.tierFor(ctx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Threshold check skipped: tier lookup failed")
		return nil
	}
	counters := g.currentCounters(ctx, userID, tier, now)

	var alerts []Alert
	for _, metric := range models.AllMetrics {
		limit := tier.Cap(metric)
		if limit <= 0 {
			continue
		}
		current := counters.Value(metric)
		rawPercent := float64(current) / float64(limit) * 100
		if rawPercent < thresholdPercent {
			continue
		}

		alerts = append(alerts, Alert{
			UserID:  userID,
			Metric:  metric,
			Current: current,
			Limit:   limit,
			Percent: models.UsagePercent(current, limit),
		})

		if g.levelLocked(userID, metric) == LevelNormal {
			g.setLevelLocked(userID, metric, LevelWarned)
			g.auditEscalation(userID, metric, LevelNormal, LevelWarned, true)
		}
	}

	if len(alerts) > 0 && g.notifier != nil {
		payload, _ := json.Marshal(alerts)
		g.notifier.Notify(ctx, userID, models.NotificationUsageWarning, string(payload))
	}
	return alerts
}

// Throttle delays the caller by the tier's throttle delay while the user is
// restricted. A cheap deterrent rather than a hard block.
func (g *Governor) Throttle(ctx context.Context, userID string) error {
	g.stateMu.RLock()
	restricted := g.restricted[userID]
	g.stateMu.RUnlock()
	if !restricted {
		return nil
	}

	tier, err := g.tierFor(ctx, userID)
	if err != nil || tier.ThrottleDelay <= 0 {
		return nil
	}
	return g.sleep(ctx, tier.ThrottleDelay)
}

// Sweep runs the periodic usage pass: threshold alerts for active users
// and grace-period evaluation against the persisted deadlines.
func (g *Governor) Sweep(ctx context.Context) {
	active, err := g.store.ActiveSubscriptions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Usage sweep aborted: store unavailable")
		return
	}
	for _, sub := range active {
		g.CheckThreshold(ctx, sub.UserID, 0)
	}

	g.SweepGrace(ctx)
}

// SweepGrace evaluates every grace-period subscription: usage back under
// the cap restores the user, an elapsed deadline while still over limit
// restricts them.
func (g *Governor) SweepGrace(ctx context.Context) {
	subs, err := g.store.InGracePeriod(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Grace sweep aborted: store unavailable")
		return
	}

	now := g.now()
	for _, sub := range subs {
		g.evaluateGrace(ctx, sub, now)
	}
}

func (g *Governor) evaluateGrace(ctx context.Context, sub models.Subscription, now time.Time) {
	mu := g.lockFor(sub.UserID)
	mu.Lock()
	defer mu.Unlock()

	tier, err := g.tiers.Get(ctx, sub.TierID)
	if err != nil {
		log.Warn().Err(err).Str("user", sub.UserID).Msg("Grace evaluation skipped: tier lookup failed")
		return
	}
	counters := g.currentCounters(ctx, sub.UserID, tier, now)

	if !overLimit(counters, tier) {
		g.recoverLocked(ctx, sub.UserID, now)
		return
	}

	if sub.GraceEndsAt == nil || sub.GraceEndsAt.After(now) {
		return // still inside the grace window
	}

	g.restrictLocked(ctx, sub, now)
}

// escalateOnDenyLocked drives Warned (or Normal) to GracePeriod on a hard
// limit breach. The subscription enters its grace period with a persisted
// deadline; restriction happens later if the deadline elapses while still
// over limit.
func (g *Governor) escalateOnDenyLocked(ctx context.Context, userID string, metric models.Metric, current, limit int64, tier models.TierLimits, now time.Time) {
	level := g.levelLocked(userID, metric)
	if level >= LevelGrace {
		return
	}

	graceEndsAt := now.Add(tier.GraceDuration)
	moved, err := g.store.StartGrace(ctx, userID, graceEndsAt, now)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to persist grace period start")
		return
	}

	g.setLevelLocked(userID, metric, LevelGrace)
	if !moved {
		// Subscription was not Active (already in grace or disabled);
		// the metric-level escalation state still advances.
		return
	}

	g.auditEscalation(userID, metric, level, LevelGrace, true)
	log.Info().
		Str("user", userID).
		Str("metric", string(metric)).
		Time("graceEndsAt", graceEndsAt).
		Int64("current", current).
		Int64("limit", limit).
		Msg("Subscription entered grace period")

	if g.notifier != nil {
		payload, _ := json.Marshal(map[string]interface{}{
			"metric":      metric,
			"current":     current,
			"limit":       limit,
			"graceEndsAt": graceEndsAt,
		})
		g.notifier.Notify(ctx, userID, models.NotificationGraceStarted, string(payload))
	}
}

// restrictLocked moves a grace-period subscription to Disabled and issues
// the provider disable call. A provider failure still disables locally,
// tagged for later reconciliation.
func (g *Governor) restrictLocked(ctx context.Context, sub models.Subscription, now time.Time) {
	syncStatus := models.SyncStatusSynced
	if g.disabler != nil {
		if err := g.disabler.DisableAccount(ctx, sub.ExternalAccountID); err != nil {
			log.Warn().Err(err).Str("user", sub.UserID).Msg("Provider disable failed; disabling locally")
			syncStatus = models.SyncStatusPendingProviderSync
		}
	}

	moved, err := g.store.MarkDisabled(ctx, sub.UserID, models.StateGracePeriod, syncStatus, models.DisabledReasonUsageRestricted, now)
	if err != nil {
		log.Error().Err(err).Str("user", sub.UserID).Msg("Failed to persist restriction")
		return
	}
	if !moved {
		return
	}

	g.stateMu.Lock()
	g.restricted[sub.UserID] = true
	for metric, level := range g.levels[sub.UserID] {
		if level == LevelGrace {
			g.levels[sub.UserID][metric] = LevelRestricted
		}
	}
	g.stateMu.Unlock()

	g.auditEscalation(sub.UserID, "", LevelGrace, LevelRestricted, true)
	log.Warn().Str("user", sub.UserID).Msg("Subscription restricted after grace period elapsed over limit")

	if g.notifier != nil {
		g.notifier.Notify(ctx, sub.UserID, models.NotificationUsageRestricted, "")
	}
}

// maybeRecoverLocked checks whether a user in grace has dropped under every
// cap and, if so, restores them.
func (g *Governor) maybeRecoverLocked(ctx context.Context, userID string, counters *models.UsageCounters, now time.Time) {
	if !g.hasLevelLocked(userID, LevelGrace) {
		return
	}
	tier, err := g.tierFor(ctx, userID)
	if err != nil {
		return
	}
	if overLimit(counters, tier) {
		return
	}
	g.recoverLocked(ctx, userID, now)
}

// recoverLocked cancels the grace period: the subscription returns to
// Active, the persisted deadline is cleared, and no disable call is issued.
func (g *Governor) recoverLocked(ctx context.Context, userID string, now time.Time) {
	moved, err := g.store.EndGrace(ctx, userID, now)
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to persist grace recovery")
		return
	}

	g.stateMu.Lock()
	delete(g.restricted, userID)
	for metric := range g.levels[userID] {
		g.levels[userID][metric] = LevelNormal
	}
	g.stateMu.Unlock()

	if !moved {
		return
	}

	g.auditEscalation(userID, "", LevelGrace, LevelNormal, true)
	log.Info().Str("user", userID).Msg("Usage back under limit; grace period cancelled")

	if g.notifier != nil {
		g.notifier.Notify(ctx, userID, models.NotificationAccountRestored, "")
	}
}

// Level returns the current escalation level for a (user, metric) pair.
func (g *Governor) Level(userID string, metric models.Metric) Level {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.levels[userID][metric]
}

// Degraded reports whether counter persistence has failed and tracking is
// in-memory only for this process lifetime.
func (g *Governor) Degraded() bool {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.degraded
}

func (g *Governor) levelLocked(userID string, metric models.Metric) Level {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	return g.levels[userID][metric]
}

func (g *Governor) hasLevelLocked(userID string, level Level) bool {
	g.stateMu.RLock()
	defer g.stateMu.RUnlock()
	for _, l := range g.levels[userID] {
		if l >= level {
			return true
		}
	}
	return false
}

func (g *Governor) setLevelLocked(userID string, metric models.Metric, level Level) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	if g.levels[userID] == nil {
		g.levels[userID] = make(map[models.Metric]Level)
	}
	g.levels[userID][metric] = level
}

// loadCounters returns the in-process counter row for a user, loading from
// the store on first touch. The in-process copy is authoritative within a
// process so a store outage cannot corrupt accounting.
func (g *Governor) loadCounters(ctx context.Context, userID string, now time.Time) *models.UsageCounters {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()

	if c, ok := g.counters[userID]; ok {
		return c
	}

	c, err := g.store.GetCounters(ctx, userID, now)
	if err != nil {
		g.degradedLocked(err)
		c = models.UsageCounters{UserID: userID, WindowStartedAt: now}
	}
	copied := c
	g.counters[userID] = &copied
	return &copied
}

// currentCounters returns the user's counters with an elapsed counting
// window already reset. Every evaluation path goes through here so a user
// is never judged against a window that has already ended.
func (g *Governor) currentCounters(ctx context.Context, userID string, tier models.TierLimits, now time.Time) *models.UsageCounters {
	counters := g.loadCounters(ctx, userID, now)
	if tier.WindowDuration > 0 && now.Sub(counters.WindowStartedAt) >= tier.WindowDuration {
		counters.ResetWindow(now)
		if err := g.store.SaveCounters(ctx, *counters); err != nil {
			g.markDegraded(err)
		}
	}
	return counters
}

func (g *Governor) tierFor(ctx context.Context, userID string) (models.TierLimits, error) {
	sub, err := g.store.GetSubscription(ctx, userID)
	if err != nil {
		return models.TierLimits{}, err
	}
	return g.tiers.Get(ctx, sub.TierID)
}

func (g *Governor) markDegraded(err error) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()
	g.degradedLocked(err)
}

func (g *Governor) degradedLocked(err error) {
	if !g.degraded {
		log.Warn().Err(err).Msg("Counter persistence failed; tracking in memory for this process lifetime")
	}
	g.degraded = true
}

func (g *Governor) auditEscalation(userID string, metric models.Metric, from, to Level, success bool) {
	if g.recorder == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{
		"metric": string(metric),
		"from":   from.String(),
		"to":     to.String(),
	})
	event := models.AuditEvent{
		Actor:         "usage-governor",
		Action:        models.AuditActionUsageEscalation,
		SubjectUserID: userID,
		Details:       string(details),
		Success:       success,
		Timestamp:     g.now(),
	}
	event.ID = audit.NewEventID(event.Timestamp)
	if err := g.recorder.Record(event); err != nil {
		log.Warn().Err(err).Msg("Failed to record escalation audit event")
	}
}

func overLimit(c *models.UsageCounters, tier models.TierLimits) bool {
	for _, metric := range models.AllMetrics {
		limit := tier.Cap(metric)
		if limit > 0 && c.Value(metric) > limit {
			return true
		}
	}
	return false
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
