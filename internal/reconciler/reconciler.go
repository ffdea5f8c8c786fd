// Package reconciler drives expired-but-active subscriptions to the
// disabled state, in bounded batches against a flaky provider. A single
// item's failure never blocks other items or the run; a run-level failure
// is logged and the next tick retries from scratch.
package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rdk-i/Rflix-User-Center-sub000/internal/audit"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/models"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/provider"
	"github.com/rdk-i/Rflix-User-Center-sub000/internal/store"
)

// ProviderClient is the slice of the provider surface the reconciler needs.
type ProviderClient interface {
	DisableAccount(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) (provider.Health, error)
}

// Notifier receives disablement notifications; delivery eligibility is the
// notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, userID string, kind models.NotificationKind, payload string)
}

// ItemFailure records a single subscription that could not be disabled.
type ItemFailure struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// Summary is the transient result of one reconciliation run, persisted
// only as a single audit row.
type Summary struct {
	TotalCandidates int           `json:"totalCandidates"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	FailedSample    []ItemFailure `json:"failedSample,omitempty"`
	LocalOnly       bool          `json:"localOnly"`
}

// Reconciler is the periodic expiration job.
type Reconciler struct {
	store    *store.Store
	provider ProviderClient
	notifier Notifier
	recorder audit.Recorder

	batchSize  int
	batchPause time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config tunes the reconciler.
type Config struct {
	BatchSize  int           // default 5
	BatchPause time.Duration // pause between batches, default 1s
}

// New creates an expiration reconciler.
func New(st *store.Store, pc ProviderClient, notifier Notifier, recorder audit.Recorder, cfg Config) *Reconciler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	batchPause := cfg.BatchPause
	if batchPause <= 0 {
		batchPause = time.Second
	}
	return &Reconciler{
		store:      st,
		provider:   pc,
		notifier:   notifier,
		recorder:   recorder,
		batchSize:  batchSize,
		batchPause: batchPause,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run executes one reconciliation pass. A store failure aborts the run;
// the next scheduled tick retries from scratch.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	now := r.now()

	healthy := r.probeProvider(ctx)

	candidates, err := r.store.ExpiredActive(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation aborted: store unavailable")
		return Summary{}, err
	}

	var summary Summary
	summary.TotalCandidates = len(candidates)

	if len(candidates) == 0 {
		if healthy {
			r.resyncPending(ctx)
		}
		return summary, nil
	}

	log.Info().
		Int("candidates", len(candidates)).
		Bool("providerHealthy", healthy).
		Msg("Starting expiration reconciliation")

	if !healthy {
		// Provider is down: disable locally so expired users do not
		// silently remain active, and tag for later reconciliation.
		summary.LocalOnly = true
		for _, sub := range candidates {
			moved, err := r.store.MarkDisabled(ctx, sub.UserID, models.StateActive,
				models.SyncStatusPendingProviderSync, models.DisabledReasonExpired, now)
			if err != nil {
				summary.Failed++
				summary.recordFailure(sub.UserID, err.Error())
				continue
			}
			if moved {
				summary.Succeeded++
				r.notifyDisabled(ctx, sub)
			}
		}
		r.auditSummary(summary)
		return summary, nil
	}

	// Batches are processed strictly in order, oldest expirations first;
	// items within a batch run concurrently with all-settle semantics.
	for start := 0; start < len(candidates); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[start:end]

		outcomes := r.disableBatch(ctx, batch)
		for i, sub := range batch {
			if outcomes[i] != nil {
				summary.Failed++
				summary.recordFailure(sub.UserID, outcomes[i].Error())
				log.Warn().Err(outcomes[i]).
					Str("user", sub.UserID).
					Msg("Provider disable failed; will retry next run")
				continue
			}

			moved, err := r.store.MarkDisabled(ctx, sub.UserID, models.StateActive,
				models.SyncStatusSynced, models.DisabledReasonExpired, r.now())
			if err != nil {
				summary.Failed++
				summary.recordFailure(sub.UserID, err.Error())
				continue
			}
			if moved {
				summary.Succeeded++
				r.notifyDisabled(ctx, sub)
			}
		}

		if end < len(candidates) {
			if err := r.sleep(ctx, r.batchPause); err != nil {
				break
			}
		}
	}

	r.resyncPending(ctx)
	r.auditSummary(summary)

	log.Info().
		Int("candidates", summary.TotalCandidates).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("Expiration reconciliation finished")

	return summary, nil
}

// disableBatch issues disable calls for a batch concurrently and collects
// per-item outcomes without letting one failure abort the batch.
func (r *Reconciler) disableBatch(ctx context.Context, batch []models.Subscription) []error {
	outcomes := make([]error, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.batchSize)
	for i, sub := range batch {
		i, sub := i, sub
		g.Go(func() error {
			outcomes[i] = r.provider.DisableAccount(gctx, sub.ExternalAccountID)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// probeProvider pre-flights provider health before committing to a batch.
func (r *Reconciler) probeProvider(ctx context.Context) bool {
	health, err := r.provider.HealthCheck(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Provider health probe failed; falling back to local-only disablement")
		return false
	}
	if !health.Healthy {
		log.Warn().Dur("latency", health.Latency).Msg("Provider reports unhealthy; falling back to local-only disablement")
		return false
	}
	return true
}

// resyncPending completes earlier local-only disablements now that the
// provider is reachable.
func (r *Reconciler) resyncPending(ctx context.Context) {
	pending, err := r.store.PendingProviderSync(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Pending-sync query failed")
		return
	}
	for _, sub := range pending {
		if err := r.provider.DisableAccount(ctx, sub.ExternalAccountID); err != nil {
			log.Warn().Err(err).Str("user", sub.UserID).Msg("Pending-sync disable failed; will retry next run")
			continue
		}
		if err := r.store.MarkSynced(ctx, sub.UserID, r.now()); err != nil {
			log.Warn().Err(err).Str("user", sub.UserID).Msg("Failed to mark subscription synced")
		}
	}
}

func (r *Reconciler) notifyDisabled(ctx context.Context, sub models.Subscription) {
	if r.notifier == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"expirationAt": sub.ExpirationAt,
	})
	r.notifier.Notify(ctx, sub.UserID, models.NotificationAccountDisabled, string(payload))
}

func (r *Reconciler) auditSummary(summary Summary) {
	if r.recorder == nil {
		return
	}
	details, _ := json.Marshal(summary)
	event := models.AuditEvent{
		Actor:     "expiration-reconciler",
		Action:    models.AuditActionReconcileRun,
		Details:   string(details),
		Success:   summary.Failed == 0,
		Timestamp: r.now(),
	}
	event.ID = audit.NewEventID(event.Timestamp)
	if err := r.recorder.Record(event); err != nil {
		log.Warn().Err(err).Msg("Failed to record reconciliation summary")
	}
}

func (s *Summary) recordFailure(userID, reason string) {
	// Keep a bounded sample for the audit row
	if len(s.FailedSample) < 5 {
		s.FailedSample = append(s.FailedSample, ItemFailure{UserID: userID, Reason: reason})
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
