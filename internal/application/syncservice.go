// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
	"github.com/jlowell/healthdeck/internal/observability"
)

// SyncService pulls new records from a provider and persists them. One call
// is one sync run: resolve the credential, make sure the access token is
// fresh, fetch everything past the checkpoint, upsert, and only then advance
// the checkpoint.
type SyncService struct {
	creds      driven.CredentialStore
	activities driven.ActivityStore
	metrics    driven.RecoveryMetricStore
	workout    driven.WorkoutClient
	recovery   driven.RecoveryClient
	tokens     *TokenService
	now        func() time.Time
}

// NewSyncService creates a SyncService with all required dependencies.
func NewSyncService(
	creds driven.CredentialStore,
	activities driven.ActivityStore,
	metrics driven.RecoveryMetricStore,
	workout driven.WorkoutClient,
	recovery driven.RecoveryClient,
	tokens *TokenService,
) *SyncService {
	return &SyncService{
		creds:      creds,
		activities: activities,
		metrics:    metrics,
		workout:    workout,
		recovery:   recovery,
		tokens:     tokens,
		now:        time.Now,
	}
}

// SyncUser runs one sync for the user/provider pair. Record-level failures
// are folded into the report; the run only errors when the provider cannot be
// reached, the token cannot be refreshed, or the user is not connected. The
// checkpoint advances to the run's start time, and only after every fetched
// record has been handled, so a crash mid-run re-fetches rather than loses.
func (s *SyncService) SyncUser(ctx context.Context, userID string, provider model.Provider) (model.SyncReport, error) {
	runID := uuid.NewString()
	start := s.now().UTC()

	cred, err := s.creds.Get(ctx, userID, provider)
	if err != nil {
		return model.SyncReport{}, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return model.SyncReport{}, fmt.Errorf("%s for user %s: %w", provider, userID, ErrNotConnected)
	}

	accessToken, err := s.tokens.EnsureValid(ctx, cred)
	if err != nil {
		observability.RecordSyncRun(provider, "error")
		return model.SyncReport{}, err
	}

	// A nil checkpoint means first sync: fetch full available history.
	var since time.Time
	if cred.LastSyncAt != nil {
		since = *cred.LastSyncAt
	}

	slog.Info("sync run started",
		"run_id", runID,
		"user_id", userID,
		"provider", provider,
		"since", since,
	)

	var report model.SyncReport
	switch provider {
	case model.ProviderWorkout:
		report, err = s.syncWorkout(ctx, userID, accessToken, since)
	case model.ProviderRecovery:
		report, err = s.syncRecovery(ctx, userID, accessToken, since)
	default:
		return model.SyncReport{}, fmt.Errorf("unknown provider %q", provider)
	}

	observability.RecordUpserts(provider, report.Total)
	observability.RecordRecordFailures(provider, report.Failed)

	if err != nil {
		// Checkpoint stays put: the same window is re-fetched next run, and
		// idempotent upserts make the overlap harmless.
		observability.RecordSyncRun(provider, "error")
		slog.Error("sync run failed",
			"run_id", runID,
			"user_id", userID,
			"provider", provider,
			"upserted", report.Total,
			"error", err,
		)
		return report, err
	}

	if err := s.creds.AdvanceCheckpoint(ctx, userID, provider, start); err != nil {
		observability.RecordSyncRun(provider, "error")
		return report, fmt.Errorf("advance checkpoint: %w", err)
	}

	observability.RecordSyncRun(provider, "ok")
	observability.RecordSyncSuccess(provider, start)
	slog.Info("sync run complete",
		"run_id", runID,
		"user_id", userID,
		"provider", provider,
		"upserted", report.Total,
		"failed", report.Failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return report, nil
}

// syncWorkout pulls the workout provider's activity feed.
func (s *SyncService) syncWorkout(ctx context.Context, userID, accessToken string, since time.Time) (model.SyncReport, error) {
	fetched, err := s.workout.FetchActivities(ctx, accessToken, since)
	if err != nil {
		return model.SyncReport{}, err
	}
	return s.upsertActivities(ctx, userID, fetched), nil
}

// syncRecovery pulls the recovery provider's three feeds concurrently. The
// sub-fetches are independent: records from the ones that succeed are
// persisted even when another fails, but any sub-fetch failure errors the run
// so the checkpoint does not advance past unfetched data.
func (s *SyncService) syncRecovery(ctx context.Context, userID, accessToken string, since time.Time) (model.SyncReport, error) {
	var (
		workouts    []model.Activity
		recovery    []model.RecoveryMetric
		sleep       []model.RecoveryMetric
		workoutErr  error
		recoveryErr error
		sleepErr    error
	)

	var g errgroup.Group
	g.Go(func() error {
		workouts, workoutErr = s.recovery.FetchWorkouts(ctx, accessToken, since)
		return nil
	})
	g.Go(func() error {
		recovery, recoveryErr = s.recovery.FetchRecovery(ctx, accessToken, since)
		return nil
	})
	g.Go(func() error {
		sleep, sleepErr = s.recovery.FetchSleep(ctx, accessToken, since)
		return nil
	})
	_ = g.Wait()

	report := s.upsertActivities(ctx, userID, workouts)
	report.Merge(s.mergeMetrics(ctx, userID, recovery))
	report.Merge(s.mergeMetrics(ctx, userID, sleep))

	return report, errors.Join(workoutErr, recoveryErr, sleepErr)
}

// upsertActivities stamps the user onto each activity and writes it. A failed
// write skips that record and counts it; it never aborts the batch.
func (s *SyncService) upsertActivities(ctx context.Context, userID string, activities []model.Activity) model.SyncReport {
	var report model.SyncReport
	for _, a := range activities {
		a.UserID = userID
		if err := s.activities.Upsert(ctx, a); err != nil {
			slog.Error("activity upsert failed",
				"user_id", userID,
				"provider", a.Provider,
				"external_id", a.ExternalID,
				"error", err,
			)
			report.Failed++
			continue
		}
		report.Total++
		if a.AvgHeartRate != nil {
			report.WithHeartRate++
		}
		if a.AvgCadence != nil {
			report.WithCadence++
		}
	}
	return report
}

// mergeMetrics stamps the user onto each metric and merges it into the
// per-day row.
func (s *SyncService) mergeMetrics(ctx context.Context, userID string, metrics []model.RecoveryMetric) model.SyncReport {
	var report model.SyncReport
	for _, m := range metrics {
		m.UserID = userID
		if err := s.metrics.Merge(ctx, m); err != nil {
			slog.Error("recovery metric merge failed",
				"user_id", userID,
				"date", m.DateKey(),
				"error", err,
			)
			report.Failed++
			continue
		}
		report.Total++
	}
	return report
}
