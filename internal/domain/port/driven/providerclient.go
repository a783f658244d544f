package driven

import (
	"context"
	"fmt"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// TokenGrant is the result of a refresh-token exchange.
type TokenGrant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenRefreshError reports a failed refresh-token exchange. It is fatal to
// the sync attempt that triggered it; retry happens on a later scheduled run,
// never inside the exchange itself.
type TokenRefreshError struct {
	Provider   model.Provider
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenRefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s token refresh failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s token refresh failed: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *TokenRefreshError) Unwrap() error { return e.Err }

// TransientError marks a provider failure (HTTP 5xx, timeout) that is safe to
// retry against the same checkpoint window.
type TransientError struct {
	Provider model.Provider
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s provider transient failure: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// WorkoutClient fetches from the workout-tracking provider. Implementations
// paginate transparently and return fully normalized records with Provider
// set; the caller stamps UserID before persisting.
type WorkoutClient interface {
	// FetchActivities returns every activity that occurred after the given
	// time, enriched with per-activity detail (heart rate, cadence) where the
	// detail lookup succeeds. A zero after fetches full available history.
	// A failed detail lookup degrades that one record to its summary fields;
	// it never fails the batch.
	FetchActivities(ctx context.Context, accessToken string, after time.Time) ([]model.Activity, error)

	// RefreshToken exchanges a refresh token for a new token grant.
	RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error)
}

// RecoveryClient fetches from the wearable recovery provider. The three fetch
// methods are independent so one failing endpoint cannot block the others.
type RecoveryClient interface {
	// FetchWorkouts returns logged workouts starting at start.
	FetchWorkouts(ctx context.Context, accessToken string, start time.Time) ([]model.Activity, error)

	// FetchRecovery returns per-day recovery scores starting at start.
	FetchRecovery(ctx context.Context, accessToken string, start time.Time) ([]model.RecoveryMetric, error)

	// FetchSleep returns per-day sleep durations starting at start.
	FetchSleep(ctx context.Context, accessToken string, start time.Time) ([]model.RecoveryMetric, error)

	// RefreshToken exchanges a refresh token for a new token grant.
	RefreshToken(ctx context.Context, refreshToken string) (TokenGrant, error)
}
