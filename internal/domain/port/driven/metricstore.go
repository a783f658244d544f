package driven

import (
	"context"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// RecoveryMetricStore is the driven port for per-day recovery persistence.
type RecoveryMetricStore interface {
	// Merge inserts or additively updates the row for (UserID, Date). Non-nil
	// incoming fields overwrite stored values; nil incoming fields leave
	// stored values untouched, so a sleep-only update cannot erase a
	// previously stored recovery score.
	Merge(ctx context.Context, metric model.RecoveryMetric) error

	// GetByDate returns the metric row for the user and calendar day, or
	// (nil, nil) when none exists.
	GetByDate(ctx context.Context, userID string, date time.Time) (*model.RecoveryMetric, error)

	// ListByUser returns all metric rows for a user, newest day first.
	ListByUser(ctx context.Context, userID string) ([]model.RecoveryMetric, error)
}
