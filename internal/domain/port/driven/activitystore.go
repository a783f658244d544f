package driven

import (
	"context"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// ActivityStore is the driven port for workout persistence.
type ActivityStore interface {
	// Upsert inserts or updates an activity keyed by
	// (UserID, Provider, ExternalID). Re-upserting the same external event
	// updates the existing row, never duplicates it.
	Upsert(ctx context.Context, activity model.Activity) error

	// ListByUser returns all activities for a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Activity, error)
}
