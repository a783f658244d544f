package model

import "time"

// Activity is one normalized workout event. (UserID, Provider, ExternalID) is
// the natural key: re-syncing the same external event always resolves to the
// same row. Nullable measurements are pointers; a provider that did not report
// a field yields nil, never a sentinel zero.
type Activity struct {
	ID         int64
	UserID     string
	Provider   Provider
	ExternalID string

	OccurredAt time.Time
	Kind       string
	Duration   time.Duration

	DistanceKM   *float64
	Calories     *float64
	AvgHeartRate *float64
	AvgCadence   *float64
}
