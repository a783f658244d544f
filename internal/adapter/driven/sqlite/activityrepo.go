package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ActivityStore = (*ActivityRepo)(nil)

// ActivityRepo is the SQLite implementation of the ActivityStore port.
type ActivityRepo struct {
	db *DB
}

// NewActivityRepo creates an ActivityRepo backed by the given DB.
func NewActivityRepo(db *DB) *ActivityRepo {
	return &ActivityRepo{db: db}
}

// Upsert inserts or updates an activity keyed by (user_id, provider, external_id).
func (r *ActivityRepo) Upsert(ctx context.Context, activity model.Activity) error {
	const query = `
		INSERT INTO activities (
			user_id, provider, external_id, occurred_at, kind, duration_seconds,
			distance_km, calories, avg_heart_rate, avg_cadence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, provider, external_id) DO UPDATE SET
			occurred_at = excluded.occurred_at,
			kind = excluded.kind,
			duration_seconds = excluded.duration_seconds,
			distance_km = excluded.distance_km,
			calories = excluded.calories,
			avg_heart_rate = excluded.avg_heart_rate,
			avg_cadence = excluded.avg_cadence
	`

	_, err := r.db.Writer.ExecContext(ctx, query,
		activity.UserID, string(activity.Provider), activity.ExternalID,
		formatTime(activity.OccurredAt), activity.Kind, activity.Duration.Seconds(),
		nullFloat(activity.DistanceKM), nullFloat(activity.Calories),
		nullFloat(activity.AvgHeartRate), nullFloat(activity.AvgCadence),
	)
	if err != nil {
		return fmt.Errorf("upsert activity %s/%s/%s: %w",
			activity.UserID, activity.Provider, activity.ExternalID, err)
	}
	return nil
}

// ListByUser returns all activities for a user, newest first.
func (r *ActivityRepo) ListByUser(ctx context.Context, userID string) ([]model.Activity, error) {
	const query = `
		SELECT id, user_id, provider, external_id, occurred_at, kind, duration_seconds,
		       distance_km, calories, avg_heart_rate, avg_cadence
		FROM activities
		WHERE user_id = ?
		ORDER BY occurred_at DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list activities for %s: %w", userID, err)
	}
	defer rows.Close()

	var activities []model.Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}

	return activities, nil
}

func scanActivity(s scanner) (*model.Activity, error) {
	var activity model.Activity
	var provider, occurredAt string
	var durationSeconds float64
	var distance, calories, heartRate, cadence sql.NullFloat64

	err := s.Scan(
		&activity.ID, &activity.UserID, &provider, &activity.ExternalID,
		&occurredAt, &activity.Kind, &durationSeconds,
		&distance, &calories, &heartRate, &cadence,
	)
	if err != nil {
		return nil, err
	}

	activity.Provider = model.Provider(provider)
	activity.Duration = time.Duration(durationSeconds * float64(time.Second))

	if activity.OccurredAt, err = parseTime(occurredAt); err != nil {
		return nil, fmt.Errorf("parse occurred_at: %w", err)
	}

	activity.DistanceKM = floatPtr(distance)
	activity.Calories = floatPtr(calories)
	activity.AvgHeartRate = floatPtr(heartRate)
	activity.AvgCadence = floatPtr(cadence)

	return &activity, nil
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
