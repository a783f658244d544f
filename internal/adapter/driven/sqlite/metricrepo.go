package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RecoveryMetricStore = (*RecoveryMetricRepo)(nil)

// RecoveryMetricRepo is the SQLite implementation of the RecoveryMetricStore
// port. One row per (user_id, date); sub-syncs land in the same row via
// COALESCE merge so a partial update never clears fields it did not carry.
type RecoveryMetricRepo struct {
	db *DB
}

// NewRecoveryMetricRepo creates a RecoveryMetricRepo backed by the given DB.
func NewRecoveryMetricRepo(db *DB) *RecoveryMetricRepo {
	return &RecoveryMetricRepo{db: db}
}

// Merge inserts or additively updates the row for (user_id, date). Incoming
// non-nil fields overwrite; incoming nil fields preserve stored values.
func (r *RecoveryMetricRepo) Merge(ctx context.Context, metric model.RecoveryMetric) error {
	const query = `
		INSERT INTO recovery_metrics (
			user_id, date, resting_heart_rate, hrv, recovery_score, sleep_duration_seconds
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			resting_heart_rate = COALESCE(excluded.resting_heart_rate, recovery_metrics.resting_heart_rate),
			hrv = COALESCE(excluded.hrv, recovery_metrics.hrv),
			recovery_score = COALESCE(excluded.recovery_score, recovery_metrics.recovery_score),
			sleep_duration_seconds = COALESCE(excluded.sleep_duration_seconds, recovery_metrics.sleep_duration_seconds)
	`

	var restingHR any
	if metric.RestingHeartRate != nil {
		restingHR = *metric.RestingHeartRate
	}

	var sleepSeconds any
	if metric.SleepDuration != nil {
		sleepSeconds = metric.SleepDuration.Seconds()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		metric.UserID, metric.DateKey(), restingHR,
		nullFloat(metric.HRV), nullFloat(metric.RecoveryScore), sleepSeconds,
	)
	if err != nil {
		return fmt.Errorf("merge recovery metric %s/%s: %w", metric.UserID, metric.DateKey(), err)
	}
	return nil
}

// GetByDate returns the metric row for the user and calendar day, or
// (nil, nil) when none exists.
func (r *RecoveryMetricRepo) GetByDate(ctx context.Context, userID string, date time.Time) (*model.RecoveryMetric, error) {
	const query = metricColumns + ` WHERE user_id = ? AND date = ?`

	metric, err := scanMetric(r.db.Reader.QueryRowContext(ctx, query, userID, date.Format(dateFormat)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get recovery metric %s/%s: %w", userID, date.Format(dateFormat), err)
	}
	return metric, nil
}

// ListByUser returns all metric rows for a user, newest day first.
func (r *RecoveryMetricRepo) ListByUser(ctx context.Context, userID string) ([]model.RecoveryMetric, error) {
	const query = metricColumns + ` WHERE user_id = ? ORDER BY date DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list recovery metrics for %s: %w", userID, err)
	}
	defer rows.Close()

	var metrics []model.RecoveryMetric
	for rows.Next() {
		metric, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recovery metric: %w", err)
		}
		metrics = append(metrics, *metric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recovery metrics: %w", err)
	}

	return metrics, nil
}

const metricColumns = `
	SELECT id, user_id, date, resting_heart_rate, hrv, recovery_score, sleep_duration_seconds
	FROM recovery_metrics`

func scanMetric(s scanner) (*model.RecoveryMetric, error) {
	var metric model.RecoveryMetric
	var date string
	var restingHR sql.NullInt64
	var hrv, score, sleepSeconds sql.NullFloat64

	err := s.Scan(&metric.ID, &metric.UserID, &date, &restingHR, &hrv, &score, &sleepSeconds)
	if err != nil {
		return nil, err
	}

	if metric.Date, err = time.Parse(dateFormat, date); err != nil {
		return nil, fmt.Errorf("parse date: %w", err)
	}

	if restingHR.Valid {
		v := int(restingHR.Int64)
		metric.RestingHeartRate = &v
	}
	metric.HRV = floatPtr(hrv)
	metric.RecoveryScore = floatPtr(score)
	if sleepSeconds.Valid {
		d := time.Duration(sleepSeconds.Float64 * float64(time.Second))
		metric.SleepDuration = &d
	}

	return &metric, nil
}
