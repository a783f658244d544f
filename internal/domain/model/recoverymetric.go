package model

import "time"

// RecoveryMetric is the merged per-day recovery record for a user, keyed by
// (UserID, Date). Recovery scores and sleep arrive in independent sub-syncs,
// so fields are pointers and merge additively: a sleep-only update must never
// null out a previously stored recovery score.
type RecoveryMetric struct {
	ID     int64
	UserID string

	// Date is the calendar day the metric belongs to; only the year, month,
	// and day components are significant.
	Date time.Time

	RestingHeartRate *int
	HRV              *float64
	RecoveryScore    *float64 // 0-100
	SleepDuration    *time.Duration
}

// DateKey returns the canonical YYYY-MM-DD form of Date used as the storage key.
func (m RecoveryMetric) DateKey() string {
	return m.Date.Format("2006-01-02")
}
