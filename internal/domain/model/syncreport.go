package model

// SyncReport summarizes one sync run for observability. Total counts records
// successfully upserted; Failed counts records that could not be normalized
// or stored and were skipped without aborting the run.
type SyncReport struct {
	Total         int
	WithHeartRate int
	WithCadence   int
	Failed        int
}

// Merge folds another report into r. Used to combine the recovery provider's
// independent sub-sync results.
func (r *SyncReport) Merge(other SyncReport) {
	r.Total += other.Total
	r.WithHeartRate += other.WithHeartRate
	r.WithCadence += other.WithCadence
	r.Failed += other.Failed
}
