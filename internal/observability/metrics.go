// Package observability exposes Prometheus collectors for the sync engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdeck",
		Subsystem: "sync",
		Name:      "runs_total",
		Help:      "Completed sync runs by provider and outcome.",
	}, []string{"provider", "outcome"})

	recordsUpsertedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdeck",
		Subsystem: "sync",
		Name:      "records_upserted_total",
		Help:      "Records upserted into local storage by provider.",
	}, []string{"provider"})

	recordFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdeck",
		Subsystem: "sync",
		Name:      "record_failures_total",
		Help:      "Records skipped due to normalization or upsert failures.",
	}, []string{"provider"})

	tokenRefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdeck",
		Subsystem: "oauth",
		Name:      "token_refreshes_total",
		Help:      "Successful refresh-token exchanges by provider.",
	}, []string{"provider"})

	webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healthdeck",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook events by provider and outcome.",
	}, []string{"provider", "outcome"})

	lastSyncGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "healthdeck",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync per provider.",
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(
		syncRunsTotal,
		recordsUpsertedTotal,
		recordFailuresTotal,
		tokenRefreshesTotal,
		webhookEventsTotal,
		lastSyncGauge,
	)
}

// RecordSyncRun counts one finished sync run. outcome is "ok", "error", or
// "skipped".
func RecordSyncRun(provider model.Provider, outcome string) {
	syncRunsTotal.WithLabelValues(string(provider), outcome).Inc()
}

// RecordUpserts counts records written during a run.
func RecordUpserts(provider model.Provider, n int) {
	if n <= 0 {
		return
	}
	recordsUpsertedTotal.WithLabelValues(string(provider)).Add(float64(n))
}

// RecordRecordFailures counts records skipped during a run.
func RecordRecordFailures(provider model.Provider, n int) {
	if n <= 0 {
		return
	}
	recordFailuresTotal.WithLabelValues(string(provider)).Add(float64(n))
}

// RecordTokenRefresh counts one successful token rotation.
func RecordTokenRefresh(provider model.Provider) {
	tokenRefreshesTotal.WithLabelValues(string(provider)).Inc()
}

// RecordWebhookEvent counts one inbound webhook. outcome is "queued",
// "deleted", "rejected", or "unknown_subject".
func RecordWebhookEvent(provider, outcome string) {
	webhookEventsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordSyncSuccess updates the last-success watermark for a provider.
func RecordSyncSuccess(provider model.Provider, ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.WithLabelValues(string(provider)).Set(float64(ts.Unix()))
}
