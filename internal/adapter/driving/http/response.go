package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jlowell/healthdeck/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ActivityResponse is the JSON representation of one synced activity.
type ActivityResponse struct {
	Provider        string   `json:"provider"`
	ExternalID      string   `json:"external_id"`
	OccurredAt      string   `json:"occurred_at"`
	Kind            string   `json:"kind"`
	DurationSeconds float64  `json:"duration_seconds"`
	DistanceKM      *float64 `json:"distance_km"`
	Calories        *float64 `json:"calories"`
	AvgHeartRate    *float64 `json:"avg_heart_rate"`
	AvgCadence      *float64 `json:"avg_cadence"`
}

// MetricResponse is the JSON representation of one per-day recovery row.
type MetricResponse struct {
	Date             string   `json:"date"`
	RestingHeartRate *int     `json:"resting_heart_rate"`
	HRV              *float64 `json:"hrv"`
	RecoveryScore    *float64 `json:"recovery_score"`
	SleepSeconds     *float64 `json:"sleep_seconds"`
}

// IntegrationResponse reports one provider's connection state for a user.
// Token material never appears here.
type IntegrationResponse struct {
	Provider       string  `json:"provider"`
	Connected      bool    `json:"connected"`
	LastSyncAt     *string `json:"last_sync_at"`
	TokenExpiresAt *string `json:"token_expires_at"`
}

// SyncAcceptedResponse is the body for an accepted manual sync trigger.
type SyncAcceptedResponse struct {
	Queued []string `json:"queued"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// webhookEvent is the JSON body providers POST to the webhook endpoint.
type webhookEvent struct {
	EventType string `json:"event_type"`
	SubjectID string `json:"subject_id"`
	ObjectID  string `json:"object_id"`
}

func toActivityResponse(a model.Activity) ActivityResponse {
	return ActivityResponse{
		Provider:        string(a.Provider),
		ExternalID:      a.ExternalID,
		OccurredAt:      a.OccurredAt.UTC().Format(time.RFC3339),
		Kind:            a.Kind,
		DurationSeconds: a.Duration.Seconds(),
		DistanceKM:      a.DistanceKM,
		Calories:        a.Calories,
		AvgHeartRate:    a.AvgHeartRate,
		AvgCadence:      a.AvgCadence,
	}
}

func toMetricResponse(m model.RecoveryMetric) MetricResponse {
	var sleepSeconds *float64
	if m.SleepDuration != nil {
		s := m.SleepDuration.Seconds()
		sleepSeconds = &s
	}

	return MetricResponse{
		Date:             m.DateKey(),
		RestingHeartRate: m.RestingHeartRate,
		HRV:              m.HRV,
		RecoveryScore:    m.RecoveryScore,
		SleepSeconds:     sleepSeconds,
	}
}

func toIntegrationResponse(provider model.Provider, cred *model.Credential) IntegrationResponse {
	resp := IntegrationResponse{
		Provider:  string(provider),
		Connected: cred != nil,
	}
	if cred == nil {
		return resp
	}

	if cred.LastSyncAt != nil {
		s := cred.LastSyncAt.UTC().Format(time.RFC3339)
		resp.LastSyncAt = &s
	}
	if !cred.TokenExpiresAt.IsZero() {
		s := cred.TokenExpiresAt.UTC().Format(time.RFC3339)
		resp.TokenExpiresAt = &s
	}
	return resp
}
