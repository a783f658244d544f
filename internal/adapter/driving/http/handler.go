// Package httphandler is the HTTP driving adapter: the JSON API the dashboard
// frontend reads, plus the webhook ingress providers push to.
package httphandler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jlowell/healthdeck/internal/domain/model"
	"github.com/jlowell/healthdeck/internal/domain/port/driven"
)

// syncDispatcher is the slice of the dispatcher the handler needs: queue one
// sync, with dedupe against pairs already pending.
type syncDispatcher interface {
	Enqueue(userID string, provider model.Provider, trigger string) bool
}

// Handler serves the REST API.
type Handler struct {
	creds      driven.CredentialStore
	activities driven.ActivityStore
	metrics    driven.RecoveryMetricStore
	dispatcher syncDispatcher
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	creds driven.CredentialStore,
	activities driven.ActivityStore,
	metrics driven.RecoveryMetricStore,
	dispatcher syncDispatcher,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		creds:      creds,
		activities: activities,
		metrics:    metrics,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/activities", h.ListActivities)
	mux.HandleFunc("GET /api/v1/metrics", h.ListMetrics)
	mux.HandleFunc("GET /api/v1/integrations", h.ListIntegrations)
	mux.HandleFunc("DELETE /api/v1/integrations/{provider}", h.DisconnectIntegration)
	mux.HandleFunc("POST /api/v1/sync", h.TriggerSync)
	mux.HandleFunc("POST /webhooks/{provider}", h.ReceiveWebhook)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// userIDParam extracts and validates the required user_id query parameter.
func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return "", false
	}
	return userID, true
}

// providerParam parses a provider name from a path segment or query value.
func providerParam(w http.ResponseWriter, raw string) (model.Provider, bool) {
	provider := model.Provider(raw)
	if !provider.Valid() {
		writeError(w, http.StatusNotFound, "unknown provider")
		return "", false
	}
	return provider, true
}

// ListActivities returns all synced activities for a user, newest first.
func (h *Handler) ListActivities(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	activities, err := h.activities.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list activities", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		resp = append(resp, toActivityResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListMetrics returns all per-day recovery rows for a user, newest day first.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	metrics, err := h.metrics.ListByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list metrics", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]MetricResponse, 0, len(metrics))
	for _, m := range metrics {
		resp = append(resp, toMetricResponse(m))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListIntegrations reports connection state for every provider for a user.
func (h *Handler) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	resp := make([]IntegrationResponse, 0, len(model.Providers()))
	for _, provider := range model.Providers() {
		cred, err := h.creds.Get(r.Context(), userID, provider)
		if err != nil {
			h.logger.Error("failed to load credential", "user_id", userID, "provider", provider, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		resp = append(resp, toIntegrationResponse(provider, cred))
	}

	writeJSON(w, http.StatusOK, resp)
}

// DisconnectIntegration removes a user's stored credential for one provider.
// Synced history stays; only the connection is severed.
func (h *Handler) DisconnectIntegration(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}
	provider, ok := providerParam(w, r.PathValue("provider"))
	if !ok {
		return
	}

	if err := h.creds.Delete(r.Context(), userID, provider); err != nil {
		h.logger.Error("failed to delete credential", "user_id", userID, "provider", provider, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// triggerSyncRequest is the JSON body for the manual sync endpoint. An empty
// provider queues every connected provider.
type triggerSyncRequest struct {
	UserID   string `json:"user_id"`
	Provider string `json:"provider"`
}

// TriggerSync queues an immediate sync for a user, bypassing the schedule.
// The sync itself runs asynchronously on the dispatcher's worker pool.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	targets := model.Providers()
	if req.Provider != "" {
		provider, ok := providerParam(w, req.Provider)
		if !ok {
			return
		}
		targets = []model.Provider{provider}
	}

	queued := []string{}
	var connected int
	for _, provider := range targets {
		cred, err := h.creds.Get(r.Context(), req.UserID, provider)
		if err != nil {
			h.logger.Error("failed to load credential", "user_id", req.UserID, "provider", provider, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if cred == nil {
			continue
		}
		connected++
		if h.dispatcher.Enqueue(req.UserID, provider, "manual") {
			queued = append(queued, string(provider))
		}
	}

	// Naming a provider the user never connected is a client error; a blanket
	// trigger for a user with no connections just queues nothing.
	if req.Provider != "" && connected == 0 {
		writeError(w, http.StatusNotFound, "provider not connected")
		return
	}

	writeJSON(w, http.StatusAccepted, SyncAcceptedResponse{Queued: queued})
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
