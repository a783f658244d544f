package httphandler

import (
	"encoding/json"
	"net/http"

	"github.com/jlowell/healthdeck/internal/observability"
)

// ReceiveWebhook ingests a provider push notification. The event's subject ID
// is resolved to a stored credential; a matching event queues a sync for that
// one user. The handler responds once the task is queued -- the pull itself
// runs on the dispatcher's workers, so a slow provider cannot stall the
// webhook endpoint past the sender's delivery timeout.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	provider, ok := providerParam(w, r.PathValue("provider"))
	if !ok {
		return
	}

	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		observability.RecordWebhookEvent(string(provider), "rejected")
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if event.EventType == "" || event.SubjectID == "" {
		observability.RecordWebhookEvent(string(provider), "rejected")
		writeError(w, http.StatusBadRequest, "event_type and subject_id are required")
		return
	}

	cred, err := h.creds.GetByExternalSubject(r.Context(), provider, event.SubjectID)
	if err != nil {
		h.logger.Error("webhook subject lookup failed",
			"provider", provider, "subject_id", event.SubjectID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if cred == nil {
		// Subject was never connected here, or already disconnected. The
		// provider keeps sending until acknowledged, so log and 404.
		h.logger.Warn("webhook for unknown subject",
			"provider", provider, "subject_id", event.SubjectID, "event_type", event.EventType)
		observability.RecordWebhookEvent(string(provider), "unknown_subject")
		writeError(w, http.StatusNotFound, "unknown subject")
		return
	}

	// A user revoking access on the provider's side severs the connection
	// here too. No sync is queued for a deauthorization.
	if event.EventType == "user.delete" {
		if err := h.creds.Delete(r.Context(), cred.UserID, provider); err != nil {
			h.logger.Error("webhook deauthorization failed",
				"provider", provider, "user_id", cred.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.logger.Info("integration disconnected by provider webhook",
			"provider", provider, "user_id", cred.UserID)
		observability.RecordWebhookEvent(string(provider), "deleted")
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
		return
	}

	h.dispatcher.Enqueue(cred.UserID, provider, "webhook")
	observability.RecordWebhookEvent(string(provider), "queued")
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}
