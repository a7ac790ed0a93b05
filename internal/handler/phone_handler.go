package handler

import (
	"errors"
	"net/http"

	"github.com/assistly/callcenter-service/internal/phone"
	"github.com/assistly/callcenter-service/internal/services/call"
	"github.com/gorilla/mux"
)

// PhoneHandler exposes the phone integration lifecycle over HTTP.
type PhoneHandler struct {
	service *call.CallCenterService
}

// NewPhoneHandler creates a new phone handler
func NewPhoneHandler(service *call.CallCenterService) *PhoneHandler {
	return &PhoneHandler{service: service}
}

// GetStatus returns the current connection phase and diagnostics.
func (h *PhoneHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PhoneStatus())
}

// Initialize starts the phone connection sequence.
func (h *PhoneHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, func() error { return h.service.InitializePhone(r.Context()) })
}

// Retry re-runs the connection sequence after a degraded or failed attempt.
func (h *PhoneHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, func() error { return h.service.RetryPhone(r.Context()) })
}

// Skip marks the phone integration as intentionally disabled.
func (h *PhoneHandler) Skip(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SkipPhone(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, h.service.PhoneStatus())
}

// AnswerCall bridges a ringing call to the agent workstation.
func (h *PhoneHandler) AnswerCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.service.AnswerCall(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, call.ErrCallNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, phone.ErrNotConnected):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "answered", "call_id": id})
}

func (h *PhoneHandler) runLifecycle(w http.ResponseWriter, op func() error) {
	if err := op(); err != nil {
		if errors.Is(err, phone.ErrInvalidTransition) || errors.Is(err, phone.ErrIntegrationSkipped) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		// Connection attempt ran but did not reach ready. The phase and
		// diagnostics tell the operator what to do next.
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": err.Error(),
			"phone": h.service.PhoneStatus(),
		})
		return
	}
	writeJSON(w, http.StatusOK, h.service.PhoneStatus())
}
