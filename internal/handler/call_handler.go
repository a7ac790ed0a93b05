package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/internal/services/call"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// CallHandler handles HTTP requests for the live call view and the
// manual termination command.
type CallHandler struct {
	service *call.CallCenterService
}

// NewCallHandler creates a new call handler
func NewCallHandler(service *call.CallCenterService) *CallHandler {
	return &CallHandler{service: service}
}

// ActiveCallsResponse is the live calls listing
type ActiveCallsResponse struct {
	Calls []*domain.Call `json:"calls"`
	Stale bool           `json:"stale"`
	Total int            `json:"total"`
}

// ListActiveCalls returns all calls currently in progress, newest first.
func (h *CallHandler) ListActiveCalls(w http.ResponseWriter, r *http.Request) {
	calls := h.service.ActiveCalls()
	resp := ActiveCallsResponse{
		Calls: calls,
		Stale: h.service.Stale(),
		Total: len(calls),
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCall returns one call by id.
func (h *CallHandler) GetCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	c, ok := h.service.GetCall(id)
	if !ok {
		http.Error(w, "call not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// EndCall force-terminates a call. Already-terminal calls report
// success without issuing a provider command.
func (h *CallHandler) EndCall(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req call.EndCallRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	req.CallID = id

	if err := h.service.EndCall(r.Context(), req); err != nil {
		switch {
		case errors.Is(err, call.ErrCallNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, call.ErrEndCallThrottled):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			logger.Base().Error("Manual call termination failed", zap.String("call_id", id), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ended", "call_id": id})
}

// GetIncomingCall returns the active incoming-call notification, if any.
func (h *CallHandler) GetIncomingCall(w http.ResponseWriter, r *http.Request) {
	active, ok := h.service.IncomingCall()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": true, "incoming_call": active})
}

// DismissIncomingCall clears the incoming-call notification.
func (h *CallHandler) DismissIncomingCall(w http.ResponseWriter, r *http.Request) {
	h.service.DismissIncoming(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Error("Failed to encode response", zap.Error(err))
	}
}
