package handler

import (
	"net/http"

	"github.com/assistly/callcenter-service/internal/services/call"
)

// WorkspaceHandler exposes the call workspace visibility controls.
type WorkspaceHandler struct {
	service *call.CallCenterService
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(service *call.CallCenterService) *WorkspaceHandler {
	return &WorkspaceHandler{service: service}
}

// GetVisibility returns the current workspace visibility snapshot.
func (h *WorkspaceHandler) GetVisibility(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.WorkspaceSnapshot())
}

// Show makes the call workspace visible.
func (h *WorkspaceHandler) Show(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ShowWorkspace(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.service.WorkspaceSnapshot())
}

// Hide hides the call workspace.
func (h *WorkspaceHandler) Hide(w http.ResponseWriter, r *http.Request) {
	if err := h.service.HideWorkspace(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, h.service.WorkspaceSnapshot())
}
