package call

import (
	"github.com/assistly/callcenter-service/internal/domain"
)

// CallEventsChannel is the realtime push channel carrying row-level
// change notifications for the calls table.
const CallEventsChannel = "callcenter:calls:events"

// CallEventMessage is one row-level change notification delivered on
// the push channel. Records may be full or partial; merge semantics
// are owned by the call state store.
type CallEventMessage struct {
	Op   string       `json:"op"` // "insert" or "update"
	Call *domain.Call `json:"call"`
}

// PhoneStatus is the connection-state view served to the dashboard.
type PhoneStatus struct {
	Phase          string   `json:"phase"`
	Connected      bool     `json:"connected"`
	WorkspaceReady bool     `json:"workspace_ready"`
	Diagnostics    []string `json:"diagnostics,omitempty"`
}

// EndCallRequest is the manual-termination command payload.
type EndCallRequest struct {
	CallID     string `json:"call_id"`
	ExternalID string `json:"external_id,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Reason     string `json:"reason,omitempty"`
}
