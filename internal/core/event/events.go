package event

import (
	"time"

	"github.com/assistly/callcenter-service/internal/domain"
)

// Type represents the type of event
type Type string

const (
	// Call lifecycle
	CallUpserted   Type = "call.upserted"
	CallEnded      Type = "call.ended"
	StoreStale     Type = "store.stale"
	StoreRecovered Type = "store.recovered"

	// Incoming-call notification
	IncomingCallActivated  Type = "incoming_call.activated"
	IncomingCallDismissed  Type = "incoming_call.dismissed"
	IncomingCallSuperseded Type = "incoming_call.superseded"
	IncomingCallExpired    Type = "incoming_call.expired"

	// Phone integration lifecycle
	PhonePhaseChanged Type = "phone.phase_changed"

	// Workspace visibility
	WorkspaceVisibilityChanged Type = "workspace.visibility_changed"

	// Internal/system events
	HandlerPanic Type = "handler.panic"
)

// Event is a single occurrence on the bus. CallID is set for events
// that reference a specific call.
type Event struct {
	Type      Type        `json:"type"`
	CallID    string      `json:"call_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     error       `json:"-"`
}

// CallData carries the call record for call lifecycle events
type CallData struct {
	Call *domain.Call `json:"call"`
}

// PhaseData carries a phone connection phase transition
type PhaseData struct {
	Phase       string   `json:"phase"`
	Previous    string   `json:"previous"`
	Connected   bool     `json:"connected"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// VisibilityData carries a workspace visibility snapshot
type VisibilityData struct {
	Visible   bool `json:"visible"`
	IsShowing bool `json:"is_showing"`
	IsHiding  bool `json:"is_hiding"`
}

// New creates a new event stamped with the current time
func New(eventType Type, callID string) *Event {
	return &Event{
		Type:      eventType,
		CallID:    callID,
		Timestamp: time.Now(),
	}
}

// WithData adds data to the event
func (e *Event) WithData(data interface{}) *Event {
	e.Data = data
	return e
}

// WithError adds error to the event
func (e *Event) WithError(err error) *Event {
	e.Error = err
	return e
}

// IsError returns true if the event contains an error
func (e *Event) IsError() bool {
	return e.Error != nil
}

// GetCallData returns call data if available
func (e *Event) GetCallData() (*CallData, bool) {
	if data, ok := e.Data.(*CallData); ok {
		return data, true
	}
	return nil, false
}

// GetPhaseData returns phone phase data if available
func (e *Event) GetPhaseData() (*PhaseData, bool) {
	if data, ok := e.Data.(*PhaseData); ok {
		return data, true
	}
	return nil, false
}

// GetVisibilityData returns workspace visibility data if available
func (e *Event) GetVisibilityData() (*VisibilityData, bool) {
	if data, ok := e.Data.(*VisibilityData); ok {
		return data, true
	}
	return nil, false
}
