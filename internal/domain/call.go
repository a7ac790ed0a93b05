package domain

import (
	"time"

	"gorm.io/gorm"
)

// CallDirection represents the direction of a call
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallStatus represents the provider-reported status of a call
type CallStatus string

const (
	CallStatusRinging     CallStatus = "ringing"
	CallStatusAnswered    CallStatus = "answered"
	CallStatusOnHold      CallStatus = "on_hold"
	CallStatusCompleted   CallStatus = "completed"
	CallStatusMissed      CallStatus = "missed"
	CallStatusBusy        CallStatus = "busy"
	CallStatusFailed      CallStatus = "failed"
	CallStatusTransferred CallStatus = "transferred"
	CallStatusVoicemail   CallStatus = "voicemail"
)

// Terminal reports whether the status means the call is over.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusMissed, CallStatusBusy, CallStatusFailed, CallStatusVoicemail:
		return true
	}
	return false
}

// Live reports whether the call can still be acted on (answered, put on
// hold, force-ended).
func (s CallStatus) Live() bool {
	switch s {
	case CallStatusRinging, CallStatusAnswered, CallStatusOnHold, CallStatusTransferred:
		return true
	}
	return false
}

// EndReason is the enriched classification of how a call ended. Older
// records predate this column and carry no reason at all.
type EndReason string

const (
	EndReasonCompletedNormally EndReason = "completed_normally"
	EndReasonHungUp            EndReason = "hung_up"
	EndReasonNotAnswered       EndReason = "not_answered"
	EndReasonAbandonedInIVR    EndReason = "abandoned_in_ivr"
	EndReasonBusy              EndReason = "busy"
	EndReasonVoicemailLeft     EndReason = "voicemail_left"
	EndReasonProviderError     EndReason = "provider_error"
	EndReasonForcedEnd         EndReason = "forced_end"
)

// Availability captures whether business hours were open when the call arrived
type Availability string

const (
	AvailabilityOpen   Availability = "open"
	AvailabilityClosed Availability = "closed"
)

// CallDetails holds free-form enrichment data attached to a call
type CallDetails map[string]interface{}

// Call represents one phone conversation as seen by the call center.
// Rows are created on the first provider event for a new external call
// id and mutated on every subsequent status-changing event. Rows are
// never hard-deleted, only soft-hidden.
type Call struct {
	ID              string         `json:"id" gorm:"column:id;primaryKey"`
	ExternalCallID  string         `json:"external_call_id" gorm:"column:external_call_id;unique"`
	Provider        string         `json:"provider" gorm:"column:provider"`
	Direction       CallDirection  `json:"direction" gorm:"column:direction"`
	Status          CallStatus     `json:"status" gorm:"column:status"`
	EndReason       *EndReason     `json:"end_reason,omitempty" gorm:"column:end_reason"`
	CustomerNumber  *string        `json:"customer_number,omitempty" gorm:"column:customer_number"`
	CustomerName    *string        `json:"customer_name,omitempty" gorm:"column:customer_name"`
	AgentNumber     *string        `json:"agent_number,omitempty" gorm:"column:agent_number"`
	StartedAt       time.Time      `json:"started_at" gorm:"column:started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty" gorm:"column:ended_at"`
	DurationSeconds *int           `json:"duration_seconds,omitempty" gorm:"column:duration_seconds"`
	Details         CallDetails    `json:"details,omitempty" gorm:"column:details;serializer:json"`
	Availability    Availability   `json:"availability" gorm:"column:availability"`
	Hidden          bool           `json:"hidden" gorm:"column:hidden"`
	CreatedAt       time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"column:updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"column:deleted_at;index"`
}

func (Call) TableName() string {
	return "calls"
}

// Active reports whether the call should appear in the live-calls view.
func (c *Call) Active() bool {
	return c.Status.Live() && c.EndedAt == nil
}

// Outcome classifies how the call ended. Enriched records carry an
// explicit end reason; records written before the end_reason column
// existed fall back to a status-derived classification. The fallback
// must stay in place as long as legacy rows are around.
func (c *Call) Outcome() EndReason {
	if c.EndReason != nil && *c.EndReason != "" {
		return *c.EndReason
	}
	switch c.Status {
	case CallStatusCompleted, CallStatusTransferred:
		return EndReasonCompletedNormally
	case CallStatusMissed:
		return EndReasonNotAnswered
	case CallStatusBusy:
		return EndReasonBusy
	case CallStatusVoicemail:
		return EndReasonVoicemailLeft
	case CallStatusFailed:
		return EndReasonProviderError
	}
	return ""
}

// Sanitize enforces the terminal-field invariant on a record before it
// is stored: ended_at and duration_seconds are set together and only
// once the status is terminal; a ringing or on-hold call never carries
// an end timestamp.
func (c *Call) Sanitize() {
	if !c.Status.Terminal() {
		c.EndedAt = nil
		c.DurationSeconds = nil
		return
	}
	if c.EndedAt != nil && c.DurationSeconds == nil {
		secs := int(c.EndedAt.Sub(c.StartedAt) / time.Second)
		if secs < 0 {
			secs = 0
		}
		c.DurationSeconds = &secs
	}
	if c.EndedAt == nil {
		c.DurationSeconds = nil
	}
}
