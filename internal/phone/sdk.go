package phone

import (
	"context"
	"errors"
)

// Classification errors a WorkspaceSDK implementation is expected to
// wrap so the manager can map failures to diagnostics.
var (
	ErrInvalidCredentials = errors.New("provider rejected credentials")
	ErrWebsocketBlocked   = errors.New("realtime channel blocked")
	ErrSDKTimeout         = errors.New("workspace not ready before deadline")
)

// WorkspaceSDK is the narrow capability surface of the embedded
// telephony workspace. The concrete vendor integration lives behind
// this interface so the connection manager can be exercised against a
// fake in tests and the vendor swapped without touching lifecycle
// logic.
type WorkspaceSDK interface {
	// Connect starts connecting to the provider workspace. Completion
	// is signaled through the OnReady/OnError callbacks, not the
	// return value; a non-nil error here means the attempt could not
	// even start.
	Connect(ctx context.Context) error
	// OnReady registers the callback fired when the workspace becomes usable.
	OnReady(func())
	// OnError registers the callback fired on connection-level failures,
	// both during connect and after the workspace was ready.
	OnError(func(error))
	// Answer accepts the ringing call with the given provider id in the workspace.
	Answer(externalCallID string) error
	// IsReady reports whether the workspace handle is currently usable.
	IsReady() bool
}

// DiagnosticIssue is a tagged reason the connection is degraded or
// failed. The tags drive user-facing remediation text owned by the
// dashboard.
type DiagnosticIssue string

const (
	IssueSDKTimeout         DiagnosticIssue = "sdk-timeout"
	IssueWebsocketBlocked   DiagnosticIssue = "websocket-blocked"
	IssueInvalidCredentials DiagnosticIssue = "invalid-credentials"
)

// classify maps a connection error to its diagnostic tag.
func classify(err error) DiagnosticIssue {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return IssueInvalidCredentials
	case errors.Is(err, ErrWebsocketBlocked):
		return IssueWebsocketBlocked
	default:
		return IssueSDKTimeout
	}
}
