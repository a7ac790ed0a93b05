package phone

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
)

// Phase represents the lifecycle phase of the phone integration
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitializing
	PhaseReady
	PhaseDegraded
	PhaseFailed
	PhaseSkipped
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitializing:
		return "initializing"
	case PhaseReady:
		return "ready"
	case PhaseDegraded:
		return "degraded"
	case PhaseFailed:
		return "failed"
	case PhaseSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidTransition is returned when an operation is not valid
	// from the current phase.
	ErrInvalidTransition = errors.New("operation not valid in current phase")
	// ErrIntegrationSkipped is returned once the operator has opted out
	// of the phone integration for the session.
	ErrIntegrationSkipped = errors.New("phone integration skipped for this session")
	// ErrNotConnected is returned for workspace actions while the
	// integration is not ready.
	ErrNotConnected = errors.New("phone integration not connected")
)

// DefaultReadyTimeout bounds how long an initialization attempt waits
// for the workspace ready signal.
const DefaultReadyTimeout = 15 * time.Second

// attempt is one in-flight initialization. Concurrent Initialize calls
// join the same attempt instead of spawning duplicate workspace
// instances; the first completion wins and everyone observes the same
// result.
type attempt struct {
	once sync.Once
	err  error
	done chan struct{}
}

// ConnectionManager owns the lifecycle of the connection to the
// external telephony workspace. It is the single writer of the
// connection phase; every other component observes phase changes
// through the event bus, which is notified synchronously so consumers
// gating on IsConnected never see a buffered, out-of-date phase.
type ConnectionManager struct {
	sdk          WorkspaceSDK
	bus          event.Bus
	readyTimeout time.Duration

	mutex       sync.Mutex
	phase       Phase
	diagnostics []DiagnosticIssue
	inflight    *attempt
}

// NewConnectionManager creates a manager around the given workspace
// SDK. Callbacks are registered once here; they route into whichever
// attempt is currently in flight.
func NewConnectionManager(sdk WorkspaceSDK, bus event.Bus, readyTimeout time.Duration) *ConnectionManager {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	m := &ConnectionManager{
		sdk:          sdk,
		bus:          bus,
		readyTimeout: readyTimeout,
		phase:        PhaseUninitialized,
	}
	sdk.OnReady(m.handleReady)
	sdk.OnError(m.handleSDKError)
	return m
}

// Phase returns the current lifecycle phase.
func (m *ConnectionManager) Phase() Phase {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.phase
}

// IsConnected reports whether browser answering can be offered.
func (m *ConnectionManager) IsConnected() bool {
	return m.Phase() == PhaseReady
}

// IsWorkspaceReady reports whether the embedded workspace handle is usable.
func (m *ConnectionManager) IsWorkspaceReady() bool {
	return m.IsConnected() && m.sdk.IsReady()
}

// Diagnostics returns the issues recorded on the last transition into
// degraded or failed.
func (m *ConnectionManager) Diagnostics() []DiagnosticIssue {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]DiagnosticIssue, len(m.diagnostics))
	copy(out, m.diagnostics)
	return out
}

// Initialize begins connecting to the telephony workspace. Safe to
// call multiple times concurrently: while an attempt is initializing, a
// second call joins it and returns the same result. Calling it once
// ready is a no-op.
func (m *ConnectionManager) Initialize(ctx context.Context) error {
	m.mutex.Lock()
	switch m.phase {
	case PhaseReady:
		m.mutex.Unlock()
		return nil
	case PhaseSkipped:
		m.mutex.Unlock()
		return ErrIntegrationSkipped
	case PhaseInitializing:
		a := m.inflight
		m.mutex.Unlock()
		return m.await(ctx, a)
	case PhaseDegraded, PhaseFailed:
		m.mutex.Unlock()
		return ErrInvalidTransition
	}

	a, data := m.startAttemptLocked()
	m.mutex.Unlock()

	m.publishPhase(data)
	m.runAttempt(ctx, a)
	return m.await(ctx, a)
}

// Retry re-attempts the connection. Valid from degraded or failed
// only. Previous diagnostics are cleared before the new attempt so
// remediation text never mixes causes from different attempts.
func (m *ConnectionManager) Retry(ctx context.Context) error {
	m.mutex.Lock()
	if m.phase != PhaseDegraded && m.phase != PhaseFailed {
		m.mutex.Unlock()
		return ErrInvalidTransition
	}
	m.diagnostics = nil
	a, data := m.startAttemptLocked()
	m.mutex.Unlock()

	m.publishPhase(data)
	m.runAttempt(ctx, a)
	return m.await(ctx, a)
}

// Skip records the operator's opt-out of the phone integration for the
// session. Terminal: no auto-retry prompts afterwards.
func (m *ConnectionManager) Skip() error {
	m.mutex.Lock()
	switch m.phase {
	case PhaseReady, PhaseInitializing:
		m.mutex.Unlock()
		return ErrInvalidTransition
	case PhaseSkipped:
		m.mutex.Unlock()
		return nil
	}
	data := m.setPhaseLocked(PhaseSkipped)
	m.mutex.Unlock()

	m.publishPhase(data)
	return nil
}

// Answer accepts the ringing call in the embedded workspace.
func (m *ConnectionManager) Answer(externalCallID string) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	return m.sdk.Answer(externalCallID)
}

// startAttemptLocked moves to initializing and records the in-flight
// attempt. Caller holds the mutex and publishes the returned
// transition after unlocking.
func (m *ConnectionManager) startAttemptLocked() (*attempt, *event.PhaseData) {
	a := &attempt{done: make(chan struct{})}
	m.inflight = a
	return a, m.setPhaseLocked(PhaseInitializing)
}

// runAttempt drives one initialization attempt: starts the SDK connect
// and arms the readiness timeout. The timeout is cancelled as soon as
// the ready signal lands.
func (m *ConnectionManager) runAttempt(ctx context.Context, a *attempt) {
	if err := m.sdk.Connect(ctx); err != nil {
		m.completeAttempt(a, err)
		return
	}

	timer := time.NewTimer(m.readyTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-a.done:
			// Ready or failed before the deadline; timeout cancelled.
		case <-timer.C:
			m.completeAttempt(a, ErrSDKTimeout)
		case <-ctx.Done():
			m.completeAttempt(a, ctx.Err())
		}
	}()
}

// await blocks until the attempt settles or the caller's context ends.
func (m *ConnectionManager) await(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completeAttempt settles an attempt exactly once, transitioning the
// phase and recording diagnostics on failure.
func (m *ConnectionManager) completeAttempt(a *attempt, err error) {
	a.once.Do(func() {
		var data *event.PhaseData

		m.mutex.Lock()
		if m.inflight == a {
			m.inflight = nil
		}
		if err == nil {
			data = m.setPhaseLocked(PhaseReady)
		} else {
			issue := classify(err)
			m.diagnostics = appendIssue(m.diagnostics, issue)
			if issue == IssueWebsocketBlocked {
				// Recoverable: the dashboard falls back to polling.
				data = m.setPhaseLocked(PhaseDegraded)
			} else {
				data = m.setPhaseLocked(PhaseFailed)
			}
		}
		m.mutex.Unlock()

		a.err = err
		m.publishPhase(data)
		close(a.done)
	})
}

// handleReady is the SDK ready callback.
func (m *ConnectionManager) handleReady() {
	m.mutex.Lock()
	a := m.inflight
	m.mutex.Unlock()

	if a != nil {
		m.completeAttempt(a, nil)
	}
}

// handleSDKError is the SDK error callback. During an attempt it
// settles the attempt; once ready it degrades or fails the live
// connection in place.
func (m *ConnectionManager) handleSDKError(err error) {
	m.mutex.Lock()
	a := m.inflight
	if a == nil && m.phase == PhaseReady {
		issue := classify(err)
		m.diagnostics = appendIssue(m.diagnostics, issue)
		var data *event.PhaseData
		if issue == IssueWebsocketBlocked {
			data = m.setPhaseLocked(PhaseDegraded)
		} else {
			data = m.setPhaseLocked(PhaseFailed)
		}
		m.mutex.Unlock()
		m.publishPhase(data)
		return
	}
	m.mutex.Unlock()

	if a != nil {
		m.completeAttempt(a, err)
	}
}

// setPhaseLocked updates the phase and builds the transition payload.
// Caller holds the mutex and publishes after unlocking.
func (m *ConnectionManager) setPhaseLocked(next Phase) *event.PhaseData {
	prev := m.phase
	m.phase = next
	diags := make([]string, 0, len(m.diagnostics))
	for _, d := range m.diagnostics {
		diags = append(diags, string(d))
	}
	logger.Base().Info("Phone connection phase changed",
		zap.String("from", prev.String()),
		zap.String("to", next.String()),
		zap.Strings("diagnostics", diags))
	return &event.PhaseData{
		Phase:       next.String(),
		Previous:    prev.String(),
		Connected:   next == PhaseReady,
		Diagnostics: diags,
	}
}

func (m *ConnectionManager) publishPhase(data *event.PhaseData) {
	if m.bus == nil || data == nil {
		return
	}
	_ = m.bus.PublishSync(event.New(event.PhonePhaseChanged, "").WithData(data))
}

func appendIssue(issues []DiagnosticIssue, issue DiagnosticIssue) []DiagnosticIssue {
	for _, existing := range issues {
		if existing == issue {
			return issues
		}
	}
	return append(issues, issue)
}
