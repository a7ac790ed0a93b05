package call

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/assistly/callcenter-service/internal/cache"
	"github.com/assistly/callcenter-service/internal/config"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSDK connects instantly; enough to drive the service-level wiring.
type stubSDK struct {
	onReady func()
	onError func(error)
}

func (s *stubSDK) Connect(ctx context.Context) error {
	go s.onReady()
	return nil
}
func (s *stubSDK) OnReady(fn func())      { s.onReady = fn }
func (s *stubSDK) OnError(fn func(error)) { s.onError = fn }
func (s *stubSDK) Answer(string) error    { return nil }
func (s *stubSDK) IsReady() bool          { return true }

func newTestService(t *testing.T) *CallCenterService {
	t.Helper()
	cfg := &config.CallCenterConfig{
		IncomingCallTTL:   time.Minute,
		PhoneReadyTimeout: time.Second,
	}
	return NewCallCenterService(cfg, &stubSDK{}, &fakeCommander{}, nil, nil, nil, nil)
}

func pushPayload(t *testing.T, call *domain.Call) string {
	t.Helper()
	raw, err := json.Marshal(CallEventMessage{Op: "upsert", Call: call})
	require.NoError(t, err)
	return string(raw)
}

func TestPushPayloadFlowsIntoStore(t *testing.T) {
	svc := newTestService(t)

	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID:             "c1",
		ExternalCallID: "ext-c1",
		Direction:      domain.CallDirectionInbound,
		Status:         domain.CallStatusRinging,
		StartedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}))

	calls := svc.ActiveCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "c1", calls[0].ID)
}

func TestMalformedPushPayloadDropped(t *testing.T) {
	svc := newTestService(t)

	svc.ApplyPushPayload("not json")
	svc.ApplyPushPayload(`{"op":"upsert"}`)

	assert.Empty(t, svc.ActiveCalls())
}

func TestInboundRingingPushActivatesNotification(t *testing.T) {
	svc := newTestService(t)

	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID:        "c1",
		Direction: domain.CallDirectionInbound,
		Status:    domain.CallStatusRinging,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))

	active, ok := svc.IncomingCall()
	require.True(t, ok)
	assert.Equal(t, "c1", active.Call.ID)
}

func TestTerminalPushDismissesNotification(t *testing.T) {
	svc := newTestService(t)
	now := time.Now()

	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusRinging, StartedAt: now, UpdatedAt: now,
	}))
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusMissed, StartedAt: now, UpdatedAt: now.Add(time.Second),
	}))

	_, ok := svc.IncomingCall()
	assert.False(t, ok)
}

func TestAgentDirectoryEnrichesPushedCalls(t *testing.T) {
	svc := newTestService(t)
	agent := "+15550100"
	svc.Directory().Load([]cache.AgentInfo{
		{Number: agent, Name: "Sam Ortiz", Team: "support"},
	})

	now := time.Now()
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusAnswered, AgentNumber: &agent,
		StartedAt: now, UpdatedAt: now,
	}))

	got, ok := svc.GetCall("c1")
	require.True(t, ok)
	assert.Equal(t, "Sam Ortiz", got.Details["agent_name"])
}

func TestAnswerCallShowsWorkspace(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.InitializePhone(context.Background()))

	now := time.Now()
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", ExternalCallID: "ext-c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusRinging, StartedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, svc.AnswerCall(context.Background(), "c1"))
	assert.True(t, svc.WorkspaceSnapshot().Visible)
}

func TestAnswerUnknownCall(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.InitializePhone(context.Background()))

	assert.ErrorIs(t, svc.AnswerCall(context.Background(), "nope"), ErrCallNotFound)
}

func TestLastCallEndingHidesWorkspace(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.ShowWorkspace(context.Background()))

	now := time.Now()
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusAnswered, StartedAt: now, UpdatedAt: now,
	}))
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusCompleted, StartedAt: now, UpdatedAt: now.Add(time.Second),
	}))

	require.Eventually(t, func() bool {
		return !svc.WorkspaceSnapshot().Visible
	}, time.Second, 5*time.Millisecond)
}

func TestPhoneStatusReflectsManager(t *testing.T) {
	svc := newTestService(t)

	status := svc.PhoneStatus()
	assert.Equal(t, "uninitialized", status.Phase)
	assert.False(t, status.Connected)

	require.NoError(t, svc.InitializePhone(context.Background()))
	status = svc.PhoneStatus()
	assert.Equal(t, "ready", status.Phase)
	assert.True(t, status.Connected)
}

func TestEndCallThroughService(t *testing.T) {
	svc := newTestService(t)
	now := time.Now()
	svc.ApplyPushPayload(pushPayload(t, &domain.Call{
		ID: "c1", ExternalCallID: "ext-c1", Direction: domain.CallDirectionInbound,
		Status: domain.CallStatusAnswered, StartedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, svc.EndCall(context.Background(), EndCallRequest{CallID: "c1"}))

	assert.ErrorIs(t, svc.EndCall(context.Background(), EndCallRequest{CallID: "missing"}), ErrCallNotFound)
}

func TestPingWithoutBackend(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.Ping(context.Background()))
}
