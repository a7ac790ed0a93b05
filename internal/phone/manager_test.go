package phone

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSDK is a scriptable workspace SDK. Connect either fails
// immediately, signals ready/error asynchronously, or stays silent so
// the readiness timeout fires.
type fakeSDK struct {
	mu         sync.Mutex
	onReady    func()
	onError    func(error)
	connectErr error
	signal     error // nil means signal ready, non-nil means signal this error
	silent     bool
	ready      bool
	answered   []string
	answerErr  error
}

func (f *fakeSDK) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.silent {
		return nil
	}
	if f.signal != nil {
		err := f.signal
		go f.onError(err)
		return nil
	}
	f.ready = true
	go f.onReady()
	return nil
}

func (f *fakeSDK) OnReady(fn func()) { f.onReady = fn }

func (f *fakeSDK) OnError(fn func(error)) { f.onError = fn }

func (f *fakeSDK) Answer(externalCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answerErr != nil {
		return f.answerErr
	}
	f.answered = append(f.answered, externalCallID)
	return nil
}

func (f *fakeSDK) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeSDK) fireError(err error) {
	f.onError(err)
}

func TestInitializeReachesReady(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
	assert.True(t, m.IsConnected())
	assert.Empty(t, m.Diagnostics())
}

func TestInitializeWhenReadyIsNoop(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
}

func TestInvalidCredentialsFailsAttempt(t *testing.T) {
	sdk := &fakeSDK{signal: ErrInvalidCredentials}
	m := NewConnectionManager(sdk, nil, time.Second)

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, PhaseFailed, m.Phase())
	assert.Equal(t, []DiagnosticIssue{IssueInvalidCredentials}, m.Diagnostics())
}

func TestWebsocketBlockedDegrades(t *testing.T) {
	sdk := &fakeSDK{signal: ErrWebsocketBlocked}
	m := NewConnectionManager(sdk, nil, time.Second)

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrWebsocketBlocked)
	assert.Equal(t, PhaseDegraded, m.Phase())
	assert.Equal(t, []DiagnosticIssue{IssueWebsocketBlocked}, m.Diagnostics())
}

func TestSilentSDKTimesOut(t *testing.T) {
	sdk := &fakeSDK{silent: true}
	m := NewConnectionManager(sdk, nil, 30*time.Millisecond)

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrSDKTimeout)
	assert.Equal(t, PhaseFailed, m.Phase())
	assert.Equal(t, []DiagnosticIssue{IssueSDKTimeout}, m.Diagnostics())
}

func TestConnectErrorSettlesAttempt(t *testing.T) {
	sdk := &fakeSDK{connectErr: ErrInvalidCredentials}
	m := NewConnectionManager(sdk, nil, time.Second)

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, PhaseFailed, m.Phase())
}

func TestInitializeAfterFailureIsRejected(t *testing.T) {
	sdk := &fakeSDK{signal: ErrInvalidCredentials}
	m := NewConnectionManager(sdk, nil, time.Second)

	_ = m.Initialize(context.Background())
	require.Equal(t, PhaseFailed, m.Phase())

	err := m.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition, "recovery goes through Retry, not Initialize")
}

func TestRetryFromFailedClearsDiagnostics(t *testing.T) {
	sdk := &fakeSDK{signal: ErrInvalidCredentials}
	m := NewConnectionManager(sdk, nil, time.Second)

	_ = m.Initialize(context.Background())
	require.NotEmpty(t, m.Diagnostics())

	// Credentials fixed between attempts.
	sdk.mu.Lock()
	sdk.signal = nil
	sdk.mu.Unlock()

	require.NoError(t, m.Retry(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
	assert.Empty(t, m.Diagnostics(), "stale remediation hints from the failed attempt are gone")
}

func TestRetryFromUninitializedIsRejected(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	assert.ErrorIs(t, m.Retry(context.Background()), ErrInvalidTransition)
}

func TestConcurrentInitializeJoinsSingleAttempt(t *testing.T) {
	sdk := &fakeSDK{silent: true}
	m := NewConnectionManager(sdk, nil, time.Minute)

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { results <- m.Initialize(context.Background()) }()
	}

	require.Eventually(t, func() bool {
		return m.Phase() == PhaseInitializing
	}, time.Second, time.Millisecond)

	sdk.mu.Lock()
	sdk.ready = true
	sdk.mu.Unlock()
	m.handleReady()

	for i := 0; i < 3; i++ {
		assert.NoError(t, <-results)
	}
	assert.Equal(t, PhaseReady, m.Phase())
}

func TestSkipRules(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	require.NoError(t, m.Skip())
	require.NoError(t, m.Skip(), "skip is idempotent")
	assert.Equal(t, PhaseSkipped, m.Phase())

	assert.ErrorIs(t, m.Initialize(context.Background()), ErrIntegrationSkipped)
}

func TestSkipWhileReadyIsRejected(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	require.NoError(t, m.Initialize(context.Background()))
	assert.ErrorIs(t, m.Skip(), ErrInvalidTransition)
}

func TestAnswerRequiresReady(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)

	assert.ErrorIs(t, m.Answer("CA123"), ErrNotConnected)

	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Answer("CA123"))
	assert.Equal(t, []string{"CA123"}, sdk.answered)
}

func TestLiveConnectionDegradesOnSDKError(t *testing.T) {
	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, nil, time.Second)
	require.NoError(t, m.Initialize(context.Background()))

	sdk.fireError(ErrWebsocketBlocked)

	assert.Equal(t, PhaseDegraded, m.Phase())
	assert.Equal(t, []DiagnosticIssue{IssueWebsocketBlocked}, m.Diagnostics())

	require.NoError(t, m.Retry(context.Background()))
	assert.Equal(t, PhaseReady, m.Phase())
}

func TestPhaseChangesArePublishedSynchronously(t *testing.T) {
	bus := event.NewBus()
	var mu sync.Mutex
	var phases []string
	require.NoError(t, bus.Subscribe(event.PhonePhaseChanged, func(e *event.Event) {
		if data, ok := e.Data.(*event.PhaseData); ok {
			mu.Lock()
			phases = append(phases, data.Phase)
			mu.Unlock()
		}
	}))

	sdk := &fakeSDK{}
	m := NewConnectionManager(sdk, bus, time.Second)
	require.NoError(t, m.Initialize(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, phases)
	assert.Equal(t, "initializing", phases[0])
	assert.Equal(t, "ready", phases[len(phases)-1])
}
