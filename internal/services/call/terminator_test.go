package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/assistly/callcenter-service/internal/callstate"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	commands []string
	err      error
}

func (f *fakeCommander) EndCall(ctx context.Context, externalCallID string, reason domain.EndReason) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, externalCallID)
	return nil
}

func seedCall(store *callstate.Store, id string, status domain.CallStatus) {
	store.Apply(&domain.Call{
		ID:             id,
		ExternalCallID: "ext-" + id,
		Provider:       "twilio",
		Direction:      domain.CallDirectionInbound,
		Status:         status,
		StartedAt:      time.Now().Add(-time.Minute),
		UpdatedAt:      time.Now(),
	})
}

func TestEndCallIssuesProviderCommand(t *testing.T) {
	store := callstate.NewStore(nil)
	seedCall(store, "c1", domain.CallStatusAnswered)
	commander := &fakeCommander{}
	term := NewTerminator(store, nil, commander)

	err := term.EndCall(context.Background(), "c1", "", domain.EndReasonForcedEnd)

	require.NoError(t, err)
	assert.Equal(t, []string{"ext-c1"}, commander.commands,
		"external id resolved from the store when not supplied")
}

func TestEndCallOnTerminalCallIsNoop(t *testing.T) {
	store := callstate.NewStore(nil)
	seedCall(store, "c1", domain.CallStatusCompleted)
	commander := &fakeCommander{}
	term := NewTerminator(store, nil, commander)

	err := term.EndCall(context.Background(), "c1", "", domain.EndReasonForcedEnd)

	require.NoError(t, err, "ending an already-ended call reports success")
	assert.Empty(t, commander.commands, "no duplicate provider command is issued")
}

func TestEndCallUnknownCall(t *testing.T) {
	store := callstate.NewStore(nil)
	commander := &fakeCommander{}
	term := NewTerminator(store, nil, commander)

	err := term.EndCall(context.Background(), "nope", "", "")

	assert.ErrorIs(t, err, ErrCallNotFound)
	assert.Empty(t, commander.commands)
}

func TestEndCallRequiresCallID(t *testing.T) {
	term := NewTerminator(callstate.NewStore(nil), nil, &fakeCommander{})
	assert.Error(t, term.EndCall(context.Background(), "", "", ""))
}

func TestEndCallPropagatesProviderFailure(t *testing.T) {
	store := callstate.NewStore(nil)
	seedCall(store, "c1", domain.CallStatusAnswered)
	providerErr := errors.New("twilio 500")
	term := NewTerminator(store, nil, &fakeCommander{err: providerErr})

	err := term.EndCall(context.Background(), "c1", "", "")

	assert.ErrorIs(t, err, providerErr, "failures surface to the operator, no silent retry")
}

func TestEndCallDoesNotMutateStore(t *testing.T) {
	store := callstate.NewStore(nil)
	seedCall(store, "c1", domain.CallStatusAnswered)
	term := NewTerminator(store, nil, &fakeCommander{})

	require.NoError(t, term.EndCall(context.Background(), "c1", "", ""))

	got, ok := store.Get("c1")
	require.True(t, ok)
	assert.Equal(t, domain.CallStatusAnswered, got.Status,
		"the store only changes when the authoritative update flows back")
}

func TestEndCallThrottlesBursts(t *testing.T) {
	store := callstate.NewStore(nil)
	commander := &fakeCommander{}
	term := NewTerminator(store, nil, commander)

	var throttled bool
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		seedCall(store, id, domain.CallStatusAnswered)
		if err := term.EndCall(context.Background(), id, "", ""); errors.Is(err, ErrEndCallThrottled) {
			throttled = true
		}
	}

	assert.True(t, throttled, "a burst beyond the provider budget is rejected")
	assert.LessOrEqual(t, len(commander.commands), 3)
}
