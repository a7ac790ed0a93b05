package event

import (
	"sync"
	"testing"
	"time"

	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSyncDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		require.NoError(t, bus.Subscribe(CallUpserted, func(e *Event) {
			order = append(order, i)
		}))
	}

	evt := New(CallUpserted, "c1").WithData(&CallData{Call: &domain.Call{ID: "c1"}})
	require.NoError(t, bus.PublishSync(evt))

	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPublishEventDeliversAsynchronously(t *testing.T) {
	bus := NewBus()
	done := make(chan string, 1)
	require.NoError(t, bus.Subscribe(CallEnded, func(e *Event) {
		done <- e.CallID
	}))

	evt := New(CallEnded, "c9").WithData(&CallData{Call: &domain.Call{ID: "c9"}})
	require.NoError(t, bus.PublishEvent(evt))

	select {
	case id := <-done:
		assert.Equal(t, "c9", id)
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestPublishWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	assert.NoError(t, bus.Publish(StoreStale, "", nil))
}

func TestSubscribeNilHandlerRejected(t *testing.T) {
	bus := NewBus()
	assert.Error(t, bus.Subscribe(CallUpserted, nil))
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus()
	var reached bool
	require.NoError(t, bus.Subscribe(StoreStale, func(e *Event) {
		panic("subscriber bug")
	}))
	require.NoError(t, bus.Subscribe(StoreStale, func(e *Event) {
		reached = true
	}))

	require.NoError(t, bus.PublishSync(New(StoreStale, "")))
	assert.True(t, reached)
}

func TestClosedBusRejectsOperations(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())

	assert.Error(t, bus.Subscribe(CallUpserted, func(e *Event) {}))
	assert.Error(t, bus.PublishSync(New(StoreStale, "")))
}

func TestValidationMiddlewareDropsMalformedEvents(t *testing.T) {
	bus := NewBus()
	bus.Use(ValidationMiddleware)

	var mu sync.Mutex
	var delivered []string
	require.NoError(t, bus.Subscribe(CallUpserted, func(e *Event) {
		mu.Lock()
		delivered = append(delivered, e.CallID)
		mu.Unlock()
	}))

	// Missing call data.
	require.NoError(t, bus.PublishSync(New(CallUpserted, "bad")))
	// Well-formed.
	require.NoError(t, bus.PublishSync(
		New(CallUpserted, "good").WithData(&CallData{Call: &domain.Call{ID: "good"}})))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"good"}, delivered)
}

func TestDeduplicationMiddleware(t *testing.T) {
	bus := NewBus()
	bus.Use(DeduplicationMiddleware(time.Minute))

	var count int
	require.NoError(t, bus.Subscribe(StoreStale, func(e *Event) {
		count++
	}))

	require.NoError(t, bus.PublishSync(New(StoreStale, "")))
	require.NoError(t, bus.PublishSync(New(StoreStale, "")))

	assert.Equal(t, 1, count, "duplicate within the window is dropped")
}

func TestStatsTrackPublishesAndSubscribers(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Subscribe(CallUpserted, func(e *Event) {}))
	require.NoError(t, bus.Subscribe(CallUpserted, func(e *Event) {}))

	evt := New(CallUpserted, "c1").WithData(&CallData{Call: &domain.Call{ID: "c1"}})
	require.NoError(t, bus.PublishSync(evt))

	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, 2, stats.SubscriberCount[string(CallUpserted)])
	assert.Equal(t, 2, stats.ActiveHandlers)
}

func TestEventAccessors(t *testing.T) {
	call := &domain.Call{ID: "c1"}
	evt := New(CallUpserted, "c1").WithData(&CallData{Call: call})

	data, ok := evt.GetCallData()
	require.True(t, ok)
	assert.Same(t, call, data.Call)

	_, ok = evt.GetPhaseData()
	assert.False(t, ok)

	assert.False(t, evt.IsError())
	evt = evt.WithError(assert.AnError)
	assert.True(t, evt.IsError())
}
