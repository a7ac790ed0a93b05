package event

import (
	"context"
	"fmt"
	"sync"

	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
)

// Handler represents a function that handles events
type Handler func(event *Event)

// Middleware wraps event handlers
type Middleware func(next Handler) Handler

// Bus defines the interface for event bus operations
type Bus interface {
	// Publish dispatches the event to subscribers asynchronously.
	Publish(eventType Type, callID string, data interface{}) error
	// PublishSync dispatches the event to subscribers on the calling
	// goroutine, in subscription order. Used for state transitions
	// that must be observable before the publisher proceeds (phone
	// phase changes, call updates feeding the notifier).
	PublishSync(event *Event) error
	PublishEvent(event *Event) error
	Subscribe(eventType Type, handler Handler) error
	Use(middleware Middleware)
	Close() error
	Stats() BusStats
}

// BusStats contains statistics about the event bus
type BusStats struct {
	TotalEvents     int64            `json:"total_events"`
	EventsByType    map[string]int64 `json:"events_by_type"`
	ActiveHandlers  int              `json:"active_handlers"`
	SubscriberCount map[string]int   `json:"subscriber_count"`
}

// DefaultBus is the default implementation of Bus
type DefaultBus struct {
	subscribers map[Type][]Handler
	middleware  []Middleware
	mutex       sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
	stats       BusStats
	statsMutex  sync.RWMutex
}

// NewBus creates a new event bus instance
func NewBus() Bus {
	ctx, cancel := context.WithCancel(context.Background())

	return &DefaultBus{
		subscribers: make(map[Type][]Handler),
		middleware:  make([]Middleware, 0),
		ctx:         ctx,
		cancel:      cancel,
		stats: BusStats{
			EventsByType:    make(map[string]int64),
			SubscriberCount: make(map[string]int),
		},
	}
}

// Publish publishes an event with the given type, call id and data
func (b *DefaultBus) Publish(eventType Type, callID string, data interface{}) error {
	event := New(eventType, callID)
	if data != nil {
		event.Data = data
	}
	return b.PublishEvent(event)
}

// PublishEvent publishes a complete event asynchronously
func (b *DefaultBus) PublishEvent(event *Event) error {
	handlers, err := b.snapshotHandlers(event)
	if err != nil || handlers == nil {
		return err
	}

	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic", zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()
			b.chain(h)(event)
		}(handler)
	}

	return nil
}

// PublishSync dispatches to subscribers inline, in subscription order.
func (b *DefaultBus) PublishSync(event *Event) error {
	handlers, err := b.snapshotHandlers(event)
	if err != nil || handlers == nil {
		return err
	}

	for _, handler := range handlers {
		func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					logger.Base().Error("Event handler panic", zap.String("type", string(event.Type)), zap.Any("panic", r))
				}
			}()
			b.chain(h)(event)
		}(handler)
	}

	return nil
}

// snapshotHandlers checks the bus is open, copies the handler slice so
// the lock is not held during execution, and records stats. A nil
// slice with nil error means there were no subscribers.
func (b *DefaultBus) snapshotHandlers(event *Event) ([]Handler, error) {
	select {
	case <-b.ctx.Done():
		return nil, fmt.Errorf("event bus is closed")
	default:
	}

	b.mutex.RLock()
	handlers, exists := b.subscribers[event.Type]
	if !exists {
		b.mutex.RUnlock()
		logger.Base().Debug("No subscribers for event type", zap.String("type", string(event.Type)))
		return nil, nil
	}
	handlersCopy := make([]Handler, len(handlers))
	copy(handlersCopy, handlers)
	b.mutex.RUnlock()

	b.updateStats(event.Type)
	return handlersCopy, nil
}

// chain applies the registered middleware around a handler
func (b *DefaultBus) chain(h Handler) Handler {
	final := h
	for i := len(b.middleware) - 1; i >= 0; i-- {
		final = b.middleware[i](final)
	}
	return final
}

// Subscribe subscribes to events of a specific type
func (b *DefaultBus) Subscribe(eventType Type, handler Handler) error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is closed")
	default:
	}

	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mutex.Lock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
	b.mutex.Unlock()

	b.statsMutex.Lock()
	b.stats.SubscriberCount[string(eventType)]++
	b.stats.ActiveHandlers++
	b.statsMutex.Unlock()

	return nil
}

// Use adds middleware to the event bus
func (b *DefaultBus) Use(middleware Middleware) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.middleware = append(b.middleware, middleware)
}

// Close closes the event bus and cancels all operations
func (b *DefaultBus) Close() error {
	b.cancel()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.subscribers = make(map[Type][]Handler)
	b.middleware = make([]Middleware, 0)

	logger.Base().Info("Event bus closed")
	return nil
}

// Stats returns current bus statistics
func (b *DefaultBus) Stats() BusStats {
	b.statsMutex.RLock()
	defer b.statsMutex.RUnlock()

	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		EventsByType:    make(map[string]int64),
		ActiveHandlers:  b.stats.ActiveHandlers,
		SubscriberCount: make(map[string]int),
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	for k, v := range b.stats.SubscriberCount {
		stats.SubscriberCount[k] = v
	}
	return stats
}

func (b *DefaultBus) updateStats(eventType Type) {
	b.statsMutex.Lock()
	defer b.statsMutex.Unlock()

	b.stats.TotalEvents++
	b.stats.EventsByType[string(eventType)]++
}
