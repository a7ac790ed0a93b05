package event

import (
	"fmt"
	"sync"
	"time"

	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
)

// LoggingMiddleware provides logging for all events
func LoggingMiddleware(next Handler) Handler {
	return func(event *Event) {
		start := time.Now()

		defer func() {
			duration := time.Since(start)
			if event.IsError() {
				logger.Base().Error("Event handler failed", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Error(event.Error))
			} else {
				logger.Base().Debug("Event handler completed", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Duration("duration", duration))
			}
		}()

		next(event)
	}
}

// RecoveryMiddleware provides panic recovery for event handlers
func RecoveryMiddleware(next Handler) Handler {
	return func(event *Event) {
		defer func() {
			if r := recover(); r != nil {
				logger.Base().Error("Panic in event handler", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Any("panic", r))
			}
		}()

		next(event)
	}
}

// ValidationMiddleware drops malformed events before they reach handlers
func ValidationMiddleware(next Handler) Handler {
	return func(event *Event) {
		if event == nil {
			logger.Base().Error("Received nil event")
			return
		}
		if event.Type == "" {
			logger.Base().Error("Event type is empty", zap.String("call_id", event.CallID))
			return
		}
		if err := validateEventData(event); err != nil {
			logger.Base().Error("Invalid event data", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID), zap.Error(err))
			return
		}

		next(event)
	}
}

// DeduplicationMiddleware prevents duplicate events within a time window
func DeduplicationMiddleware(windowSize time.Duration) Middleware {
	var mu sync.Mutex
	eventCache := make(map[string]time.Time)

	return func(next Handler) Handler {
		return func(event *Event) {
			key := fmt.Sprintf("%s:%s", event.Type, event.CallID)

			mu.Lock()
			if lastSeen, exists := eventCache[key]; exists && time.Since(lastSeen) < windowSize {
				mu.Unlock()
				logger.Base().Debug("Duplicate event within window", zap.String("type", string(event.Type)), zap.String("call_id", event.CallID))
				return
			}
			eventCache[key] = time.Now()
			for k, seen := range eventCache {
				if time.Since(seen) > windowSize*2 {
					delete(eventCache, k)
				}
			}
			mu.Unlock()

			next(event)
		}
	}
}

// validateEventData validates event-specific data
func validateEventData(event *Event) error {
	switch event.Type {
	case CallUpserted, CallEnded:
		data, ok := event.GetCallData()
		if !ok || data.Call == nil {
			return fmt.Errorf("call data is required for %s", event.Type)
		}
		if data.Call.ID == "" {
			return fmt.Errorf("call id is required for %s", event.Type)
		}
	case PhonePhaseChanged:
		if _, ok := event.GetPhaseData(); !ok {
			return fmt.Errorf("phase data is required for %s", event.Type)
		}
	case WorkspaceVisibilityChanged:
		if _, ok := event.GetVisibilityData(); !ok {
			return fmt.Errorf("visibility data is required for %s", event.Type)
		}
	}
	return nil
}

// CreateDefaultMiddlewareChain creates the middleware chain used by the service
func CreateDefaultMiddlewareChain() []Middleware {
	return []Middleware{
		RecoveryMiddleware,
		ValidationMiddleware,
		LoggingMiddleware,
	}
}
