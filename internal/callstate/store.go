package callstate

import (
	"sort"
	"sync"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

// Store holds the current known state of all calls visible to the
// operator. It is the single writer of call records: both the realtime
// push subscriber and the polling reconciler feed it through Apply, and
// all consumers read from it. Conflicts between the two producers are
// resolved by the authoritative updated_at timestamp, never by arrival
// order.
type Store struct {
	calls         map[string]*domain.Call
	externalIndex map[string]string
	stale         bool
	mutex         sync.RWMutex
	bus           event.Bus
}

// NewStore creates an empty call state store. The bus may be nil in
// tests that only exercise merge semantics.
func NewStore(bus event.Bus) *Store {
	return &Store{
		calls:         make(map[string]*domain.Call),
		externalIndex: make(map[string]string),
		bus:           bus,
	}
}

// Apply inserts the record if unseen, otherwise merges non-empty fields
// into the existing record. An incoming record older than what the
// store already holds for that id is dropped without side effects, so
// out-of-order delivery across reconnects converges to the same state
// as in-order delivery. Returns true if the store changed.
func (s *Store) Apply(update *domain.Call) bool {
	if update == nil || update.ID == "" {
		return false
	}

	s.mutex.Lock()

	existing, ok := s.calls[update.ID]
	if ok && update.UpdatedAt.Before(existing.UpdatedAt) {
		s.mutex.Unlock()
		logger.Base().Debug("Dropping stale call update",
			zap.String("call_id", update.ID),
			zap.Time("held", existing.UpdatedAt),
			zap.Time("incoming", update.UpdatedAt))
		return false
	}

	var merged domain.Call
	wasTerminal := false
	if ok {
		merged = *existing
		wasTerminal = existing.Status.Terminal()
		if err := copier.CopyWithOption(&merged, update, copier.Option{IgnoreEmpty: true}); err != nil {
			s.mutex.Unlock()
			logger.Base().Error("Failed to merge call update", zap.String("call_id", update.ID), zap.Error(err))
			return false
		}
	} else {
		merged = *update
	}
	merged.Sanitize()

	s.calls[merged.ID] = &merged
	if merged.ExternalCallID != "" {
		s.externalIndex[merged.ExternalCallID] = merged.ID
	}
	snapshot := merged
	s.mutex.Unlock()

	if s.bus != nil {
		_ = s.bus.PublishSync(event.New(event.CallUpserted, snapshot.ID).
			WithData(&event.CallData{Call: &snapshot}))
		if !wasTerminal && snapshot.Status.Terminal() {
			_ = s.bus.PublishSync(event.New(event.CallEnded, snapshot.ID).
				WithData(&event.CallData{Call: &snapshot}))
		}
	}
	return true
}

// Get returns a copy of the call with the given id.
func (s *Store) Get(id string) (*domain.Call, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	call, ok := s.calls[id]
	if !ok {
		return nil, false
	}
	c := *call
	return &c, true
}

// GetByExternalID returns a copy of the call with the given provider id.
func (s *Store) GetByExternalID(externalID string) (*domain.Call, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, ok := s.externalIndex[externalID]
	if !ok {
		return nil, false
	}
	call, ok := s.calls[id]
	if !ok {
		return nil, false
	}
	c := *call
	return &c, true
}

// ListActive returns copies of all calls still in progress, newest
// first. Pure projection over the in-memory state, no I/O.
func (s *Store) ListActive() []*domain.Call {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	active := make([]*domain.Call, 0)
	for _, call := range s.calls {
		if call.Active() && !call.Hidden {
			c := *call
			active = append(active, &c)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].StartedAt.After(active[j].StartedAt)
	})
	return active
}

// Len returns the number of tracked calls.
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.calls)
}

// MarkStale flags the store as potentially behind the backend. The
// last-known state keeps being served; the flag is surfaced to clients
// so the dashboard can show its realtime indicator as disconnected.
func (s *Store) MarkStale() {
	s.mutex.Lock()
	changed := !s.stale
	s.stale = true
	s.mutex.Unlock()

	if changed {
		logger.Base().Warn("Call state store marked stale")
		if s.bus != nil {
			_ = s.bus.PublishSync(event.New(event.StoreStale, ""))
		}
	}
}

// MarkFresh clears the staleness flag after a successful reconciliation.
func (s *Store) MarkFresh() {
	s.mutex.Lock()
	changed := s.stale
	s.stale = false
	s.mutex.Unlock()

	if changed {
		logger.Base().Info("Call state store recovered")
		if s.bus != nil {
			_ = s.bus.PublishSync(event.New(event.StoreRecovered, ""))
		}
	}
}

// Stale reports whether the store may be behind the backend.
func (s *Store) Stale() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stale
}
