package notifier

import (
	"sync"
	"time"

	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/pkg/logger"
	"go.uber.org/zap"
)

// DefaultTTL is how long an incoming-call notification stays active
// without an explicit dismissal. The safety timeout prevents a stuck
// "incoming call" banner when the terminal event for a call is dropped.
const DefaultTTL = 60 * time.Second

// IncomingCall is the ephemeral active notification: the ringing call
// it references plus its activation time and auto-expiry deadline.
type IncomingCall struct {
	Call        domain.Call `json:"call"`
	ActivatedAt time.Time   `json:"activated_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Notifier watches call updates for inbound ringing calls and keeps at
// most one incoming-call notification active at any instant.
// Dismissal, supersession and expiry are idempotent.
type Notifier struct {
	mutex  sync.Mutex
	active *IncomingCall
	timer  *time.Timer
	ttl    time.Duration
	bus    event.Bus
}

// NewNotifier creates a notifier. ttl <= 0 selects DefaultTTL; tests
// inject a short ttl to exercise expiry.
func NewNotifier(bus event.Bus, ttl time.Duration) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Notifier{ttl: ttl, bus: bus}
}

// OnCallUpdate feeds one call state change into the notifier. Inbound
// ringing calls activate a notification; a terminal or answered update
// for the currently-notified call dismisses it; a newer ringing call
// supersedes a notification whose call is no longer ringing.
func (n *Notifier) OnCallUpdate(call *domain.Call) {
	if call == nil {
		return
	}

	n.mutex.Lock()

	if n.active != nil && n.active.Call.ID == call.ID {
		if call.Status != domain.CallStatusRinging {
			evt := n.clearLocked()
			n.mutex.Unlock()
			n.publishCleared(event.IncomingCallDismissed, evt)
			return
		}
		// Still ringing; keep the notification but refresh the record.
		n.active.Call = *call
		n.mutex.Unlock()
		return
	}

	if call.Direction != domain.CallDirectionInbound || call.Status != domain.CallStatusRinging {
		n.mutex.Unlock()
		return
	}

	if n.active != nil {
		if n.active.Call.Status == domain.CallStatusRinging {
			// The existing notification's call is still alerting; the
			// newer call waits its turn in the active-calls list.
			n.mutex.Unlock()
			return
		}
		superseded := n.clearLocked()
		activated := n.activateLocked(call)
		n.mutex.Unlock()
		n.publishCleared(event.IncomingCallSuperseded, superseded)
		n.publishActivated(activated)
		return
	}

	activated := n.activateLocked(call)
	n.mutex.Unlock()
	n.publishActivated(activated)
}

// Dismiss clears the active notification unconditionally. Dismissing
// when nothing is active is a no-op.
func (n *Notifier) Dismiss() {
	n.mutex.Lock()
	evt := n.clearLocked()
	n.mutex.Unlock()
	n.publishCleared(event.IncomingCallDismissed, evt)
}

// Active returns a copy of the active notification, if any.
func (n *Notifier) Active() (IncomingCall, bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	if n.active == nil {
		return IncomingCall{}, false
	}
	return *n.active, true
}

// activateLocked installs a new active notification and arms its
// expiry timer. Caller holds the mutex.
func (n *Notifier) activateLocked(call *domain.Call) *IncomingCall {
	now := time.Now()
	evt := &IncomingCall{
		Call:        *call,
		ActivatedAt: now,
		ExpiresAt:   now.Add(n.ttl),
	}
	n.active = evt
	n.timer = time.AfterFunc(n.ttl, func() { n.expire(evt) })
	logger.Base().Info("Incoming call notification activated",
		zap.String("call_id", call.ID), zap.Time("expires_at", evt.ExpiresAt))
	return evt
}

// clearLocked removes the active notification and cancels its timer so
// no expiry fires against state that no longer exists. Caller holds
// the mutex. Returns the cleared notification, or nil if none.
func (n *Notifier) clearLocked() *IncomingCall {
	if n.active == nil {
		return nil
	}
	evt := n.active
	n.active = nil
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	return evt
}

// expire force-dismisses a notification whose safety timeout elapsed.
// The generation check makes a late-firing timer against a superseded
// notification a no-op.
func (n *Notifier) expire(evt *IncomingCall) {
	n.mutex.Lock()
	if n.active != evt {
		n.mutex.Unlock()
		return
	}
	cleared := n.clearLocked()
	n.mutex.Unlock()

	logger.Base().Warn("Incoming call notification expired without terminal event",
		zap.String("call_id", evt.Call.ID))
	n.publishCleared(event.IncomingCallExpired, cleared)
}

func (n *Notifier) publishActivated(evt *IncomingCall) {
	if n.bus == nil || evt == nil {
		return
	}
	_ = n.bus.PublishSync(event.New(event.IncomingCallActivated, evt.Call.ID).WithData(evt))
}

func (n *Notifier) publishCleared(eventType event.Type, evt *IncomingCall) {
	if n.bus == nil || evt == nil {
		return
	}
	_ = n.bus.PublishSync(event.New(eventType, evt.Call.ID).WithData(evt))
}
