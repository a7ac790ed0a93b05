package call

import (
	"context"
	"encoding/json"
	"time"

	"github.com/assistly/callcenter-service/internal/cache"
	"github.com/assistly/callcenter-service/internal/callstate"
	"github.com/assistly/callcenter-service/internal/config"
	"github.com/assistly/callcenter-service/internal/core/event"
	"github.com/assistly/callcenter-service/internal/core/session"
	"github.com/assistly/callcenter-service/internal/domain"
	"github.com/assistly/callcenter-service/internal/notifier"
	"github.com/assistly/callcenter-service/internal/phone"
	"github.com/assistly/callcenter-service/internal/repository"
	"github.com/assistly/callcenter-service/internal/workspace"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/assistly/callcenter-service/pkg/pubsub"
	"github.com/assistly/callcenter-service/pkg/redis"
	"go.uber.org/zap"
)

// CallCenterService wires the call state store, incoming-call
// notifier, phone connection manager and workspace coordinator
// together and feeds them from the realtime push channel and the
// polling reconciler.
type CallCenterService struct {
	config       *config.CallCenterConfig
	bus          event.Bus
	store        *callstate.Store
	notifier     *notifier.Notifier
	phoneManager *phone.ConnectionManager
	workspace    *workspace.Coordinator
	terminator   *Terminator
	repos        repository.RepositoryManager
	redisSvc     redis.RedisServiceInterface
	sessions     *session.Manager
	pubsubSvc    *pubsub.PubSubService
	directory    *cache.AgentDirectory

	lastReconcile time.Time
}

// NewCallCenterService creates the service and wires the internal
// event subscriptions. repos, redisSvc, sessions and pubsubSvc may be
// nil for partial deployments and tests; the corresponding features
// are skipped.
func NewCallCenterService(
	cfg *config.CallCenterConfig,
	sdk phone.WorkspaceSDK,
	commander ProviderCommander,
	repos repository.RepositoryManager,
	redisSvc redis.RedisServiceInterface,
	sessions *session.Manager,
	pubsubSvc *pubsub.PubSubService,
) *CallCenterService {
	bus := event.NewBus()
	for _, mw := range event.CreateDefaultMiddlewareChain() {
		bus.Use(mw)
	}

	store := callstate.NewStore(bus)

	svc := &CallCenterService{
		config:       cfg,
		bus:          bus,
		store:        store,
		notifier:     notifier.NewNotifier(bus, cfg.IncomingCallTTL),
		phoneManager: phone.NewConnectionManager(sdk, bus, cfg.PhoneReadyTimeout),
		workspace:    workspace.NewCoordinator(nil, bus),
		repos:        repos,
		redisSvc:     redisSvc,
		sessions:     sessions,
		pubsubSvc:    pubsubSvc,
		directory:    cache.NewAgentDirectory(),
	}

	var repo repository.CallRepository
	if repos != nil {
		repo = repos.Call()
	}
	svc.terminator = NewTerminator(store, repo, commander)

	svc.wireSubscriptions()
	return svc
}

// wireSubscriptions connects the components through the bus. Call
// updates are delivered synchronously by the store, so the notifier
// and session registry observe every transition before the publisher
// moves on.
func (s *CallCenterService) wireSubscriptions() {
	_ = s.bus.Subscribe(event.CallUpserted, func(e *event.Event) {
		data, ok := e.GetCallData()
		if !ok {
			return
		}
		s.notifier.OnCallUpdate(data.Call)
		s.trackSession(data.Call)
	})

	_ = s.bus.Subscribe(event.CallEnded, func(e *event.Event) {
		data, ok := e.GetCallData()
		if !ok {
			return
		}
		s.onCallEnded(data.Call)
	})

	// Automatic workspace triggers: an activated notification shows
	// the workspace when browser answering is available; the end of
	// the last live call hides it again. Both go through the
	// coordinator so they serialize with operator-initiated requests.
	_ = s.bus.Subscribe(event.IncomingCallActivated, func(e *event.Event) {
		if !s.phoneManager.IsConnected() {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.workspace.Show(ctx); err != nil {
				logger.Base().Error("Auto-show of call workspace failed", zap.Error(err))
			}
		}()
	})
}

// Start subscribes to the push channel, the cross-pod dismissal
// broadcast, and starts the polling reconciler. It returns once the
// subscriptions are set up; the reconciler runs until ctx ends.
func (s *CallCenterService) Start(ctx context.Context) error {
	if s.redisSvc != nil {
		err := s.redisSvc.Subscribe(ctx, CallEventsChannel, s.ApplyPushPayload)
		if err != nil {
			return err
		}
		logger.Base().Info("Subscribed to call events push channel", zap.String("channel", CallEventsChannel))
	}

	if s.sessions != nil {
		err := s.sessions.SubscribeToDismiss(ctx, func(callID string) {
			if active, ok := s.notifier.Active(); ok && active.Call.ID == callID {
				logger.Base().Info("Dismissing incoming call after broadcast", zap.String("call_id", callID))
				s.notifier.Dismiss()
			}
		})
		if err != nil {
			return err
		}
	}

	if s.repos != nil {
		go s.reconcileLoop(ctx)
	}
	return nil
}

// ApplyPushPayload applies one push-channel notification to the store.
// Exported so webhook-style ingestion can feed the same path as the
// Redis subscription. Malformed payloads are dropped; a single lost
// message is recovered by the next reconciliation pass.
func (s *CallCenterService) ApplyPushPayload(payload string) {
	var msg CallEventMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		logger.Base().Error("Failed to unmarshal call event", zap.Error(err))
		return
	}
	if msg.Call == nil || msg.Call.ID == "" {
		logger.Base().Warn("Dropping call event without call record", zap.String("op", msg.Op))
		return
	}
	s.directory.EnrichCall(msg.Call)
	s.store.Apply(msg.Call)
}

// reconcileLoop periodically refetches recent calls from the backend.
// Push and polling are two independent producers feeding the same
// single-writer store: the timestamp merge in Apply makes their
// interleaving safe, and there is no separate "polling mode".
func (s *CallCenterService) reconcileLoop(ctx context.Context) {
	interval := s.config.ReconcileInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	s.reconcile(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

func (s *CallCenterService) reconcile(ctx context.Context) {
	since := s.lastReconcile
	if since.IsZero() {
		since = time.Now().Add(-1 * time.Hour)
	}
	// Overlap the window slightly so a row committed while the
	// previous pass ran is not missed.
	since = since.Add(-5 * time.Second)

	calls, err := s.repos.Call().ListRecent(ctx, since, 500)
	if err != nil {
		logger.Base().Error("Call reconciliation failed", zap.Error(err))
		s.store.MarkStale()
		return
	}

	for _, call := range calls {
		s.directory.EnrichCall(call)
		s.store.Apply(call)
	}
	s.lastReconcile = time.Now()
	s.store.MarkFresh()
}

// trackSession keeps the Redis call-session registry in step with the
// store.
func (s *CallCenterService) trackSession(call *domain.Call) {
	if s.sessions == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if call.Active() {
		info := session.CallSession{
			CallID:     call.ID,
			ExternalID: call.ExternalCallID,
			Direction:  string(call.Direction),
			StartedAt:  call.StartedAt,
		}
		if call.AgentNumber != nil {
			info.AgentNumber = *call.AgentNumber
		}
		if err := s.sessions.Register(ctx, info); err != nil {
			logger.Base().Error("Failed to register call session", zap.String("call_id", call.ID), zap.Error(err))
		}
		return
	}
	if call.Status.Terminal() {
		_ = s.sessions.Unregister(ctx, call.ID)
	}
}

// onCallEnded handles a terminal transition: publishes analytics,
// drops the session record and hides the workspace when nothing is
// live anymore.
func (s *CallCenterService) onCallEnded(call *domain.Call) {
	if s.pubsubSvc != nil {
		metrics := pubsub.CallMetricsEvent{
			CallID:         call.ID,
			ExternalCallID: call.ExternalCallID,
			Provider:       call.Provider,
			Direction:      string(call.Direction),
			Status:         string(call.Status),
			Outcome:        string(call.Outcome()),
			Availability:   string(call.Availability),
			StartedAt:      call.StartedAt,
			EndedAt:        call.EndedAt,
		}
		if call.DurationSeconds != nil {
			metrics.DurationSeconds = *call.DurationSeconds
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.pubsubSvc.PublishCallMetrics(ctx, metrics); err != nil {
				logger.Base().Error("Failed to publish call metrics", zap.String("call_id", call.ID), zap.Error(err))
			}
		}()
	}

	if len(s.store.ListActive()) == 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.workspace.Hide(ctx); err != nil {
				logger.Base().Error("Auto-hide of call workspace failed", zap.Error(err))
			}
		}()
	}
}

// ActiveCalls returns the live calls, newest first.
func (s *CallCenterService) ActiveCalls() []*domain.Call {
	return s.store.ListActive()
}

// GetCall returns one call by id.
func (s *CallCenterService) GetCall(id string) (*domain.Call, bool) {
	return s.store.Get(id)
}

// Stale reports whether the call view may be behind the backend.
func (s *CallCenterService) Stale() bool {
	return s.store.Stale()
}

// IncomingCall returns the active incoming-call notification, if any.
func (s *CallCenterService) IncomingCall() (notifier.IncomingCall, bool) {
	return s.notifier.Active()
}

// DismissIncoming clears the incoming-call notification locally and
// broadcasts the dismissal to other pods. Only the operator-initiated
// path broadcasts; broadcast-received dismissals stay local to avoid
// echo loops.
func (s *CallCenterService) DismissIncoming(ctx context.Context) {
	active, ok := s.notifier.Active()
	s.notifier.Dismiss()
	if ok && s.sessions != nil {
		if err := s.sessions.NotifyDismiss(ctx, active.Call.ID); err != nil {
			logger.Base().Error("Failed to broadcast dismissal", zap.Error(err))
		}
	}
}

// PhoneStatus returns the connection-state view for the dashboard.
func (s *CallCenterService) PhoneStatus() PhoneStatus {
	diags := s.phoneManager.Diagnostics()
	tags := make([]string, 0, len(diags))
	for _, d := range diags {
		tags = append(tags, string(d))
	}
	return PhoneStatus{
		Phase:          s.phoneManager.Phase().String(),
		Connected:      s.phoneManager.IsConnected(),
		WorkspaceReady: s.phoneManager.IsWorkspaceReady(),
		Diagnostics:    tags,
	}
}

// InitializePhone starts (or joins) the phone integration connection.
func (s *CallCenterService) InitializePhone(ctx context.Context) error {
	return s.phoneManager.Initialize(ctx)
}

// RetryPhone re-attempts the phone integration connection.
func (s *CallCenterService) RetryPhone(ctx context.Context) error {
	return s.phoneManager.Retry(ctx)
}

// SkipPhone opts out of the phone integration for the session.
func (s *CallCenterService) SkipPhone() error {
	return s.phoneManager.Skip()
}

// AnswerCall accepts the ringing call in the embedded workspace and
// shows it.
func (s *CallCenterService) AnswerCall(ctx context.Context, callID string) error {
	call, ok := s.store.Get(callID)
	if !ok {
		return ErrCallNotFound
	}
	if err := s.phoneManager.Answer(call.ExternalCallID); err != nil {
		return err
	}
	return s.workspace.Show(ctx)
}

// ShowWorkspace shows the embedded call workspace.
func (s *CallCenterService) ShowWorkspace(ctx context.Context) error {
	return s.workspace.Show(ctx)
}

// HideWorkspace hides the embedded call workspace.
func (s *CallCenterService) HideWorkspace(ctx context.Context) error {
	return s.workspace.Hide(ctx)
}

// WorkspaceSnapshot exposes the visibility state for diagnostics.
func (s *CallCenterService) WorkspaceSnapshot() event.VisibilityData {
	return s.workspace.Snapshot()
}

// EndCall force-terminates a call through the terminator.
func (s *CallCenterService) EndCall(ctx context.Context, req EndCallRequest) error {
	return s.terminator.EndCall(ctx, req.CallID, req.ExternalID, domain.EndReason(req.Reason))
}

// Directory exposes the agent directory for loading.
func (s *CallCenterService) Directory() *cache.AgentDirectory {
	return s.directory
}

// Bus exposes the event bus for read-side consumers such as the
// websocket feed.
func (s *CallCenterService) Bus() event.Bus {
	return s.bus
}

// Ping verifies the backing stores are reachable.
func (s *CallCenterService) Ping(ctx context.Context) error {
	if s.repos == nil {
		return nil
	}
	return s.repos.Ping(ctx)
}
