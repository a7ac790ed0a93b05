package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/assistly/callcenter-service/pkg/redis"
	"go.uber.org/zap"
)

const (
	DismissChannel = "callcenter:incoming:dismiss"
	CallKeyPrefix  = "callcenter:call:session"
	CallSessionTTL = 1 * time.Hour
)

// CallSession is the monitoring record kept in Redis for every live
// call, so a multi-pod deployment can see which pod is tracking what.
type CallSession struct {
	CallID      string    `json:"callId"`
	ExternalID  string    `json:"externalId"`
	PodID       string    `json:"podId"`
	Direction   string    `json:"direction"`
	StartedAt   time.Time `json:"startedAt"`
	AgentNumber string    `json:"agentNumber,omitempty"`
}

// DismissMessage is the payload for the incoming-call dismissal broadcast.
type DismissMessage struct {
	CallID string `json:"callId"`
}

type Manager struct {
	redisSvc redis.RedisServiceInterface
	podID    string
}

func NewManager(redisSvc redis.RedisServiceInterface, podID string) *Manager {
	return &Manager{
		redisSvc: redisSvc,
		podID:    podID,
	}
}

// Register records a live call session for monitoring.
func (m *Manager) Register(ctx context.Context, info CallSession) error {
	info.PodID = m.podID
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}

	data, _ := json.Marshal(info)
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, info.CallID)

	err := m.redisSvc.SetValue(ctx, key, string(data), CallSessionTTL)
	if err == nil {
		logger.Base().Debug("Call session registered in Redis",
			zap.String("call_id", info.CallID), zap.String("pod_id", m.podID))
	}
	return err
}

// Unregister removes a call session once the call ends.
func (m *Manager) Unregister(ctx context.Context, callID string) error {
	key := fmt.Sprintf("%s:%s", CallKeyPrefix, callID)
	return m.redisSvc.DelValue(ctx, key)
}

// NotifyDismiss broadcasts an incoming-call dismissal so every pod
// showing the notification for this call clears it.
func (m *Manager) NotifyDismiss(ctx context.Context, callID string) error {
	logger.Base().Debug("Broadcasting incoming-call dismissal", zap.String("call_id", callID))
	return m.redisSvc.Publish(ctx, DismissChannel, DismissMessage{CallID: callID})
}

// SubscribeToDismiss listens for dismissal broadcasts.
func (m *Manager) SubscribeToDismiss(ctx context.Context, handler func(callID string)) error {
	return m.redisSvc.Subscribe(ctx, DismissChannel, func(payload string) {
		var msg DismissMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			logger.Base().Error("Failed to unmarshal dismissal message", zap.Error(err))
			return
		}
		handler(msg.CallID)
	})
}
