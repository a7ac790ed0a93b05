package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/assistly/callcenter-service/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	PubID     string `mapstructure:"pub_id"`
}

type PubSubService struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	config *PubSubConfig
}

// CallMetricsEvent models the call analytics payload published on every
// terminal call transition, consumed by the reporting pipeline.
type CallMetricsEvent struct {
	ID              string     `json:"id"`
	CallID          string     `json:"call_id"`
	ExternalCallID  string     `json:"external_call_id"`
	Provider        string     `json:"provider"`
	Direction       string     `json:"direction"`
	Status          string     `json:"status"`
	Outcome         string     `json:"outcome"`
	Availability    string     `json:"availability"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
	CreatedAt       time.Time  `json:"created_at"`
}

func NewPubSubService(ctx context.Context, cfg *PubSubConfig) (*PubSubService, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PubSub project ID is required")
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create PubSub client: %w", err)
	}

	topic := client.Topic(cfg.TopicName)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to check if topic exists: %w", err)
	}

	if !exists {
		logger.Base().Info("Topic does not exist, creating", zap.String("topicname", cfg.TopicName))
		topic, err = client.CreateTopic(ctx, cfg.TopicName)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create topic %s: %w", cfg.TopicName, err)
		}
	}

	return &PubSubService{
		client: client,
		topic:  topic,
		config: cfg,
	}, nil
}

// PublishCallMetrics publishes one call metrics event as JSON.
func (p *PubSubService) PublishCallMetrics(ctx context.Context, metrics CallMetricsEvent) error {
	if metrics.ID == "" {
		metrics.ID = uuid.New().String()
	}
	if metrics.CreatedAt.IsZero() {
		metrics.CreatedAt = time.Now()
	}

	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal call metrics: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"publisher":  p.config.PubID,
			"event_type": "call_metrics",
		},
	})

	msgID, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to publish call metrics: %w", err)
	}

	logger.Base().Debug("Call metrics published",
		zap.String("message_id", msgID),
		zap.String("call_id", metrics.CallID))
	return nil
}

// Close releases the underlying client.
func (p *PubSubService) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
