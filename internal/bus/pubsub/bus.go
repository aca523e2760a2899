// Package pubsub implements the bus on Google Cloud Pub/Sub. Each topic maps
// to a Pub/Sub topic and each consumer group to one subscription on it.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Config captures the Pub/Sub project and provisioning behavior.
type Config struct {
	ProjectID string
	// CreateMissing provisions topics and subscriptions on first use.
	CreateMissing bool
	// MaxOutstanding bounds unacknowledged messages per subscriber; 0 keeps the client default.
	MaxOutstanding int
}

// Bus publishes and receives through a Pub/Sub client.
type Bus struct {
	client *pubsub.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

var _ pipeline.Bus = (*Bus)(nil)

// New dials Pub/Sub for cfg.ProjectID.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Bus, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client. The bus takes ownership of it.
func NewWithClient(client *pubsub.Client, cfg Config, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		client: client,
		cfg:    cfg,
		logger: logger.Named("bus.pubsub"),
		topics: make(map[string]*pubsub.Topic),
	}
}

// SubscriptionID names the subscription that backs a consumer group.
func SubscriptionID(topic, group string) string {
	return topic + "." + group
}

// Publish sends payload and waits for the server to accept it.
func (b *Bus) Publish(ctx context.Context, topicID string, payload []byte) error {
	topic, err := b.topic(ctx, topicID)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{Data: payload, Attributes: make(map[string]string)}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	result := topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	b.logger.Debug("message published", zap.String("topic", topicID), zap.String("message_id", id))
	return nil
}

// Subscribe receives messages for group until ctx ends. Handler errors nack
// the message so Pub/Sub redelivers it.
func (b *Bus) Subscribe(ctx context.Context, topicID, group string, handler pipeline.Handler) error {
	if b.cfg.CreateMissing {
		if err := b.Ensure(ctx, topicID, group); err != nil {
			return err
		}
	}
	sub := b.client.Subscription(SubscriptionID(topicID, group))
	if b.cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = b.cfg.MaxOutstanding
	}
	logger := b.logger.With(zap.String("topic", topicID), zap.String("group", group))
	logger.Info("subscription receiving", zap.String("subscription", sub.ID()))

	err := sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ctx = otel.GetTextMapPropagator().Extract(ctx, &attributeCarrier{attrs: msg.Attributes})
		if err := handler(ctx, msg.Data); err != nil {
			logger.Warn("handler failed; nacking", zap.String("message_id", msg.ID), zap.Error(err))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("receive %s: %w", sub.ID(), err)
	}
	return nil
}

// Ensure provisions the topic and the group's subscription when missing.
func (b *Bus) Ensure(ctx context.Context, topicID, group string) error {
	topic, err := b.ensureTopic(ctx, topicID)
	if err != nil {
		return err
	}
	subID := SubscriptionID(topicID, group)
	sub := b.client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if exists {
		return nil
	}
	if _, err := b.client.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic}); err != nil {
		return fmt.Errorf("create subscription %s: %w", subID, err)
	}
	b.logger.Info("subscription created", zap.String("subscription", subID))
	return nil
}

// Close flushes pending publishes and closes the client.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, t := range b.topics {
		t.Stop()
	}
	b.topics = make(map[string]*pubsub.Topic)
	b.mu.Unlock()
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (b *Bus) topic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	b.mu.Lock()
	topic, ok := b.topics[topicID]
	b.mu.Unlock()
	if ok {
		return topic, nil
	}
	if b.cfg.CreateMissing {
		return b.ensureTopic(ctx, topicID)
	}
	return b.cache(b.client.Topic(topicID)), nil
}

func (b *Bus) ensureTopic(ctx context.Context, topicID string) (*pubsub.Topic, error) {
	topic := b.client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		topic, err = b.client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic %s: %w", topicID, err)
		}
		b.logger.Info("topic created", zap.String("topic", topicID))
	}
	return b.cache(topic), nil
}

func (b *Bus) cache(topic *pubsub.Topic) *pubsub.Topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.topics[topic.ID()]; ok {
		return existing
	}
	b.topics[topic.ID()] = topic
	return topic
}

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	if c.attrs == nil {
		c.attrs = make(map[string]string)
	}
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
