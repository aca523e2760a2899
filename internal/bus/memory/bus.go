// Package memory provides an in-process bus for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("bus closed")

// Config controls redelivery of failed handler calls.
type Config struct {
	// MaxDeliveries caps handler invocations per message and group.
	MaxDeliveries   int
	RedeliveryDelay time.Duration
}

// Bus keeps an append-only log per topic and an independent offset per
// consumer group. Groups created after a publish start from the oldest message.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topicLog
	closed bool
	cfg    Config
	logger *zap.Logger
}

type topicLog struct {
	messages [][]byte
	offsets  map[string]int
	notify   chan struct{}
}

var _ pipeline.Bus = (*Bus)(nil)

// New constructs an empty Bus.
func New(cfg Config, logger *zap.Logger) *Bus {
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[string]*topicLog),
		cfg:    cfg,
		logger: logger.Named("bus.memory"),
	}
}

// Publish appends payload to the topic log and wakes waiting subscribers.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish canceled: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	log := b.topicLocked(topic)
	log.messages = append(log.messages, append([]byte(nil), payload...))
	close(log.notify)
	log.notify = make(chan struct{})
	return nil
}

// Subscribe delivers every message of topic to handler once per group, in order.
// A handler error triggers redelivery up to MaxDeliveries. It returns nil when
// ctx ends, leaving undelivered messages for the group, and ErrClosed when the
// bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, handler pipeline.Handler) error {
	logger := b.logger.With(zap.String("topic", topic), zap.String("group", group))
	for {
		if ctx.Err() != nil {
			return nil
		}
		payload, wait, err := b.next(topic, group)
		if err != nil {
			return err
		}
		if payload != nil {
			b.deliver(ctx, logger, payload, handler)
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-wait:
		}
	}
}

// Close wakes all subscribers and rejects further publishes.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, log := range b.topics {
		close(log.notify)
	}
	return nil
}

// Messages returns a copy of every payload published to topic.
func (b *Bus) Messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	log, ok := b.topics[topic]
	if !ok {
		return nil
	}
	out := make([][]byte, len(log.messages))
	for i, m := range log.messages {
		out[i] = append([]byte(nil), m...)
	}
	return out
}

func (b *Bus) next(topic, group string) ([]byte, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}
	log := b.topicLocked(topic)
	offset, ok := log.offsets[group]
	if !ok {
		log.offsets[group] = 0
	}
	if offset < len(log.messages) {
		log.offsets[group] = offset + 1
		return log.messages[offset], nil, nil
	}
	return nil, log.notify, nil
}

func (b *Bus) deliver(ctx context.Context, logger *zap.Logger, payload []byte, handler pipeline.Handler) {
	for attempt := 1; attempt <= b.cfg.MaxDeliveries; attempt++ {
		err := handler(ctx, payload)
		if err == nil {
			return
		}
		logger.Warn("handler failed; redelivering",
			zap.Int("delivery", attempt),
			zap.Int("max_deliveries", b.cfg.MaxDeliveries),
			zap.Error(err),
		)
		if attempt == b.cfg.MaxDeliveries {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(b.cfg.RedeliveryDelay):
		}
	}
	logger.Error("dropping message after max deliveries", zap.Int("max_deliveries", b.cfg.MaxDeliveries))
}

func (b *Bus) topicLocked(topic string) *topicLog {
	log, ok := b.topics[topic]
	if !ok {
		log = &topicLog{offsets: make(map[string]int), notify: make(chan struct{})}
		if b.closed {
			close(log.notify)
		}
		b.topics[topic] = log
	}
	return log
}
