// Package redisstream implements the bus on Redis Streams. A topic is a stream and a
// consumer group is a Redis consumer group on it.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

const payloadField = "payload"

// Bus publishes with XADD and consumes with XREADGROUP. Unacknowledged entries
// idle longer than the claim interval are reclaimed and retried until they
// reach the delivery cap.
type Bus struct {
	rdb *redis.Client

	prefix        string
	consumer      string
	block         time.Duration
	count         int64
	claimIdle     time.Duration
	maxDeliveries int64
	logger        *zap.Logger
}

var _ pipeline.Bus = (*Bus)(nil)

// Option customizes a Bus.
type Option func(*Bus)

// WithKeyPrefix namespaces stream keys.
func WithKeyPrefix(prefix string) Option {
	return func(b *Bus) { b.prefix = strings.Trim(prefix, ":") }
}

// WithConsumerName sets the consumer name inside each group.
func WithConsumerName(name string) Option {
	return func(b *Bus) {
		if name != "" {
			b.consumer = name
		}
	}
}

// WithBlock sets how long one XREADGROUP call waits for new entries.
func WithBlock(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.block = d
		}
	}
}

// WithBatchCount sets the number of entries read per call.
func WithBatchCount(n int64) Option {
	return func(b *Bus) {
		if n > 0 {
			b.count = n
		}
	}
}

// WithClaimIdle sets the idle time after which a pending entry is retried.
func WithClaimIdle(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.claimIdle = d
		}
	}
}

// WithMaxDeliveries caps deliveries per entry before it is dropped.
func WithMaxDeliveries(n int64) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxDeliveries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New wraps rdb. The bus owns the client and closes it on Close.
func New(rdb *redis.Client, opts ...Option) *Bus {
	host, _ := os.Hostname()
	if host == "" {
		host = "sentinel"
	}
	b := &Bus{
		rdb:           rdb,
		prefix:        "sentinel",
		consumer:      fmt.Sprintf("%s-%d", host, os.Getpid()),
		block:         2 * time.Second,
		count:         10,
		claimIdle:     time.Minute,
		maxDeliveries: 5,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.Named("bus.redis")
	return b
}

// StreamKey returns the Redis key for topic.
func (b *Bus) StreamKey(topic string) string {
	if b.prefix == "" {
		return topic
	}
	return b.prefix + ":" + topic
}

// Publish appends payload to the topic stream.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	err := b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: b.StreamKey(topic),
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", topic, err)
	}
	return nil
}

// Subscribe consumes topic as group until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, topic, group string, handler pipeline.Handler) error {
	stream := b.StreamKey(topic)
	if err := b.ensureGroup(ctx, stream, group); err != nil {
		return err
	}
	logger := b.logger.With(zap.String("stream", stream), zap.String("group", group), zap.String("consumer", b.consumer))
	logger.Info("consumer group reading")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.reclaim(ctx, logger, stream, topic, group, handler); err != nil && ctx.Err() == nil {
			logger.Warn("reclaim pending entries failed", zap.Error(err))
		}

		res, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    b.count,
			Block:    b.block,
		}).Result()
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, redis.Nil):
			continue
		case errors.Is(err, redis.ErrClosed):
			return fmt.Errorf("xreadgroup %s: %w", stream, err)
		case err != nil:
			logger.Warn("xreadgroup failed", zap.Error(err))
			sleep(ctx, b.block)
			continue
		}
		for _, s := range res {
			for _, msg := range s.Messages {
				b.handle(ctx, logger, stream, group, msg, handler)
			}
		}
	}
}

// Close closes the underlying client.
func (b *Bus) Close() error {
	if err := b.rdb.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (b *Bus) ensureGroup(ctx context.Context, stream, group string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", group, stream, err)
	}
	return nil
}

// reclaim retries entries left pending by failed handlers or dead consumers.
func (b *Bus) reclaim(ctx context.Context, logger *zap.Logger, stream, topic, group string, handler pipeline.Handler) error {
	pending, err := b.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   b.claimIdle,
		Start:  "-",
		End:    "+",
		Count:  b.count,
	}).Result()
	if err != nil {
		return fmt.Errorf("xpending %s: %w", stream, err)
	}
	var retry []string
	for _, p := range pending {
		if p.RetryCount >= b.maxDeliveries {
			logger.Error("dropping entry after max deliveries",
				zap.String("id", p.ID),
				zap.Int64("deliveries", p.RetryCount),
			)
			metrics.ObserveDroppedMessage(topic)
			if err := b.rdb.XAck(ctx, stream, group, p.ID).Err(); err != nil {
				return fmt.Errorf("xack %s: %w", p.ID, err)
			}
			continue
		}
		retry = append(retry, p.ID)
	}
	if len(retry) == 0 {
		return nil
	}
	claimed, err := b.rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: b.consumer,
		MinIdle:  b.claimIdle,
		Messages: retry,
	}).Result()
	if err != nil {
		return fmt.Errorf("xclaim %s: %w", stream, err)
	}
	for _, msg := range claimed {
		b.handle(ctx, logger, stream, group, msg, handler)
	}
	return nil
}

func (b *Bus) handle(ctx context.Context, logger *zap.Logger, stream, group string, msg redis.XMessage, handler pipeline.Handler) {
	payload, ok := decodePayload(msg.Values)
	if !ok {
		logger.Error("entry has no payload; acknowledging", zap.String("id", msg.ID))
		b.ack(ctx, logger, stream, group, msg.ID)
		return
	}
	if err := handler(ctx, payload); err != nil {
		logger.Warn("handler failed; leaving entry pending", zap.String("id", msg.ID), zap.Error(err))
		return
	}
	b.ack(ctx, logger, stream, group, msg.ID)
}

func (b *Bus) ack(ctx context.Context, logger *zap.Logger, stream, group, id string) {
	if err := b.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		logger.Warn("xack failed", zap.String("id", id), zap.Error(err))
	}
}

func decodePayload(values map[string]any) ([]byte, bool) {
	switch v := values[payloadField].(type) {
	case string:
		return []byte(v), true
	case []byte:
		return v, true
	default:
		return nil, false
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
