// Package dispatcher pages work items out of a store and publishes one batch
// message per page to the bus.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Source is the paginated read side of a store.
type Source[T any] interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context, offset, limit int) ([]T, error)
}

// Encoder builds the wire payload for one page of items.
type Encoder[T any] func(items []T, batchID uuid.UUID, ts time.Time) ([]byte, error)

// Config controls the topic and the page size of a dispatcher.
type Config struct {
	Topic     string
	BatchSize int
}

// Dispatcher publishes ceil(total/BatchSize) batches per cycle.
type Dispatcher[T any] struct {
	source    Source[T]
	publisher pipeline.Publisher
	encode    Encoder[T]
	idGen     pipeline.IDGenerator
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
	yield     func()
}

// New creates a Dispatcher.
func New[T any](
	source Source[T],
	publisher pipeline.Publisher,
	encode Encoder[T],
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher[T], error) {
	if source == nil || publisher == nil || encode == nil {
		return nil, errors.New("source, publisher and encoder are required")
	}
	if idGen == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher[T]{
		source:    source,
		publisher: publisher,
		encode:    encode,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("dispatcher").With(zap.String("topic", cfg.Topic)),
		yield:     runtime.Gosched,
	}, nil
}

// NewDomainDispatcher publishes domain batches read from store.
func NewDomainDispatcher(
	store pipeline.DomainStore,
	publisher pipeline.Publisher,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher[pipeline.DomainRecord], error) {
	return New[pipeline.DomainRecord](store, publisher, EncodeDomainBatch, idGen, clock, cfg, logger)
}

// NewTokenDispatcher publishes token batches read from store.
func NewTokenDispatcher(
	store pipeline.TokenStore,
	publisher pipeline.Publisher,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Dispatcher[pipeline.Token], error) {
	return New[pipeline.Token](store, publisher, EncodeTokenBatch, idGen, clock, cfg, logger)
}

// Dispatch runs one cycle and returns the number of items in batches the bus accepted.
// Empty pages, page read failures, and publish failures are logged and skipped.
func (d *Dispatcher[T]) Dispatch(ctx context.Context) (int, error) {
	total, err := d.source.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	if total == 0 {
		d.logger.Info("no items to dispatch")
		return 0, nil
	}

	batchCount := (total + d.cfg.BatchSize - 1) / d.cfg.BatchSize
	d.logger.Info("dispatching items",
		zap.Int("total", total),
		zap.Int("batch_size", d.cfg.BatchSize),
		zap.Int("batch_count", batchCount),
	)

	sent := 0
	for batchIndex := 0; batchIndex < batchCount; batchIndex++ {
		if err := ctx.Err(); err != nil {
			return sent, fmt.Errorf("dispatch canceled: %w", err)
		}
		sent += d.dispatchPage(ctx, batchIndex)
		if batchIndex < batchCount-1 {
			d.yield()
		}
	}

	d.logger.Info("dispatch cycle finished", zap.Int("sent", sent), zap.Int("total", total))
	return sent, nil
}

func (d *Dispatcher[T]) dispatchPage(ctx context.Context, batchIndex int) int {
	logger := d.logger.With(zap.Int("batch_index", batchIndex))
	items, err := d.source.List(ctx, batchIndex*d.cfg.BatchSize, d.cfg.BatchSize)
	if err != nil {
		logger.Error("read page failed", zap.Error(err))
		return 0
	}
	if len(items) == 0 {
		logger.Warn("page returned no items; skipping")
		return 0
	}

	batchID, err := d.idGen.NewID()
	if err != nil {
		logger.Error("generate batch id failed", zap.Error(err))
		return 0
	}
	logger = logger.With(zap.String("batch_id", batchID.String()))

	payload, err := d.encode(items, batchID, d.clock.Now())
	if err != nil {
		logger.Error("encode batch failed", zap.Error(err))
		return 0
	}
	if err := d.publisher.Publish(ctx, d.cfg.Topic, payload); err != nil {
		logger.Error("publish batch failed", zap.Int("items", len(items)), zap.Error(err))
		metrics.ObservePublishFailure(d.cfg.Topic)
		return 0
	}

	metrics.ObserveDispatch(d.cfg.Topic, len(items))
	logger.Debug("batch published", zap.Int("items", len(items)))
	return len(items)
}

// EncodeDomainBatch renders records as a domain batch message.
func EncodeDomainBatch(records []pipeline.DomainRecord, batchID uuid.UUID, ts time.Time) ([]byte, error) {
	batch := pipeline.DomainBatch{
		Domains:   make([]pipeline.Domain, 0, len(records)),
		BatchID:   batchID,
		Timestamp: ts,
	}
	for _, r := range records {
		batch.Domains = append(batch.Domains, r.Ref())
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal domain batch: %w", err)
	}
	return data, nil
}

// EncodeTokenBatch renders tokens as a token batch message.
func EncodeTokenBatch(tokens []pipeline.Token, batchID uuid.UUID, ts time.Time) ([]byte, error) {
	batch := pipeline.TokenBatch{
		Tokens:    make([]pipeline.TokenRef, 0, len(tokens)),
		BatchID:   batchID,
		Timestamp: ts,
	}
	for _, t := range tokens {
		batch.Tokens = append(batch.Tokens, t.Ref())
	}
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("marshal token batch: %w", err)
	}
	return data, nil
}
