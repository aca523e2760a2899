package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// DefaultFetchTimeout bounds one FetchPrice call.
const DefaultFetchTimeout = 10 * time.Second

// PriceConfig controls a PriceWorker.
type PriceConfig struct {
	BatchTopic   string
	EventTopic   string
	FetchTimeout time.Duration
}

// PriceWorker refreshes the prices of a token batch and records one feed
// entry per token.
type PriceWorker struct {
	fetcher   pipeline.PriceFetcher
	feed      pipeline.FeedStore
	publisher pipeline.Publisher
	idGen     pipeline.IDGenerator
	clock     pipeline.Clock
	cfg       PriceConfig
	logger    *zap.Logger
}

// NewPriceWorker constructs a PriceWorker.
func NewPriceWorker(
	fetcher pipeline.PriceFetcher,
	feed pipeline.FeedStore,
	publisher pipeline.Publisher,
	idGen pipeline.IDGenerator,
	clock pipeline.Clock,
	cfg PriceConfig,
	logger *zap.Logger,
) (*PriceWorker, error) {
	if fetcher == nil || feed == nil || publisher == nil {
		return nil, errors.New("price fetcher, feed store and publisher are required")
	}
	if idGen == nil || clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.BatchTopic == "" {
		cfg.BatchTopic = pipeline.TopicTokenBatches
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = pipeline.TopicTokenPriceUpdates
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceWorker{
		fetcher:   fetcher,
		feed:      feed,
		publisher: publisher,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker.price"),
	}, nil
}

// HandleBatch records a pending entry per token, fetches every price
// concurrently and persists all outcomes once the fan-out completes. It
// returns an error only when the pending entries could not be written.
func (w *PriceWorker) HandleBatch(ctx context.Context, payload []byte) error {
	batch, err := pipeline.ParseTokenBatch(payload)
	if err != nil {
		w.logger.Warn("dropping malformed token batch", zap.Error(err))
		metrics.ObserveDroppedMessage(w.cfg.BatchTopic)
		return nil
	}
	ctx, span := tracer.Start(ctx, "token-batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batch.BatchID.String()),
		attribute.Int("batch.size", len(batch.Tokens)),
	)
	logger := w.logger.With(zap.String("batch_id", batch.BatchID.String()))
	if len(batch.Tokens) == 0 {
		logger.Info("empty token batch")
		return nil
	}

	entries, err := w.pendingEntries(batch.Tokens)
	if err != nil {
		return err
	}
	if err := w.feed.CreatePending(ctx, entries); err != nil {
		return fmt.Errorf("create pending feed entries: %w", err)
	}

	ids := make([]uuid.UUID, len(entries))
	for i := range entries {
		ids[i] = entries[i].ID
	}
	startedAt := w.clock.Now()
	if err := w.feed.MarkProcessing(ctx, ids, startedAt); err != nil {
		logger.Error("mark processing failed; abandoning batch", zap.Int("entries", len(ids)), zap.Error(err))
		return nil
	}
	for i := range entries {
		if err := entries[i].Transition(pipeline.FeedStatusProcessing, startedAt); err != nil {
			return fmt.Errorf("feed entry %s: %w", entries[i].ID, err)
		}
	}

	var g errgroup.Group
	for i := range entries {
		g.Go(func() error {
			w.processToken(ctx, logger, &entries[i])
			return nil
		})
	}
	_ = g.Wait()

	if err := w.feed.SaveOutcomes(ctx, entries); err != nil {
		logger.Error("save feed outcomes failed", zap.Int("entries", len(entries)), zap.Error(err))
		return nil
	}
	processed := 0
	for _, e := range entries {
		if e.Status == pipeline.FeedStatusProcessed {
			processed++
		}
	}
	logger.Info("token batch processed",
		zap.Int("tokens", len(entries)),
		zap.Int("processed", processed),
		zap.Int("failed", len(entries)-processed),
	)
	return nil
}

func (w *PriceWorker) pendingEntries(tokens []pipeline.TokenRef) ([]pipeline.FeedEntry, error) {
	now := w.clock.Now()
	entries := make([]pipeline.FeedEntry, len(tokens))
	for i, ref := range tokens {
		id, err := w.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("feed entry id: %w", err)
		}
		entries[i] = pipeline.NewFeedEntry(id, ref, now)
	}
	return entries, nil
}

// processToken moves entry to its terminal state. Each goroutine owns exactly
// one entry.
func (w *PriceWorker) processToken(ctx context.Context, logger *zap.Logger, entry *pipeline.FeedEntry) {
	logger = logger.With(zap.String("token_id", entry.TokenID.String()), zap.String("symbol", entry.Symbol))
	ref := pipeline.TokenRef{ID: entry.TokenID, Symbol: entry.Symbol, OldPrice: entry.OldPrice}

	price, err := w.fetch(ctx, ref)
	now := w.clock.Now()
	if err != nil {
		logger.Warn("price fetch failed", zap.Error(err))
		if ferr := entry.Fail(err.Error(), now); ferr != nil {
			logger.Error("record failed outcome", zap.Error(ferr))
			return
		}
		metrics.ObserveFeedOutcome(string(pipeline.FeedStatusFailed))
		return
	}
	if err := entry.Complete(price, now); err != nil {
		logger.Error("record processed outcome", zap.Error(err))
		return
	}
	metrics.ObserveFeedOutcome(string(pipeline.FeedStatusProcessed))

	if err := w.publishUpdate(ctx, *entry, now); err != nil {
		logger.Error("price update publish failed", zap.Error(err))
		metrics.ObservePublishFailure(w.cfg.EventTopic)
	}
}

func (w *PriceWorker) fetch(ctx context.Context, ref pipeline.TokenRef) (price decimal.Decimal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("price fetch panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	return w.fetcher.FetchPrice(ctx, ref)
}

func (w *PriceWorker) publishUpdate(ctx context.Context, entry pipeline.FeedEntry, now time.Time) error {
	payload, err := pipeline.PriceUpdateEvent{
		TokenID:   entry.TokenID,
		Symbol:    entry.Symbol,
		OldPrice:  entry.OldPrice,
		NewPrice:  *entry.NewPrice,
		Timestamp: now,
	}.MarshalJSON()
	if err != nil {
		return err
	}
	if err := w.publisher.Publish(ctx, w.cfg.EventTopic, payload); err != nil {
		return fmt.Errorf("publish price update: %w", err)
	}
	return nil
}
