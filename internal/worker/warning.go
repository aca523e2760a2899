package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
	"github.com/JakeFAU/domain-sentinel/internal/retry"
)

// WarningConfig controls a WarningWorker.
type WarningConfig struct {
	// Variant is the browser variant this worker checks with, e.g. "chrome".
	Variant    string
	BatchTopic string
	EventTopic string
}

// WarningWorker checks every domain of a batch and records the outcome per
// browser variant.
type WarningWorker struct {
	checker   pipeline.WarningChecker
	store     pipeline.WarningFeedStore
	publisher pipeline.Publisher
	policy    *retry.Policy
	clock     pipeline.Clock
	cfg       WarningConfig
	logger    *zap.Logger
}

// NewWarningWorker constructs a WarningWorker.
func NewWarningWorker(
	checker pipeline.WarningChecker,
	store pipeline.WarningFeedStore,
	publisher pipeline.Publisher,
	policy *retry.Policy,
	clock pipeline.Clock,
	cfg WarningConfig,
	logger *zap.Logger,
) (*WarningWorker, error) {
	if checker == nil || store == nil || publisher == nil {
		return nil, errors.New("checker, warning store and publisher are required")
	}
	if policy == nil || clock == nil {
		return nil, errors.New("retry policy and clock are required")
	}
	if cfg.Variant == "" {
		return nil, errors.New("browser variant is required")
	}
	if cfg.BatchTopic == "" {
		cfg.BatchTopic = pipeline.TopicDomainBatches
	}
	if cfg.EventTopic == "" {
		cfg.EventTopic = pipeline.TopicDomainWarnings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WarningWorker{
		checker:   checker,
		store:     store,
		publisher: publisher,
		policy:    policy,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker.warning").With(zap.String("variant", cfg.Variant)),
	}, nil
}

// HandleBatch processes the domains of one batch serially. A malformed batch
// is logged and acknowledged.
func (w *WarningWorker) HandleBatch(ctx context.Context, payload []byte) error {
	batch, err := pipeline.ParseDomainBatch(payload)
	if err != nil {
		w.logger.Warn("dropping malformed domain batch", zap.Error(err))
		metrics.ObserveDroppedMessage(w.cfg.BatchTopic)
		return nil
	}
	ctx, span := tracer.Start(ctx, "domain-batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("batch.id", batch.BatchID.String()),
		attribute.Int("batch.size", len(batch.Domains)),
	)
	logger := w.logger.With(zap.String("batch_id", batch.BatchID.String()))
	logger.Info("processing domain batch", zap.Int("domains", len(batch.Domains)))

	warnings := 0
	for _, domain := range batch.Domains {
		if w.processDomain(ctx, logger, domain) {
			warnings++
		}
	}
	logger.Info("domain batch processed",
		zap.Int("domains", len(batch.Domains)),
		zap.Int("warnings", warnings),
	)
	return nil
}

func (w *WarningWorker) processDomain(ctx context.Context, logger *zap.Logger, domain pipeline.Domain) bool {
	logger = logger.With(zap.Int64("domain_id", domain.ID), zap.String("domain", domain.Name))
	hasWarning := w.check(ctx, logger, domain)

	now := w.clock.Now()
	feed := pipeline.WarningFeed{
		DomainID:       domain.ID,
		BrowserVariant: w.cfg.Variant,
		HasWarning:     hasWarning,
		UpdatedAt:      now,
	}
	if err := w.store.Upsert(ctx, feed); err != nil {
		logger.Error("warning feed upsert failed; recording no warning", zap.Error(err))
		feed.HasWarning = false
		if err := w.store.Upsert(ctx, feed); err != nil {
			logger.Error("fallback warning feed upsert failed", zap.Error(err))
		}
		return false
	}
	metrics.ObserveWarningCheck(w.cfg.Variant, hasWarning)
	if !hasWarning {
		return false
	}

	if err := w.publishWarning(ctx, domain, now); err != nil {
		logger.Error("warning event publish failed", zap.Error(err))
		metrics.ObservePublishFailure(w.cfg.EventTopic)
	} else {
		logger.Info("browser warning detected")
	}
	return true
}

// check runs the retried capability call. A panic counts as "no warning".
func (w *WarningWorker) check(ctx context.Context, logger *zap.Logger, domain pipeline.Domain) (hasWarning bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("warning check panicked", zap.Any("panic", r))
			hasWarning = false
		}
	}()
	return retry.Do(ctx, w.policy, "warning-check", func(ctx context.Context) (bool, error) {
		return w.checker.Check(ctx, domain.Name)
	}, false)
}

func (w *WarningWorker) publishWarning(ctx context.Context, domain pipeline.Domain, now time.Time) error {
	payload, err := json.Marshal(pipeline.WarningEvent{
		DomainID:       domain.ID,
		DomainName:     domain.Name,
		HasWarning:     true,
		BrowserVariant: w.cfg.Variant,
		Timestamp:      now,
	})
	if err != nil {
		return fmt.Errorf("marshal warning event: %w", err)
	}
	if err := w.publisher.Publish(ctx, w.cfg.EventTopic, payload); err != nil {
		return fmt.Errorf("publish warning event: %w", err)
	}
	return nil
}
