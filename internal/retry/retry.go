// Package retry wraps unreliable operations with bounded exponential backoff
// that degrades to a caller supplied default instead of returning an error.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
)

// Defaults applied when a Config field is left zero.
const (
	DefaultMaxAttempts = 3
	DefaultUnit        = time.Second
)

// Config controls the attempt budget and the backoff time unit.
type Config struct {
	MaxAttempts int
	Unit        time.Duration
}

// Policy retries an operation MaxAttempts times, sleeping 2^n units after the
// n-th failed attempt. No sleep follows the final attempt.
type Policy struct {
	maxAttempts int
	unit        time.Duration
	logger      *zap.Logger
	// notify observes each scheduled delay; tests use it to assert the schedule.
	notify func(attempt int, delay time.Duration)
}

// New constructs a Policy.
func New(cfg Config, logger *zap.Logger) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Unit <= 0 {
		cfg.Unit = DefaultUnit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{
		maxAttempts: cfg.MaxAttempts,
		unit:        cfg.Unit,
		logger:      logger.Named("retry"),
	}
}

// MaxAttempts returns the configured attempt budget.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Do runs op until it succeeds or the attempt budget is spent. On exhaustion,
// or when ctx ends during a backoff, it logs and returns fallback.
func Do[T any](ctx context.Context, p *Policy, name string, op func(context.Context) (T, error), fallback T) T {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		return op(ctx)
	}
	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&doublingBackOff{unit: p.unit}),
		backoff.WithMaxTries(uint(p.maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			p.logger.Warn("attempt failed; backing off",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			metrics.ObserveRetryAttempt(name)
			if p.notify != nil {
				p.notify(attempt, delay)
			}
		}),
	)
	if err != nil {
		p.logger.Error("all attempts failed; returning default",
			zap.String("operation", name),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
		metrics.ObserveRetryExhausted(name)
		return fallback
	}
	return result
}

// doublingBackOff yields 2u, 4u, 8u, ... without jitter.
type doublingBackOff struct {
	unit  time.Duration
	shift uint
}

func (b *doublingBackOff) NextBackOff() time.Duration {
	b.shift++
	return b.unit << b.shift
}

func (b *doublingBackOff) Reset() {
	b.shift = 0
}
