// Package scheduler runs periodic jobs on tickers with an explicit overlap policy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
)

// Task is one run of a scheduled job.
type Task func(ctx context.Context) error

// Job describes a periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// RunOnStart fires the task once before the first tick.
	RunOnStart bool
	// MaxConcurrent bounds overlapping runs. A tick that finds every slot busy
	// is skipped. Zero means 1, which is skip-if-running.
	MaxConcurrent int
	Task          Task
}

// Ticker is the subset of time.Ticker used by the scheduler.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates a Ticker for an interval.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Scheduler drives a set of jobs until its context ends.
type Scheduler struct {
	jobs      []Job
	newTicker TickerFactory
	logger    *zap.Logger
}

// New validates jobs and creates a Scheduler. newTicker may be nil.
func New(jobs []Job, newTicker TickerFactory, logger *zap.Logger) (*Scheduler, error) {
	seen := make(map[string]struct{}, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		if job.Name == "" {
			return nil, errors.New("job name is required")
		}
		if _, dup := seen[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", job.Name)
		}
		seen[job.Name] = struct{}{}
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %q: interval must be > 0", job.Name)
		}
		if job.Task == nil {
			return nil, fmt.Errorf("job %q: task is required", job.Name)
		}
		if job.MaxConcurrent <= 0 {
			job.MaxConcurrent = 1
		}
	}
	if newTicker == nil {
		newTicker = NewRealTicker
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:      jobs,
		newTicker: newTicker,
		logger:    logger.Named("scheduler"),
	}, nil
}

// Run blocks until ctx is canceled, then waits for in-flight runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(job)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With(zap.String("job", job.Name))
	slots := make(chan struct{}, job.MaxConcurrent)
	var running sync.WaitGroup
	defer running.Wait()

	fire := func() {
		select {
		case slots <- struct{}{}:
		default:
			logger.Warn("previous run still in progress; skipping tick")
			metrics.ObserveSchedulerSkip(job.Name)
			return
		}
		running.Add(1)
		go func() {
			defer running.Done()
			defer func() { <-slots }()
			s.execute(ctx, logger, job)
		}()
	}

	ticker := s.newTicker(job.Interval)
	defer ticker.Stop()
	logger.Info("job scheduled", zap.Duration("interval", job.Interval), zap.Int("max_concurrent", job.MaxConcurrent))

	if job.RunOnStart {
		fire()
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopping")
			return
		case <-ticker.C():
			fire()
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, logger *zap.Logger, job Job) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", zap.Any("panic", rec))
		}
	}()
	start := time.Now()
	if err := job.Task(ctx); err != nil {
		logger.Error("job run failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	logger.Debug("job run finished", zap.Duration("duration", time.Since(start)))
}
