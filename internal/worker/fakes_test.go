package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type checkResult struct {
	hasWarning bool
	err        error
	panics     bool
}

type fakeChecker struct {
	mu      sync.Mutex
	results map[string]checkResult
	calls   map[string]int
}

func newFakeChecker(results map[string]checkResult) *fakeChecker {
	return &fakeChecker{results: results, calls: make(map[string]int)}
}

func (c *fakeChecker) Check(_ context.Context, name string) (bool, error) {
	c.mu.Lock()
	c.calls[name]++
	res := c.results[name]
	c.mu.Unlock()
	if res.panics {
		panic("renderer crashed")
	}
	return res.hasWarning, res.err
}

func (c *fakeChecker) callsFor(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// flakyWarningStore fails the first failures writes and records every attempt.
type flakyWarningStore struct {
	mu       sync.Mutex
	failures int
	attempts []pipeline.WarningFeed
	stored   []pipeline.WarningFeed
}

func (s *flakyWarningStore) Upsert(_ context.Context, feed pipeline.WarningFeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, feed)
	if len(s.attempts) <= s.failures {
		return errors.New("db down")
	}
	s.stored = append(s.stored, feed)
	return nil
}

func (s *flakyWarningStore) snapshot() (attempts, stored []pipeline.WarningFeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pipeline.WarningFeed(nil), s.attempts...), append([]pipeline.WarningFeed(nil), s.stored...)
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	messages map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[string][][]byte)}
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages[topic] = append(p.messages[topic], append([]byte(nil), payload...))
	return nil
}

func (p *fakePublisher) on(topic string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[topic]
}

type priceResult struct {
	price  string
	err    error
	panics bool
	block  bool
}

type fakePriceFetcher struct {
	results map[string]priceResult
}

func (f fakePriceFetcher) FetchPrice(ctx context.Context, token pipeline.TokenRef) (decimal.Decimal, error) {
	res := f.results[token.Symbol]
	switch {
	case res.panics:
		panic("provider crashed")
	case res.block:
		<-ctx.Done()
		return decimal.Zero, ctx.Err()
	case res.err != nil:
		return decimal.Zero, res.err
	}
	return decimal.RequireFromString(res.price), nil
}

// scriptedFeed wraps a real feed store and injects failures per call.
type scriptedFeed struct {
	pipeline.FeedStore
	createErr  error
	processErr error
}

func (f *scriptedFeed) CreatePending(ctx context.Context, entries []pipeline.FeedEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.FeedStore.CreatePending(ctx, entries)
}

func (f *scriptedFeed) MarkProcessing(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if f.processErr != nil {
		return f.processErr
	}
	return f.FeedStore.MarkProcessing(ctx, ids, at)
}
