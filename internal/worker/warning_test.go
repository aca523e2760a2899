package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/bus/memory"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
	"github.com/JakeFAU/domain-sentinel/internal/retry"
	memstore "github.com/JakeFAU/domain-sentinel/internal/storage/memory"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func domainBatch(t *testing.T, domains ...pipeline.Domain) []byte {
	t.Helper()
	payload, err := json.Marshal(pipeline.DomainBatch{Domains: domains, BatchID: uuid.New(), Timestamp: testNow})
	require.NoError(t, err)
	return payload
}

func newWarningWorker(t *testing.T, checker pipeline.WarningChecker, store pipeline.WarningFeedStore, pub pipeline.Publisher) *WarningWorker {
	t.Helper()
	policy := retry.New(retry.Config{MaxAttempts: 3, Unit: time.Millisecond}, nil)
	w, err := NewWarningWorker(checker, store, pub, policy, fakeClock{now: testNow}, WarningConfig{Variant: "chrome"}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestWarningWorkerRecordsOutcomesAndEmitsEvents(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(map[string]checkResult{
		"bad.example":  {hasWarning: true},
		"good.example": {hasWarning: false},
	})
	store := memstore.NewWarningFeedStore()
	bus := memory.New(memory.Config{}, nil)
	w := newWarningWorker(t, checker, store, bus)

	payload := domainBatch(t,
		pipeline.Domain{ID: 1, Name: "bad.example", Status: pipeline.DomainStatusActive},
		pipeline.Domain{ID: 2, Name: "good.example", Status: pipeline.DomainStatusActive},
	)
	require.NoError(t, w.HandleBatch(context.Background(), payload))

	bad, ok := store.Get(1, "chrome")
	require.True(t, ok)
	require.True(t, bad.HasWarning)
	good, ok := store.Get(2, "chrome")
	require.True(t, ok)
	require.False(t, good.HasWarning)

	events := bus.Messages(pipeline.TopicDomainWarnings)
	require.Len(t, events, 1)
	event, err := pipeline.ParseWarningEvent(events[0])
	require.NoError(t, err)
	require.Equal(t, pipeline.WarningEvent{
		DomainID:       1,
		DomainName:     "bad.example",
		HasWarning:     true,
		BrowserVariant: "chrome",
		Timestamp:      testNow,
	}, event)

	// Redelivery upserts the same keys.
	require.NoError(t, w.HandleBatch(context.Background(), payload))
	require.Equal(t, 2, store.Len())
}

func TestWarningWorkerExhaustedRetriesStoreFalse(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(map[string]checkResult{"flaky.example": {err: errors.New("net::ERR_TIMED_OUT")}})
	store := memstore.NewWarningFeedStore()
	pub := newFakePublisher()
	w := newWarningWorker(t, checker, store, pub)

	require.NoError(t, w.HandleBatch(context.Background(), domainBatch(t,
		pipeline.Domain{ID: 7, Name: "flaky.example", Status: pipeline.DomainStatusActive},
	)))

	require.Equal(t, 3, checker.callsFor("flaky.example"))
	feed, ok := store.Get(7, "chrome")
	require.True(t, ok)
	require.False(t, feed.HasWarning)
	require.Empty(t, pub.on(pipeline.TopicDomainWarnings))
}

func TestWarningWorkerPanicStoresFalseAndContinues(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(map[string]checkResult{
		"crash.example": {panics: true},
		"bad.example":   {hasWarning: true},
	})
	store := memstore.NewWarningFeedStore()
	pub := newFakePublisher()
	w := newWarningWorker(t, checker, store, pub)

	require.NoError(t, w.HandleBatch(context.Background(), domainBatch(t,
		pipeline.Domain{ID: 1, Name: "crash.example", Status: pipeline.DomainStatusActive},
		pipeline.Domain{ID: 2, Name: "bad.example", Status: pipeline.DomainStatusPending},
	)))

	crashed, ok := store.Get(1, "chrome")
	require.True(t, ok)
	require.False(t, crashed.HasWarning)
	require.Equal(t, 1, checker.callsFor("crash.example"))

	events := pub.on(pipeline.TopicDomainWarnings)
	require.Len(t, events, 1)
	require.Contains(t, string(events[0]), `"domainName":"bad.example"`)
}

func TestWarningWorkerUpsertFailureRecordsNoWarning(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(map[string]checkResult{"bad.example": {hasWarning: true}})
	store := &flakyWarningStore{failures: 1}
	pub := newFakePublisher()
	w := newWarningWorker(t, checker, store, pub)

	require.NoError(t, w.HandleBatch(context.Background(), domainBatch(t,
		pipeline.Domain{ID: 1, Name: "bad.example", Status: pipeline.DomainStatusActive},
	)))

	attempts, stored := store.snapshot()
	require.Len(t, attempts, 2)
	require.True(t, attempts[0].HasWarning)
	require.Len(t, stored, 1)
	require.Equal(t, int64(1), stored[0].DomainID)
	require.Equal(t, "chrome", stored[0].BrowserVariant)
	require.False(t, stored[0].HasWarning)
	require.Empty(t, pub.on(pipeline.TopicDomainWarnings))
}

func TestWarningWorkerSkipsEventWhenEveryUpsertFails(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(map[string]checkResult{"bad.example": {hasWarning: true}})
	store := &flakyWarningStore{failures: 10}
	pub := newFakePublisher()
	w := newWarningWorker(t, checker, store, pub)

	require.NoError(t, w.HandleBatch(context.Background(), domainBatch(t,
		pipeline.Domain{ID: 1, Name: "bad.example", Status: pipeline.DomainStatusActive},
	)))

	attempts, stored := store.snapshot()
	require.Len(t, attempts, 2)
	require.Empty(t, stored)
	require.Empty(t, pub.on(pipeline.TopicDomainWarnings))
}

func TestWarningWorkerDropsMalformedBatch(t *testing.T) {
	t.Parallel()

	checker := newFakeChecker(nil)
	store := memstore.NewWarningFeedStore()
	w := newWarningWorker(t, checker, store, newFakePublisher())

	require.NoError(t, w.HandleBatch(context.Background(), []byte(`{"domains":[{"id":0}]}`)))
	require.NoError(t, w.HandleBatch(context.Background(), []byte(`not json`)))
	require.Zero(t, store.Len())
}

func TestNewWarningWorkerValidates(t *testing.T) {
	t.Parallel()

	policy := retry.New(retry.Config{}, nil)
	store := memstore.NewWarningFeedStore()
	_, err := NewWarningWorker(nil, store, newFakePublisher(), policy, fakeClock{}, WarningConfig{Variant: "chrome"}, nil)
	require.Error(t, err)
	_, err = NewWarningWorker(newFakeChecker(nil), store, newFakePublisher(), policy, fakeClock{}, WarningConfig{}, nil)
	require.Error(t, err)

	w, err := NewWarningWorker(newFakeChecker(nil), store, newFakePublisher(), policy, fakeClock{}, WarningConfig{Variant: "webkit"}, nil)
	require.NoError(t, err)
	require.Equal(t, pipeline.TopicDomainWarnings, w.cfg.EventTopic)
}
