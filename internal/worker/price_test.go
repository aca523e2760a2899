package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	idgen "github.com/JakeFAU/domain-sentinel/internal/id/uuid"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
	memstore "github.com/JakeFAU/domain-sentinel/internal/storage/memory"
)

func tokenBatch(t *testing.T, refs ...pipeline.TokenRef) []byte {
	t.Helper()
	payload, err := pipeline.TokenBatch{Tokens: refs, BatchID: uuid.New(), Timestamp: testNow}.MarshalJSON()
	require.NoError(t, err)
	return payload
}

func newPriceWorker(t *testing.T, fetcher pipeline.PriceFetcher, feed pipeline.FeedStore, pub pipeline.Publisher, timeout time.Duration) *PriceWorker {
	t.Helper()
	w, err := NewPriceWorker(fetcher, feed, pub, idgen.New(), fakeClock{now: testNow},
		PriceConfig{FetchTimeout: timeout}, zap.NewNop())
	require.NoError(t, err)
	return w
}

func entriesBySymbol(entries []pipeline.FeedEntry) map[string]pipeline.FeedEntry {
	out := make(map[string]pipeline.FeedEntry, len(entries))
	for _, e := range entries {
		out[e.Symbol] = e
	}
	return out
}

func TestPriceWorkerIsolatesPartialFailures(t *testing.T) {
	t.Parallel()

	eth := pipeline.Token{ID: uuid.New(), Price: decimal.NewFromInt(1800)}
	sol := pipeline.Token{ID: uuid.New(), Price: decimal.NewFromInt(140)}
	tokens := memstore.NewTokenStore(eth, sol)
	feed := memstore.NewFeedStore(tokens)
	pub := newFakePublisher()
	fetcher := fakePriceFetcher{results: map[string]priceResult{
		"ETH": {price: "1850.25"},
		"BTC": {err: errors.New("upstream 502")},
		"SOL": {price: "151.5"},
	}}
	w := newPriceWorker(t, fetcher, feed, pub, time.Second)

	require.NoError(t, w.HandleBatch(context.Background(), tokenBatch(t,
		pipeline.TokenRef{ID: eth.ID, Symbol: "ETH", OldPrice: decimal.NewFromInt(1800)},
		pipeline.TokenRef{ID: uuid.New(), Symbol: "BTC", OldPrice: decimal.NewFromInt(60000)},
		pipeline.TokenRef{ID: sol.ID, Symbol: "SOL", OldPrice: decimal.NewFromInt(140)},
	)))

	got := entriesBySymbol(feed.Entries())
	require.Len(t, got, 3)
	require.Equal(t, pipeline.FeedStatusProcessed, got["ETH"].Status)
	require.True(t, got["ETH"].NewPrice.Equal(decimal.RequireFromString("1850.25")))
	require.Nil(t, got["ETH"].Error)
	require.Equal(t, pipeline.FeedStatusFailed, got["BTC"].Status)
	require.Nil(t, got["BTC"].NewPrice)
	require.NotNil(t, got["BTC"].Error)
	require.Equal(t, "upstream 502", *got["BTC"].Error)
	require.Equal(t, pipeline.FeedStatusProcessed, got["SOL"].Status)
	require.True(t, got["SOL"].NewPrice.Equal(decimal.RequireFromString("151.5")))
	require.Nil(t, got["SOL"].Error)

	listed, err := tokens.List(context.Background(), 0, 10)
	require.NoError(t, err)
	prices := make(map[uuid.UUID]decimal.Decimal, len(listed))
	for _, tok := range listed {
		prices[tok.ID] = tok.Price
	}
	require.True(t, prices[eth.ID].Equal(decimal.RequireFromString("1850.25")))
	require.True(t, prices[sol.ID].Equal(decimal.RequireFromString("151.5")))

	events := pub.on(pipeline.TopicTokenPriceUpdates)
	require.Len(t, events, 2)
	updated := make(map[uuid.UUID]pipeline.PriceUpdateEvent, len(events))
	for _, raw := range events {
		event, err := pipeline.ParsePriceUpdateEvent(raw)
		require.NoError(t, err)
		updated[event.TokenID] = event
	}
	require.Contains(t, updated, eth.ID)
	require.Contains(t, updated, sol.ID)
	require.True(t, updated[eth.ID].OldPrice.Equal(decimal.NewFromInt(1800)))
	require.True(t, updated[eth.ID].NewPrice.Equal(decimal.RequireFromString("1850.25")))
}

func TestPriceWorkerRecoversPanicsAndTimeouts(t *testing.T) {
	t.Parallel()

	feed := memstore.NewFeedStore(nil)
	pub := newFakePublisher()
	fetcher := fakePriceFetcher{results: map[string]priceResult{
		"CRASH": {panics: true},
		"SLOW":  {block: true},
		"OK":    {price: "1"},
	}}
	w := newPriceWorker(t, fetcher, feed, pub, 20*time.Millisecond)

	require.NoError(t, w.HandleBatch(context.Background(), tokenBatch(t,
		pipeline.TokenRef{ID: uuid.New(), Symbol: "CRASH"},
		pipeline.TokenRef{ID: uuid.New(), Symbol: "SLOW"},
		pipeline.TokenRef{ID: uuid.New(), Symbol: "OK"},
	)))

	got := entriesBySymbol(feed.Entries())
	require.Equal(t, pipeline.FeedStatusFailed, got["CRASH"].Status)
	require.Contains(t, *got["CRASH"].Error, "panicked")
	require.Equal(t, pipeline.FeedStatusFailed, got["SLOW"].Status)
	require.Contains(t, *got["SLOW"].Error, context.DeadlineExceeded.Error())
	require.Equal(t, pipeline.FeedStatusProcessed, got["OK"].Status)
	require.Len(t, pub.on(pipeline.TopicTokenPriceUpdates), 1)
}

func TestPriceWorkerPublishFailureKeepsProcessed(t *testing.T) {
	t.Parallel()

	feed := memstore.NewFeedStore(nil)
	pub := newFakePublisher()
	pub.err = errors.New("broker unavailable")
	w := newPriceWorker(t, fakePriceFetcher{results: map[string]priceResult{"ETH": {price: "2"}}}, feed, pub, time.Second)

	require.NoError(t, w.HandleBatch(context.Background(), tokenBatch(t,
		pipeline.TokenRef{ID: uuid.New(), Symbol: "ETH"},
	)))
	entries := feed.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, pipeline.FeedStatusProcessed, entries[0].Status)
}

func TestPriceWorkerCreatePendingFailureRequestsRedelivery(t *testing.T) {
	t.Parallel()

	inner := memstore.NewFeedStore(nil)
	feed := &scriptedFeed{FeedStore: inner, createErr: errors.New("insert failed")}
	pub := newFakePublisher()
	w := newPriceWorker(t, fakePriceFetcher{results: map[string]priceResult{"ETH": {price: "2"}}}, feed, pub, time.Second)

	err := w.HandleBatch(context.Background(), tokenBatch(t, pipeline.TokenRef{ID: uuid.New(), Symbol: "ETH"}))
	require.ErrorContains(t, err, "insert failed")
	require.Empty(t, inner.Entries())
	require.Empty(t, pub.on(pipeline.TopicTokenPriceUpdates))
}

func TestPriceWorkerMarkProcessingFailureAbandonsBatch(t *testing.T) {
	t.Parallel()

	inner := memstore.NewFeedStore(nil)
	feed := &scriptedFeed{FeedStore: inner, processErr: errors.New("update failed")}
	pub := newFakePublisher()
	w := newPriceWorker(t, fakePriceFetcher{results: map[string]priceResult{"ETH": {price: "2"}}}, feed, pub, time.Second)

	require.NoError(t, w.HandleBatch(context.Background(), tokenBatch(t, pipeline.TokenRef{ID: uuid.New(), Symbol: "ETH"})))
	entries := inner.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, pipeline.FeedStatusPending, entries[0].Status)
	require.Empty(t, pub.on(pipeline.TopicTokenPriceUpdates))
}

func TestPriceWorkerRedeliveryCreatesNewRows(t *testing.T) {
	t.Parallel()

	feed := memstore.NewFeedStore(nil)
	w := newPriceWorker(t, fakePriceFetcher{results: map[string]priceResult{"ETH": {price: "2"}}}, feed, newFakePublisher(), time.Second)
	payload := tokenBatch(t, pipeline.TokenRef{ID: uuid.New(), Symbol: "ETH"})

	require.NoError(t, w.HandleBatch(context.Background(), payload))
	require.NoError(t, w.HandleBatch(context.Background(), payload))
	entries := feed.Entries()
	require.Len(t, entries, 2)
	require.NotEqual(t, entries[0].ID, entries[1].ID)
	for _, e := range entries {
		require.Equal(t, pipeline.FeedStatusProcessed, e.Status)
	}
}

func TestPriceWorkerDropsMalformedBatch(t *testing.T) {
	t.Parallel()

	feed := memstore.NewFeedStore(nil)
	w := newPriceWorker(t, fakePriceFetcher{}, feed, newFakePublisher(), time.Second)
	require.NoError(t, w.HandleBatch(context.Background(), []byte(`{"tokens":[{"id":"nope"}]}`)))
	require.Empty(t, feed.Entries())
}
