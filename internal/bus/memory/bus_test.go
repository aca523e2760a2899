package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type collector struct {
	mu   sync.Mutex
	seen []string
}

func (c *collector) handle(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, string(payload))
	return nil
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func TestBusGroupsHaveIndependentOffsets(t *testing.T) {
	t.Parallel()

	bus := New(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, "domain-batches", []byte("one")))

	chrome, webkit := &collector{}, &collector{}
	go func() { _ = bus.Subscribe(ctx, "domain-batches", "chrome", chrome.handle) }()
	go func() { _ = bus.Subscribe(ctx, "domain-batches", "webkit", webkit.handle) }()

	require.NoError(t, bus.Publish(ctx, "domain-batches", []byte("two")))

	want := []string{"one", "two"}
	require.Eventually(t, func() bool {
		return len(chrome.snapshot()) == 2 && len(webkit.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, want, chrome.snapshot())
	require.Equal(t, want, webkit.snapshot())
}

func TestBusSharesOffsetWithinGroup(t *testing.T) {
	t.Parallel()

	bus := New(Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shared := &collector{}
	for range 3 {
		go func() { _ = bus.Subscribe(ctx, "token-batches", "updater", shared.handle) }()
	}
	for _, p := range []string{"a", "b", "c", "d"} {
		require.NoError(t, bus.Publish(ctx, "token-batches", []byte(p)))
	}

	require.Eventually(t, func() bool { return len(shared.snapshot()) == 4 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.ElementsMatch(t, []string{"a", "b", "c", "d"}, shared.snapshot())
}

func TestBusRedeliversOnHandlerError(t *testing.T) {
	t.Parallel()

	bus := New(Config{MaxDeliveries: 3, RedeliveryDelay: time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	handler := func(context.Context, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	}
	go func() { _ = bus.Subscribe(ctx, "t", "g", handler) }()
	require.NoError(t, bus.Publish(ctx, "t", []byte("x")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)
}

func TestBusDropsAfterMaxDeliveries(t *testing.T) {
	t.Parallel()

	bus := New(Config{MaxDeliveries: 2}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	deliveries := map[string]int{}
	handler := func(_ context.Context, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		deliveries[string(p)]++
		if string(p) == "poison" {
			return errors.New("always fails")
		}
		return nil
	}
	go func() { _ = bus.Subscribe(ctx, "t", "g", handler) }()
	require.NoError(t, bus.Publish(ctx, "t", []byte("poison")))
	require.NoError(t, bus.Publish(ctx, "t", []byte("ok")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries["ok"] == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, deliveries["poison"])
}

func TestBusSubscribeStopsOnCancelAndClose(t *testing.T) {
	t.Parallel()

	bus := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- bus.Subscribe(ctx, "t", "g", (&collector{}).handle) }()
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}

	go func() { errCh <- bus.Subscribe(context.Background(), "t", "g", (&collector{}).handle) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, bus.Close())
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after close")
	}
	require.ErrorIs(t, bus.Publish(context.Background(), "t", []byte("late")), ErrClosed)
}

func TestBusStopsDeliveringAfterCancel(t *testing.T) {
	t.Parallel()

	bus := New(Config{}, zap.NewNop())
	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Publish(context.Background(), "token-batches", []byte(p)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	seen := &collector{}
	handler := func(ctx context.Context, payload []byte) error {
		cancel()
		return seen.handle(ctx, payload)
	}
	require.NoError(t, bus.Subscribe(ctx, "token-batches", "updater", handler))
	require.Equal(t, []string{"a"}, seen.snapshot())

	// The remaining messages stay queued for the group.
	rest := &collector{}
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	go func() { _ = bus.Subscribe(ctx2, "token-batches", "updater", rest.handle) }()
	require.Eventually(t, func() bool { return len(rest.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"b", "c"}, rest.snapshot())
}

func TestBusMessagesReturnsCopies(t *testing.T) {
	t.Parallel()

	bus := New(Config{}, nil)
	require.NoError(t, bus.Publish(context.Background(), "t", []byte("v1")))
	msgs := bus.Messages("t")
	msgs[0][0] = 'x'
	require.Equal(t, "v1", string(bus.Messages("t")[0]))
	require.Nil(t, bus.Messages("missing"))
}
