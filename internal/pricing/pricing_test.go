package pricing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

func newHTTPProvider(t *testing.T, path string, handler http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewHTTPProvider(HTTPConfig{
		URLTemplate: srv.URL + "/price?symbol={symbol}&id={id}",
		PricePath:   path,
		Header:      http.Header{"X-Api-Key": {"k"}},
	}, httpfetch.New(httpfetch.Config{Timeout: time.Second}, nil))
	require.NoError(t, err)
	return p
}

func TestHTTPProviderExtractsPrice(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("0190a4c2-7c1e-7a10-8000-000000000001")
	p := newHTTPProvider(t, "data.{symbol}.usd", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ETH", r.URL.Query().Get("symbol"))
		require.Equal(t, id.String(), r.URL.Query().Get("id"))
		require.Equal(t, "k", r.Header.Get("X-Api-Key"))
		_, _ = w.Write([]byte(`{"data":{"ETH":{"usd":3120.123456789012345678}}}`))
	})

	price, err := p.FetchPrice(context.Background(), pipeline.TokenRef{ID: id, Symbol: "ETH"})
	require.NoError(t, err)
	require.Equal(t, "3120.123456789012345678", price.String())
}

func TestHTTPProviderAcceptsStringPrices(t *testing.T) {
	t.Parallel()

	p := newHTTPProvider(t, "price", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"price":" 0.000123 "}`))
	})
	price, err := p.FetchPrice(context.Background(), pipeline.TokenRef{Symbol: "PEPE"})
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("0.000123")))
}

func TestHTTPProviderErrors(t *testing.T) {
	t.Parallel()

	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		},
		"missing": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"other":1}`))
		},
		"not numeric": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"price":true}`))
		},
		"negative": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"price":-1}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			p := newHTTPProvider(t, "price", handler)
			_, err := p.FetchPrice(context.Background(), pipeline.TokenRef{Symbol: "X"})
			require.Error(t, err)
		})
	}
}

func TestNewHTTPProviderValidates(t *testing.T) {
	t.Parallel()

	getter := httpfetch.New(httpfetch.Config{}, nil)
	_, err := NewHTTPProvider(HTTPConfig{URLTemplate: "nope", PricePath: "p"}, getter)
	require.Error(t, err)
	_, err = NewHTTPProvider(HTTPConfig{URLTemplate: "https://x/{symbol}"}, getter)
	require.Error(t, err)
	_, err = NewHTTPProvider(HTTPConfig{URLTemplate: "https://x/{symbol}", PricePath: "p"}, nil)
	require.Error(t, err)
}

func TestEscapePath(t *testing.T) {
	t.Parallel()

	require.Equal(t, `BTC\.b`, escapePath("BTC.b"))
	require.Equal(t, "ETH", escapePath("ETH"))
}

func TestSimulatedStaysInRange(t *testing.T) {
	t.Parallel()

	s := NewSimulated(SimulatedConfig{Min: 10, Max: 20, Places: 4, Seed: 42})
	lo, hi := decimal.NewFromInt(10), decimal.NewFromInt(20)
	for range 200 {
		p, err := s.FetchPrice(context.Background(), pipeline.TokenRef{})
		require.NoError(t, err)
		require.True(t, p.GreaterThanOrEqual(lo), p.String())
		require.True(t, p.LessThan(hi), p.String())
		require.LessOrEqual(t, -p.Exponent(), int32(4))
	}
}

func TestSimulatedFailures(t *testing.T) {
	t.Parallel()

	s := NewSimulated(SimulatedConfig{FailureRate: 1, Seed: 7})
	_, err := s.FetchPrice(context.Background(), pipeline.TokenRef{})
	require.ErrorIs(t, err, ErrSimulatedFailure)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSimulated(SimulatedConfig{}).FetchPrice(ctx, pipeline.TokenRef{})
	require.ErrorIs(t, err, context.Canceled)
}
