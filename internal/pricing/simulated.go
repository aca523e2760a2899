package pricing

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// ErrSimulatedFailure is returned for the configured share of simulated calls.
var ErrSimulatedFailure = errors.New("simulated price source failure")

// SimulatedConfig bounds generated prices.
type SimulatedConfig struct {
	Min         float64
	Max         float64
	Places      int32
	FailureRate float64
	Seed        uint64
}

// Simulated returns random prices. It stands in for a real market data
// source in development.
type Simulated struct {
	mu  sync.Mutex
	rng *rand.Rand
	cfg SimulatedConfig
}

var _ pipeline.PriceFetcher = (*Simulated)(nil)

// NewSimulated builds a generator. Seed 0 picks a random seed.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.Max <= cfg.Min {
		cfg.Min, cfg.Max = 1, 1000
	}
	if cfg.Places <= 0 {
		cfg.Places = 2
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Simulated{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), cfg: cfg}
}

// FetchPrice returns a price in [Min, Max).
func (s *Simulated) FetchPrice(ctx context.Context, _ pipeline.TokenRef) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	s.mu.Lock()
	fail := s.rng.Float64() < s.cfg.FailureRate
	v := s.cfg.Min + s.rng.Float64()*(s.cfg.Max-s.cfg.Min)
	s.mu.Unlock()
	if fail {
		return decimal.Decimal{}, ErrSimulatedFailure
	}
	return decimal.NewFromFloat(v).Truncate(s.cfg.Places), nil
}
