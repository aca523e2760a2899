// Package ratelimit throttles outbound HTTP calls per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/domain-sentinel/internal/metrics"
)

// Config sets the default bucket and optional per-host overrides.
// A non-positive RPS disables limiting.
type Config struct {
	RPS   float64            `mapstructure:"rps"`
	Burst int                `mapstructure:"burst"`
	Hosts map[string]float64 `mapstructure:"hosts"`
}

// Limiter keeps one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	hosts    map[string]rate.Limit
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     toLimit(cfg.RPS),
		burst:    max(cfg.Burst, 1),
		hosts:    make(map[string]rate.Limit, len(cfg.Hosts)),
	}
	for host, rps := range cfg.Hosts {
		l.hosts[strings.ToLower(host)] = toLimit(rps)
	}
	return l
}

// Wait blocks until rawURL's host has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)
	if limiter.Limit() == rate.Inf {
		return nil
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		r, override := l.hosts[host]
		if !override {
			r = l.rate
		}
		limiter = rate.NewLimiter(r, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
