// Package httpfetch issues single HTTP GETs through a colly collector. The
// source client and the HTTP price provider share it.
package httpfetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/domain-sentinel/internal/ratelimit"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodySize caps the response body in bytes; 0 keeps the colly default.
	MaxBodySize int
}

// Response is the captured result of one GET. Non-2xx statuses are returned
// as responses, not errors.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports whether the status is 2xx.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client performs GETs with per-host rate limiting.
type Client struct {
	base    *colly.Collector
	limiter *ratelimit.Limiter
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter *ratelimit.Limiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	// Clones share the backend, so the timeout is set once here.
	c.SetRequestTimeout(cfg.Timeout)
	return &Client{base: c, limiter: limiter}
}

// Get fetches rawURL. Entries in header replace the collector defaults.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (Response, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return Response{}, err
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := c.base.Clone()

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range header {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("get %s canceled: %w", rawURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return Response{}, fmt.Errorf("get %s: %w", rawURL, err)
		}
		if fetchErr != nil {
			return Response{}, fmt.Errorf("get %s: %w", rawURL, fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          50,
		IdleConnTimeout:       90 * time.Second,
	}
}
