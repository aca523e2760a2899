// Package pricing provides price fetchers for the price worker.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Getter performs a GET and returns the captured response.
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (httpfetch.Response, error)
}

// HTTPConfig describes an upstream price API. URLTemplate may reference
// {symbol} and {id}; PricePath is a gjson path into the response body and may
// reference the same placeholders.
type HTTPConfig struct {
	URLTemplate string
	PricePath   string
	Header      http.Header
}

// HTTPProvider reads prices from a JSON API.
type HTTPProvider struct {
	getter Getter
	cfg    HTTPConfig
}

var _ pipeline.PriceFetcher = (*HTTPProvider)(nil)

// NewHTTPProvider validates cfg and builds a provider.
func NewHTTPProvider(cfg HTTPConfig, getter Getter) (*HTTPProvider, error) {
	if getter == nil {
		return nil, errors.New("http getter is required")
	}
	if !strings.Contains(cfg.URLTemplate, "://") {
		return nil, fmt.Errorf("invalid price url template %q", cfg.URLTemplate)
	}
	if cfg.PricePath == "" {
		return nil, errors.New("price path is required")
	}
	return &HTTPProvider{getter: getter, cfg: cfg}, nil
}

// FetchPrice issues one GET for token and extracts the price.
func (p *HTTPProvider) FetchPrice(ctx context.Context, token pipeline.TokenRef) (decimal.Decimal, error) {
	target := expand(p.cfg.URLTemplate, token, url.PathEscape)
	resp, err := p.getter.Get(ctx, target, p.cfg.Header)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("fetch price for %s: %w", token.Symbol, err)
	}
	if !resp.OK() {
		return decimal.Decimal{}, fmt.Errorf("fetch price for %s: upstream status %d", token.Symbol, resp.StatusCode)
	}
	path := expand(p.cfg.PricePath, token, escapePath)
	value := gjson.GetBytes(resp.Body, path)
	if !value.Exists() {
		return decimal.Decimal{}, fmt.Errorf("fetch price for %s: %q not found in response", token.Symbol, path)
	}
	return parseValue(value)
}

func parseValue(v gjson.Result) (decimal.Decimal, error) {
	var raw string
	switch v.Type {
	case gjson.Number:
		raw = v.Raw
	case gjson.String:
		raw = strings.TrimSpace(v.Str)
	default:
		return decimal.Decimal{}, fmt.Errorf("price value %s is not numeric", v.Raw)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", raw, err)
	}
	if price.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative price %s", price)
	}
	return price, nil
}

func expand(template string, token pipeline.TokenRef, escape func(string) string) string {
	return strings.NewReplacer(
		"{symbol}", escape(token.Symbol),
		"{symbol_lower}", escape(strings.ToLower(token.Symbol)),
		"{id}", escape(token.ID.String()),
	).Replace(template)
}

// escapePath quotes gjson path metacharacters in a placeholder value.
func escapePath(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
