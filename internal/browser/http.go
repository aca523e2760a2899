package browser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Getter performs a GET and returns the captured response.
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (httpfetch.Response, error)
}

// HTTPChecker fetches the domain without rendering it and applies Detect to
// the static HTML. It catches server-side warning pages only.
type HTTPChecker struct {
	getter  Getter
	variant Variant
	scheme  string
}

var _ pipeline.WarningChecker = (*HTTPChecker)(nil)

// NewHTTPChecker builds an HTTPChecker. scheme defaults to https.
func NewHTTPChecker(getter Getter, variant Variant, scheme string) (*HTTPChecker, error) {
	if getter == nil {
		return nil, errors.New("http getter is required")
	}
	if scheme == "" {
		scheme = "https"
	}
	return &HTTPChecker{getter: getter, variant: variant, scheme: scheme}, nil
}

// Check fetches the landing page and inspects it.
func (c *HTTPChecker) Check(ctx context.Context, domainName string) (bool, error) {
	header := http.Header{}
	if c.variant.UserAgent != "" {
		header.Set("User-Agent", c.variant.UserAgent)
	}
	resp, err := c.getter.Get(ctx, c.scheme+"://"+domainName, header)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", domainName, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", domainName, err)
	}
	return Detect(SignalsFromHTML(doc)), nil
}
