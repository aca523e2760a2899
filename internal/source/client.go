// Package source pulls the authoritative domain list from the admin API.
package source

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

// Defaults used when the configuration leaves them empty.
const (
	DefaultEndpoint = "https://hor.info/admin_api/v1/domains"
	DefaultAPIKey   = "api-key"
)

const schemaURL = "https://sentinel.local/schemas/domains.json"

//go:embed domains.schema.json
var domainsSchema []byte

// ErrInvalidPayload marks a 2xx body that does not match the domain schema.
var ErrInvalidPayload = errors.New("invalid domain payload")

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("source returned %d: %s", e.StatusCode, e.Message)
}

// Getter performs a GET and returns the captured response.
type Getter interface {
	Get(ctx context.Context, rawURL string, header http.Header) (httpfetch.Response, error)
}

// Config locates the admin API.
type Config struct {
	Endpoint string
	APIKey   string
}

// Client implements pipeline.SourceClient.
type Client struct {
	getter Getter
	url    string
	schema *jsonschema.Schema
	logger *zap.Logger
}

var _ pipeline.SourceClient = (*Client)(nil)

// New builds a Client and compiles the embedded schema.
func New(cfg Config, getter Getter, logger *zap.Logger) (*Client, error) {
	if getter == nil {
		return nil, errors.New("http getter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	key := cfg.APIKey
	if key == "" {
		key = DefaultAPIKey
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid source endpoint %q", endpoint)
	}
	q := u.Query()
	q.Set("api_key", key)
	u.RawQuery = q.Encode()

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Client{getter: getter, url: u.String(), schema: schema, logger: logger.Named("source")}, nil
}

// FetchDomains returns the full remote list.
func (c *Client) FetchDomains(ctx context.Context) ([]pipeline.DomainRecord, error) {
	resp, err := c.getter.Get(ctx, c.url, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return nil, fmt.Errorf("fetch domains: %w", err)
	}
	if !resp.OK() {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}
	records, err := c.decode(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("domains fetched", zap.Int("count", len(records)), zap.Duration("duration", resp.Duration))
	return records, nil
}

func (c *Client) decode(body []byte) ([]pipeline.DomainRecord, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	var records []pipeline.DomainRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if records == nil {
		records = []pipeline.DomainRecord{}
	}
	return records, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(domainsSchema))
	if err != nil {
		return nil, fmt.Errorf("parse domain schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	c.AssertFormat()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add domain schema: %w", err)
	}
	schema, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile domain schema: %w", err)
	}
	return schema, nil
}

func errorMessage(resp httpfetch.Response) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(resp.Body)); text != "" && len(text) <= 200 {
		return text
	}
	return fmt.Sprintf("request failed with status %d", resp.StatusCode)
}
