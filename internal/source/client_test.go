package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/domain-sentinel/internal/httpfetch"
	"github.com/JakeFAU/domain-sentinel/internal/pipeline"
)

const validRecord = `{
  "id": 17,
  "name": "shop.example",
  "network_status": "active",
  "default_campaign_id": 3,
  "state": "active",
  "catch_not_found": false,
  "is_ssl": true,
  "notes": "",
  "error_description": "",
  "ssl_status": "issued",
  "ssl_data": {"issuer": "R3"},
  "ssl_redirect": true,
  "allow_indexing": false,
  "check_retries": 3,
  "group_id": 2,
  "admin_dashboard": false,
  "registrar": "namecheap",
  "external_id": "",
  "cloudflare_proxy": true,
  "cloudflare_id": "cf-1",
  "dns_provider": "cloudflare",
  "campaigns_count": 4,
  "default_campaign": "spring",
  "group": "retail",
  "error_solution": "",
  "status": "active",
  "created_at": "2024-01-02T03:04:05Z",
  "updated_at": "2024-02-02T03:04:05Z",
  "next_check_at": "2024-03-02T03:04:05Z"
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL + "/admin_api/v1/domains", APIKey: "secret"}, httpfetch.New(httpfetch.Config{Timeout: time.Second}, nil), nil)
	require.NoError(t, err)
	return c
}

func TestFetchDomainsDecodesValidPayload(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/admin_api/v1/domains", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte("[" + validRecord + "]"))
	})

	got, err := c.FetchDomains(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(17), got[0].ID)
	require.Equal(t, "shop.example", got[0].Name)
	require.Equal(t, pipeline.DomainStatusActive, got[0].Status)
	require.JSONEq(t, `{"issuer":"R3"}`, string(got[0].SSLData))
	require.Equal(t, time.Date(2024, 3, 2, 3, 4, 5, 0, time.UTC), got[0].NextCheckAt)
}

func TestFetchDomainsAcceptsEmptyList(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	got, err := c.FetchDomains(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestFetchDomainsRejectsSchemaViolations(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown field":   strings.Replace(validRecord, `"id": 17,`, `"id": 17, "extra": 1,`, 1),
		"missing field":   strings.Replace(validRecord, `"group": "retail",`, ``, 1),
		"bad enum":        strings.Replace(validRecord, `"ssl_status": "issued"`, `"ssl_status": "revoked"`, 1),
		"bad date":        strings.Replace(validRecord, `"2024-01-02T03:04:05Z"`, `"yesterday"`, 1),
		"null name":       strings.Replace(validRecord, `"name": "shop.example"`, `"name": null`, 1),
		"non-positive id": strings.Replace(validRecord, `"id": 17`, `"id": 0`, 1),
	}
	for name, record := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("[" + record + "]"))
			})
			_, err := c.FetchDomains(context.Background())
			require.ErrorIs(t, err, ErrInvalidPayload)
		})
	}

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"domains": []}`))
	})
	_, err := c.FetchDomains(context.Background())
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestFetchDomainsMapsHTTPErrors(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"Forbidden","message":"invalid api key"}`))
	})
	_, err := c.FetchDomains(context.Background())
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	require.Equal(t, "invalid api key", httpErr.Message)

	c = newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err = c.FetchDomains(context.Background())
	require.True(t, errors.As(err, &httpErr))
	require.Equal(t, "request failed with status 502", httpErr.Message)
}

func TestNewValidatesEndpoint(t *testing.T) {
	t.Parallel()

	getter := httpfetch.New(httpfetch.Config{}, nil)
	_, err := New(Config{Endpoint: "not a url"}, getter, nil)
	require.Error(t, err)
	_, err = New(Config{}, nil, nil)
	require.Error(t, err)

	c, err := New(Config{}, getter, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultEndpoint+"?api_key="+DefaultAPIKey, c.url)
}
