// Package schemacatalog downloads the published schema catalog document
// used to validate resource schema references.
package schemacatalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"udata-harvest/internal/observability/tracing"
	"udata-harvest/internal/resilience/circuitbreaker"
	"udata-harvest/internal/resilience/retry"
)

// DefaultURL is the catalog published by schema.data.gouv.fr.
const DefaultURL = "https://schema.data.gouv.fr/schemas/schemas.json"

const maxCatalogSize = 10 << 20

// Fetcher implements normalize.CatalogFetcher over HTTP.
type Fetcher struct {
	url     string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

// New creates a fetcher for the catalog at url.
func New(url string, timeout time.Duration) *Fetcher {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		url:     url,
		client:  &http.Client{Timeout: timeout, Transport: tracing.Transport(nil, "schema-catalog")},
		breaker: circuitbreaker.New(circuitbreaker.SchemaCatalogConfig()),
		retry:   retry.SchemaCatalogConfig(),
	}
}

// FetchCatalog returns the raw catalog document.
func (f *Fetcher) FetchCatalog(ctx context.Context) ([]byte, error) {
	body, err := retry.Do(ctx, f.retry, func() ([]byte, error) {
		return circuitbreaker.Do(f.breaker, func() ([]byte, error) {
			return f.get(ctx)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetch schema catalog: %w", err)
	}
	return body, nil
}

func (f *Fetcher) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxCatalogSize {
		return nil, fmt.Errorf("catalog larger than %d bytes", maxCatalogSize)
	}
	return body, nil
}
