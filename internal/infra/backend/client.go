// Package backend holds the HTTP plumbing shared by the remote catalog
// adapters (ckan, dkan, dcat): a per-backend circuit breaker, a courtesy
// rate limit per remote host, a response size cap, tracing and metrics.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"udata-harvest/internal/observability/metrics"
	"udata-harvest/internal/observability/tracing"
	"udata-harvest/internal/resilience/circuitbreaker"
)

// UserAgent identifies the harvester to remote catalogs.
const UserAgent = "udata-harvest/1.0 (+https://www.data.gouv.fr)"

// Config controls remote calls of one backend.
type Config struct {
	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxBodySize caps a response body. Larger responses are rejected.
	MaxBodySize int64

	// RatePerHost is the sustained number of requests per second sent to one
	// remote host, with Burst extra requests allowed.
	RatePerHost float64
	Burst       int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		MaxBodySize: 50 << 20,
		RatePerHost: 10,
		Burst:       5,
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.Status)
}

// ErrBodyTooLarge is returned when a response exceeds Config.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body too large")

// Response is a fully read HTTP response.
type Response struct {
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// Client performs GET requests against remote catalogs.
type Client struct {
	backend string
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a client for one backend kind.
func NewClient(backend string, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}

	cbCfg := circuitbreaker.BackendConfig(backend)
	// A missing record or a client error says nothing about remote health.
	cbCfg.IsSuccessful = func(err error) bool {
		var se *StatusError
		return err == nil || (errors.As(err, &se) && se.Status < 500)
	}

	return &Client{
		backend: backend,
		cfg:     cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: tracing.Transport(http.DefaultTransport, backend),
		},
		breaker:  circuitbreaker.New(cbCfg),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get fetches rawURL. endpoint labels the request in metrics. A non-2xx
// status is returned as *StatusError together with the response, so callers
// can inspect API error bodies.
func (c *Client) Get(ctx context.Context, rawURL, accept, endpoint string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if err := c.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := circuitbreaker.Do(c.breaker, func() (*Response, error) {
		return c.do(ctx, rawURL, accept)
	})
	metrics.RecordBackendRequest(c.backend, endpoint, time.Since(start))

	if err != nil {
		metrics.RecordBackendError(c.backend, errorKind(err))
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, rawURL, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, c.cfg.MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBodySize {
		return nil, fmt.Errorf("GET %s: %w (limit %d bytes)", rawURL, ErrBodyTooLarge, c.cfg.MaxBodySize)
	}

	out := &Response{
		URL:         res.Request.URL.String(),
		Status:      res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        body,
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return out, &StatusError{URL: rawURL, Status: res.StatusCode}
	}
	return out, nil
}

func (c *Client) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		limit := rate.Inf
		if c.cfg.RatePerHost > 0 {
			limit = rate.Limit(c.cfg.RatePerHost)
		}
		l = rate.NewLimiter(limit, max(c.cfg.Burst, 1))
		c.limiters[host] = l
	}
	return l
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func errorKind(err error) string {
	var se *StatusError
	switch {
	case circuitbreaker.IsOpenError(err):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrBodyTooLarge):
		return "too_large"
	case errors.As(err, &se) && se.Status == http.StatusNotFound:
		return "not_found"
	case errors.As(err, &se):
		return "status"
	default:
		return "transport"
	}
}
