// Package client provides the HTTP client for the Sou-Yun open poem API with
// rate limiting, optional response caching, and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/souyun-harvester/pkg/cache"
	"github.com/Sternrassler/souyun-harvester/pkg/poem"
	"github.com/Sternrassler/souyun-harvester/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for poem API requests.
var (
	souyunRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souyun_requests_total",
		Help: "Total poem API requests by status",
	}, []string{"status"})

	souyunRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "souyun_request_duration_seconds",
		Help:    "Poem API request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	souyunErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "souyun_errors_total",
		Help: "Total poem API errors by class",
	}, []string{"class"})
)

const (
	// DefaultBaseURL is the public Sou-Yun API host.
	DefaultBaseURL = "https://api.sou-yun.cn"

	// PoemEndpoint is the path of the keyed poem lookup.
	PoemEndpoint = "/open/poem"

	// AcceptHeader matches what the Sou-Yun web client sends.
	AcceptHeader = "application/json, text/javascript, */*; q=0.01"

	// maxBodyBytes caps how much of a response body is read.
	maxBodyBytes = 4 << 20
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents a body that is not a valid poem envelope.
	ErrorClassDecode ErrorClass = "decode"
)

// Client fetches poems by ID.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	cache      *cache.Manager
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API host, e.g. "https://api.sou-yun.cn"
	BaseURL string

	// UserAgent header sent with every request
	UserAgent string

	// Dynasty and Type are the fixed category query parameters
	Dynasty string
	Type    string

	// Timeout is the HTTP client timeout per attempt
	Timeout time.Duration

	// Retry policy; the default is a single attempt
	Retry RetryConfig

	// Cache is optional; nil disables response caching
	Cache *cache.Manager

	// Limiter is optional; nil disables throttling
	Limiter *ratelimit.Limiter
}

// DefaultConfig returns the configuration used by the harvester.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: userAgent,
		Dynasty:   "Tang",
		Type:      "poem",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new poem API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.Dynasty == "" {
		cfg.Dynasty = "Tang"
	}
	if cfg.Type == "" {
		cfg.Type = "poem"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry.MaxAttempts = 1
	}

	logger := log.With().Str("component", "souyun-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// query returns the fixed query parameters plus the poem key.
func (c *Client) query(id uint32) url.Values {
	q := url.Values{}
	q.Set("dynasty", c.config.Dynasty)
	q.Set("key", strconv.FormatUint(uint64(id), 10))
	q.Set("type", c.config.Type)
	q.Set("jsontype", "true")
	return q
}

// PoemURL returns the request URL for a poem ID.
func (c *Client) PoemURL(id uint32) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + PoemEndpoint
	u.RawQuery = c.query(id).Encode()
	return u.String()
}

// FetchPoem retrieves the envelope for one poem ID.
// Any transport failure, non-2xx status, or undecodable body is returned as an error;
// the error wraps an *APIError whenever it can be classified.
func (c *Client) FetchPoem(ctx context.Context, id uint32) (*poem.Envelope, error) {
	cacheKey := cache.CacheKey{
		Endpoint:    PoemEndpoint,
		QueryParams: c.query(id),
	}

	if env := c.fromCache(ctx, id, cacheKey); env != nil {
		return env, nil
	}

	var env *poem.Envelope
	var body []byte
	var status int

	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return ErrorClassNetwork, &APIError{ID: id, ErrorClass: ErrorClassNetwork, Message: "rate limiter", Err: err}
		}

		var reqErr error
		status, body, reqErr = c.get(ctx, id)
		if reqErr != nil {
			errClass := c.classifyError(0, reqErr)
			souyunErrorsTotal.WithLabelValues(string(errClass)).Inc()
			souyunRequestsTotal.WithLabelValues("network_error").Inc()
			return errClass, &APIError{ID: id, ErrorClass: errClass, Message: "request failed", Err: reqErr}
		}

		souyunRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

		if status < 200 || status > 299 {
			errClass := c.classifyError(status, nil)
			souyunErrorsTotal.WithLabelValues(string(errClass)).Inc()
			c.logger.Debug().
				Uint32("id", id).
				Int("status", status).
				Str("error_class", string(errClass)).
				Msg("Poem request error")
			return errClass, &APIError{ID: id, StatusCode: status, ErrorClass: errClass, Message: http.StatusText(status)}
		}

		decoded, decErr := poem.Decode(body)
		if decErr != nil {
			souyunErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
			return ErrorClassDecode, &APIError{ID: id, StatusCode: status, ErrorClass: ErrorClassDecode, Message: "invalid body", Err: decErr}
		}
		env = decoded
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	c.toCache(ctx, id, cacheKey, status, body)

	return env, nil
}

// get performs one GET for id and returns the status and body.
func (c *Client) get(ctx context.Context, id uint32) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PoemURL(id), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", AcceptHeader)
	req.Header.Set("User-Agent", c.config.UserAgent)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	souyunRequestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// fromCache returns a cached envelope, or nil on miss, error, or undecodable entry.
func (c *Client) fromCache(ctx context.Context, id uint32, key cache.CacheKey) *poem.Envelope {
	if c.cache == nil {
		return nil
	}

	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn().Err(err).Uint32("id", id).Msg("Cache get error")
		}
		return nil
	}

	env, err := poem.Decode(entry.Data)
	if err != nil {
		c.logger.Warn().Err(err).Uint32("id", id).Msg("Discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		return nil
	}

	c.logger.Debug().Uint32("id", id).Msg("Cache hit")
	return env
}

// toCache stores a successful body. Failures are logged and otherwise ignored.
func (c *Client) toCache(ctx context.Context, id uint32, key cache.CacheKey, status int, body []byte) {
	if c.cache == nil {
		return
	}

	if err := c.cache.Set(ctx, key, cache.NewEntry(status, body, c.cache.TTL())); err != nil {
		c.logger.Warn().Err(err).Uint32("id", id).Msg("Failed to cache response")
	}
}

// classifyError categorizes a failure for observability and retry handling.
func (c *Client) classifyError(statusCode int, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	case statusCode < 200 || statusCode > 299:
		// 1xx/3xx never carry a poem
		return ErrorClassClient
	default:
		return ""
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
