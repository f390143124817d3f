package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/souyun-harvester/internal/testutil"
	"github.com/Sternrassler/souyun-harvester/pkg/cache"
	"github.com/Sternrassler/souyun-harvester/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis creates a test Redis client or skips when Redis is unavailable.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig("TestHarvester/1.0.0 (test@example.com)")
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("TestApp/1.0.0"),
			expectError: false,
		},
		{
			name:        "empty user agent",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "unsupported scheme",
			config: Config{
				BaseURL:   "ftp://api.sou-yun.cn",
				UserAgent: "TestApp/1.0.0",
			},
			expectError: true,
			errorMsg:    `base url must be http or https (got "ftp://api.sou-yun.cn")`,
		},
		{
			name: "empty base url falls back to default",
			config: Config{
				UserAgent: "TestApp/1.0.0",
			},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{UserAgent: "TestApp/1.0.0"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if c.config.Dynasty != "Tang" || c.config.Type != "poem" {
		t.Errorf("category = %q/%q, want Tang/poem", c.config.Dynasty, c.config.Type)
	}
	if c.config.Retry.MaxAttempts != 1 {
		t.Errorf("Retry.MaxAttempts = %d, want 1", c.config.Retry.MaxAttempts)
	}
	if c.httpClient.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.httpClient.Timeout)
	}
}

func TestDefaultConfig(t *testing.T) {
	userAgent := "TestApp/1.0.0"
	cfg := DefaultConfig(userAgent)

	if cfg.UserAgent != userAgent {
		t.Errorf("UserAgent = %q, want %q", cfg.UserAgent, userAgent)
	}
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, DefaultBaseURL)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Errorf("Retry.MaxAttempts = %d, failures should not be retried by default", cfg.Retry.MaxAttempts)
	}
	if cfg.Cache != nil || cfg.Limiter != nil {
		t.Error("cache and limiter should be disabled by default")
	}
}

func TestPoemURL(t *testing.T) {
	c := newTestClient(t, "https://api.sou-yun.cn", nil)

	want := "https://api.sou-yun.cn/open/poem?dynasty=Tang&jsontype=true&key=10042&type=poem"
	if got := c.PoemURL(10042); got != want {
		t.Errorf("PoemURL() = %q, want %q", got, want)
	}
}

func TestFetchPoem_Success(t *testing.T) {
	mock := testutil.NewMockSouyun()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), nil)

	env, err := c.FetchPoem(context.Background(), 42)
	if err != nil {
		t.Fatalf("FetchPoem() error = %v", err)
	}
	if len(env.ShiData) != 1 || env.ShiData[0].ID != 42 {
		t.Errorf("envelope IDs = %v, want [42]", env.IDs())
	}

	header := mock.LastRequestHeader()
	if got := header.Get("Accept"); got != AcceptHeader {
		t.Errorf("Accept = %q, want %q", got, AcceptHeader)
	}
	if got := header.Get("User-Agent"); got != "TestHarvester/1.0.0 (test@example.com)" {
		t.Errorf("User-Agent = %q", got)
	}

	query := mock.LastQuery()
	wantQuery := map[string]string{"dynasty": "Tang", "key": "42", "type": "poem", "jsontype": "true"}
	for k, v := range wantQuery {
		if query[k] != v {
			t.Errorf("query %s = %q, want %q", k, query[k], v)
		}
	}
}

func TestFetchPoem_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		resp     testutil.MockResponse
		expected ErrorClass
		status   int
	}{
		{"not found", testutil.NewNotFoundResponse(), ErrorClassClient, 404},
		{"server error", testutil.NewServerErrorResponse(), ErrorClassServer, 500},
		{"rate limited", testutil.NewRateLimitResponse(), ErrorClassRateLimit, 429},
		{"malformed body", testutil.NewMalformedResponse(), ErrorClassDecode, 200},
		{"poem without clauses", testutil.MockResponse{StatusCode: 200, Body: `{"ShiData":[{"Id":5}]}`}, ErrorClassDecode, 200},
		{"clause without content", testutil.MockResponse{StatusCode: 200, Body: `{"ShiData":[{"Id":5,"Clauses":[{"TonesSpecified":true}]}]}`}, ErrorClassDecode, 200},
		{"lowercase field names", testutil.MockResponse{StatusCode: 200, Body: `{"shidata":[{"id":5,"clauses":[]}]}`}, ErrorClassDecode, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSouyun()
			defer mock.Close()
			mock.SetResponse(5, tt.resp)

			c := newTestClient(t, mock.URL(), nil)

			env, err := c.FetchPoem(context.Background(), 5)
			if err == nil {
				t.Fatalf("FetchPoem() expected error, got envelope %v", env)
			}

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %v is not an *APIError", err)
			}
			if apiErr.ErrorClass != tt.expected {
				t.Errorf("ErrorClass = %q, want %q", apiErr.ErrorClass, tt.expected)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.ID != 5 {
				t.Errorf("ID = %d, want 5", apiErr.ID)
			}
			if mock.CountFor(5) != 1 {
				t.Errorf("requests for id 5 = %d, want 1 (no retry by default)", mock.CountFor(5))
			}
		})
	}
}

func TestFetchPoem_NetworkError(t *testing.T) {
	mock := testutil.NewMockSouyun()
	url := mock.URL()
	mock.Close()

	c := newTestClient(t, url, nil)

	_, err := c.FetchPoem(context.Background(), 1)
	if err == nil {
		t.Fatal("FetchPoem() against closed server expected error")
	}
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want %q", ClassOf(err), ErrorClassNetwork)
	}
}

func TestFetchPoem_Timeout(t *testing.T) {
	mock := testutil.NewMockSouyun()
	defer mock.Close()
	mock.SetResponse(9, testutil.MockResponse{StatusCode: 200, Body: testutil.PoemBody(9), Delay: 500 * time.Millisecond})

	c := newTestClient(t, mock.URL(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := c.FetchPoem(ctx, 9); err == nil {
		t.Fatal("FetchPoem() expected timeout error")
	}
}

func TestFetchPoem_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, testutil.PoemBody(77))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, func(cfg *Config) {
		cfg.Retry = RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Millisecond,
			MaxBackoff:        20 * time.Millisecond,
			BackoffMultiplier: 2.0,
		}
	})

	env, err := c.FetchPoem(context.Background(), 77)
	if err != nil {
		t.Fatalf("FetchPoem() error = %v", err)
	}
	if env.ShiData[0].ID != 77 {
		t.Errorf("ID = %d, want 77", env.ShiData[0].ID)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchPoem_DoesNotRetryDecodeErrors(t *testing.T) {
	mock := testutil.NewMockSouyun()
	defer mock.Close()
	mock.SetResponse(3, testutil.NewMalformedResponse())

	c := newTestClient(t, mock.URL(), func(cfg *Config) {
		cfg.Retry = RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, BackoffMultiplier: 2}
	})

	if _, err := c.FetchPoem(context.Background(), 3); err == nil {
		t.Fatal("FetchPoem() expected decode error")
	}
	if mock.CountFor(3) != 1 {
		t.Errorf("requests = %d, want 1", mock.CountFor(3))
	}
}

func TestFetchPoem_UsesLimiter(t *testing.T) {
	mock := testutil.NewMockSouyun()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), func(cfg *Config) {
		cfg.Limiter = ratelimit.New(20, 1, zerolog.Nop())
	})

	start := time.Now()
	for id := uint32(1); id <= 4; id++ {
		if _, err := c.FetchPoem(context.Background(), id); err != nil {
			t.Fatalf("FetchPoem(%d) error = %v", id, err)
		}
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("4 requests at 20/s took %v, expected throttling", elapsed)
	}
}

func TestFetchPoem_CacheHit(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockSouyun()
	defer mock.Close()

	c := newTestClient(t, mock.URL(), func(cfg *Config) {
		cfg.Cache = cache.NewManager(redisClient, time.Minute)
	})

	for i := 0; i < 3; i++ {
		env, err := c.FetchPoem(context.Background(), 11)
		if err != nil {
			t.Fatalf("FetchPoem() error = %v", err)
		}
		if env.ShiData[0].ID != 11 {
			t.Errorf("ID = %d, want 11", env.ShiData[0].ID)
		}
	}

	if mock.CountFor(11) != 1 {
		t.Errorf("requests = %d, want 1 (served from cache afterwards)", mock.CountFor(11))
	}
}

func TestFetchPoem_FailuresAreNotCached(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockSouyun()
	defer mock.Close()
	mock.SetResponse(12, testutil.NewMalformedResponse())

	c := newTestClient(t, mock.URL(), func(cfg *Config) {
		cfg.Cache = cache.NewManager(redisClient, time.Minute)
	})

	for i := 0; i < 2; i++ {
		if _, err := c.FetchPoem(context.Background(), 12); err == nil {
			t.Fatal("FetchPoem() expected error")
		}
	}
	if mock.CountFor(12) != 2 {
		t.Errorf("requests = %d, want 2", mock.CountFor(12))
	}
}

func TestClassifyError(t *testing.T) {
	client := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, io.EOF, ErrorClassNetwork},
		{"client error 404", 404, nil, ErrorClassClient},
		{"client error 403", 403, nil, ErrorClassClient},
		{"rate limit 429", 429, nil, ErrorClassRateLimit},
		{"server error 500", 500, nil, ErrorClassServer},
		{"server error 503", 503, nil, ErrorClassServer},
		{"redirect 302", 302, nil, ErrorClassClient},
		{"success 200", 200, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := client.classifyError(tt.statusCode, tt.err)
			if result != tt.expected {
				t.Errorf("classifyError() = %q, want %q", result, tt.expected)
			}
		})
	}
}
