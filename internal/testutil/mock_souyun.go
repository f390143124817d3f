// Package testutil provides testing utilities for the poem harvester.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for one mocked poem ID.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockSouyun is a configurable mock of the open poem endpoint.
// IDs without a configured response get a valid single-poem envelope.
type MockSouyun struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[uint32]MockResponse
	fallback  func(id uint32) MockResponse

	requests    []uint32
	counts      map[uint32]int
	lastHeader  http.Header
	lastQuery   map[string]string
	inFlight    int
	maxInFlight int
}

// NewMockSouyun creates and starts a mock poem server.
func NewMockSouyun() *MockSouyun {
	mock := &MockSouyun{
		responses: make(map[uint32]MockResponse),
		counts:    make(map[uint32]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockSouyun) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSouyun) Close() {
	m.server.Close()
}

// SetResponse configures the response for one ID.
func (m *MockSouyun) SetResponse(id uint32, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// SetFallback configures the response for IDs without an explicit response.
func (m *MockSouyun) SetFallback(fn func(id uint32) MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// Requests returns every requested ID in arrival order.
func (m *MockSouyun) Requests() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, len(m.requests))
	copy(out, m.requests)
	return out
}

// SortedRequests returns every requested ID in ascending order.
func (m *MockSouyun) SortedRequests() []uint32 {
	out := m.Requests()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RequestCount returns the number of requests received.
func (m *MockSouyun) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// CountFor returns how many times id was requested.
func (m *MockSouyun) CountFor(id uint32) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[id]
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockSouyun) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// LastQuery returns the query parameters of the most recent request.
func (m *MockSouyun) LastQuery() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastQuery
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockSouyun) MaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxInFlight
}

func (m *MockSouyun) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/open/poem" {
		http.NotFound(w, r)
		return
	}

	key, err := strconv.ParseUint(r.URL.Query().Get("key"), 10, 32)
	if err != nil {
		http.Error(w, "bad key", http.StatusBadRequest)
		return
	}
	id := uint32(key)

	m.mu.Lock()
	m.requests = append(m.requests, id)
	m.counts[id]++
	m.lastHeader = r.Header.Clone()
	m.lastQuery = map[string]string{}
	for k := range r.URL.Query() {
		m.lastQuery[k] = r.URL.Query().Get(k)
	}
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	resp, ok := m.responses[id]
	fallback := m.fallback
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if !ok {
		if fallback != nil {
			resp = fallback(id)
		} else {
			resp = NewPoemResponse(id)
		}
	}

	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// PoemBody returns a valid single-poem envelope for id.
func PoemBody(id uint32) string {
	return fmt.Sprintf(`{"ShiData":[{"Author":"作者%d","AuthorId":%d,"AuthorIdSpecified":true,"Dynasty":"Tang","Id":%d,"GroupIndex":null,"Note":null,"Type":"Shi","Clauses":[{"Content":"第一句","TonesSpecified":true},{"Content":"第二句","TonesSpecified":false}]}]}`, id, id%97, id)
}

// NewPoemResponse creates a 200 OK response carrying a poem for id.
func NewPoemResponse(id uint32) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       PoemBody(id),
	}
}

// NewMalformedResponse creates a 200 OK response whose body is not an envelope.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `<html><body>service busy</body></html>`,
	}
}

// NewNotFoundResponse creates a 404 response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
	}
}
