package httputil

import (
	"net/http"
	"net/http/httptest"
	"sync"
)

// HTTPClient abstracts HTTP operations for testability. *http.Client
// satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockHTTPClient serves requests in-process through a handler, or returns
// queued errors, and records every request.
type MockHTTPClient struct {
	mu       sync.Mutex
	handler  http.Handler
	errs     []error
	Requests []*http.Request
}

// NewMockHTTPClient returns a client that routes requests to handler.
func NewMockHTTPClient(handler http.Handler) *MockHTTPClient {
	return &MockHTTPClient{handler: handler}
}

// FailNext makes the next request fail with err before reaching the handler.
func (m *MockHTTPClient) FailNext(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

// Do records req and serves it.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return nil, err
	}
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		h = http.NotFoundHandler()
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
