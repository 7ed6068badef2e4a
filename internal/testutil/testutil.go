// Package testutil provides shared test fixtures: an actuator bank on the
// in-memory driver and HTTP request helpers.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/pulse"
	"github.com/tagurobo/servod/internal/pwm"
)

// NewBank returns a started bank on a MemoryDriver.
func NewBank(t *testing.T) (*actuator.Bank, *pwm.MemoryDriver) {
	t.Helper()
	d := pwm.NewMemoryDriver()
	b := actuator.NewBank(d, pulse.Default())
	if err := b.Begin(pwm.DefaultOscillatorHz, pwm.DefaultFrequencyHz); err != nil {
		t.Fatalf("failed to start bank: %v", err)
	}
	return b, d
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewJSONRequest creates a test request carrying body as JSON. An empty body
// sends none.
func NewJSONRequest(method, path, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, path, nil)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Serve runs req through h and returns the recorder.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON unmarshals the recorded body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}
