package testutil

import (
	"io"
	"net/http"
	"testing"
)

func TestNewBank(t *testing.T) {
	b, d := NewBank(t)
	if !d.Begun() {
		t.Error("driver not started")
	}
	if got := len(b.List()); got != 16 {
		t.Errorf("List() len = %d, want 16", got)
	}
}

func TestNewJSONRequest(t *testing.T) {
	req := NewJSONRequest(http.MethodPost, "/servos", `[]`)
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(req.Body)
	if string(body) != "[]" {
		t.Errorf("body = %q", body)
	}

	req = NewJSONRequest(http.MethodGet, "/servos", "")
	if req.Header.Get("Content-Type") != "" {
		t.Error("GET without body should not set Content-Type")
	}
}

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, `{"status":"ok"}`)
	})
	rec := Serve(h, NewJSONRequest(http.MethodGet, "/", ""))
	AssertStatusCode(t, rec.Code, http.StatusAccepted)

	var got map[string]string
	DecodeJSON(t, rec, &got)
	if got["status"] != "ok" {
		t.Errorf("status = %q", got["status"])
	}
}
