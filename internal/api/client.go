package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/httputil"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("servod: HTTP %d: %s", e.Code, e.Status)
}

// Client calls a servod HTTP server.
type Client struct {
	base string
	http httputil.HTTPClient
}

// NewClient returns a client for the server at baseURL, e.g.
// "http://robot.local:8080". A nil hc uses http.DefaultClient.
func NewClient(baseURL string, hc httputil.HTTPClient) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// ListChannels returns all channels in id order.
func (c *Client) ListChannels(ctx context.Context) ([]actuator.Channel, error) {
	var out []actuator.Channel
	err := c.do(ctx, http.MethodGet, "/servos", nil, &out)
	return out, err
}

// ApplyBatch writes updates as one batch.
func (c *Client) ApplyBatch(ctx context.Context, updates []actuator.ChannelUpdate) error {
	return c.do(ctx, http.MethodPost, "/servos", updates, nil)
}

// StopAll switches every channel off.
func (c *Client) StopAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop_all", nil, nil)
}

// Joints returns the joint angles.
func (c *Client) Joints(ctx context.Context) ([]float64, error) {
	var out jointsResponse
	err := c.do(ctx, http.MethodGet, "/joints", nil, &out)
	return out.Angles, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode, Status: statusText(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("servod: decoding %s %s: %w", method, path, err)
	}
	return nil
}

// statusText pulls "status" or "error" out of a JSON body, falling back to
// the raw text.
func statusText(data []byte) string {
	var m map[string]string
	if json.Unmarshal(data, &m) == nil {
		if s := m["status"]; s != "" {
			return s
		}
		if s := m["error"]; s != "" {
			return s
		}
	}
	return strings.TrimSpace(string(data))
}
