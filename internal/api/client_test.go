package api

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/httputil"
	"github.com/tagurobo/servod/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *actuator.Bank, *httputil.MockHTTPClient) {
	t.Helper()
	bank, _ := testutil.NewBank(t)
	mock := httputil.NewMockHTTPClient(NewServer(bank, nil).Handler())
	return NewClient("http://servod.local:8080/", mock), bank, mock
}

func TestClient_RoundTrip(t *testing.T) {
	c, bank, mock := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.ApplyBatch(ctx, []actuator.ChannelUpdate{
		actuator.Update(2, 0, 307),
		actuator.Update(6, 0, 512),
	}))
	on, off, err := bank.Get(6)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), on)
	assert.Equal(t, uint16(512), off)

	list, err := c.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, list, actuator.NumChannels)
	assert.Equal(t, uint16(307), list[2].OffTime)

	angles, err := c.Joints(ctx)
	require.NoError(t, err)
	require.Len(t, angles, 7)
	assert.InDelta(t, 90, angles[2], 0.1)
	assert.InDelta(t, 180, angles[6], 0.1)

	require.NoError(t, c.StopAll(ctx))
	for _, ch := range bank.List() {
		assert.Zero(t, ch.OffTime)
	}

	require.Equal(t, 4, mock.RequestCount())
	var paths []string
	for _, r := range mock.Requests {
		paths = append(paths, r.Method+" "+r.URL.Path)
	}
	assert.Equal(t, []string{"POST /servos", "GET /servos", "GET /joints", "POST /stop_all"}, paths)
	assert.Equal(t, "http://servod.local:8080/servos", mock.Requests[0].URL.String())
	assert.Equal(t, "application/json", mock.Requests[0].Header.Get("Content-Type"))
}

func TestClient_ValidationError(t *testing.T) {
	c, _, _ := newTestClient(t)

	err := c.ApplyBatch(context.Background(), []actuator.ChannelUpdate{actuator.Update(16, 0, 100)})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 400, se.Code)
	assert.Equal(t, "validation error", se.Status)
	assert.Contains(t, se.Error(), "HTTP 400")
}

func TestClient_TransportError(t *testing.T) {
	c, _, mock := newTestClient(t)
	boom := errors.New("connection refused")
	mock.FailNext(boom)

	_, err := c.ListChannels(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "validation error", statusText([]byte(`{"status":"validation error"}`)))
	assert.Equal(t, "not found", statusText([]byte(`{"error":"not found"}`)))
	assert.Equal(t, "plain", statusText([]byte("plain\n")))
}
