package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagurobo/servod/internal/transport"
)

func newTestMux(t *testing.T) (*SerialMux[*TestableSerialPort], *TestableSerialPort) {
	t.Helper()
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	t.Cleanup(func() { mux.Close() })
	return mux, port
}

func readUnit(t *testing.T, mux *SerialMux[*TestableSerialPort]) (transport.Unit, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return mux.ReadUnit(ctx)
}

func TestNewSerialMux_SetsReadTimeout(t *testing.T) {
	_, port := newTestMux(t)
	assert.Equal(t, readTimeout, port.ReadTimeout())
}

func TestReadUnit_Lines(t *testing.T) {
	mux, port := newTestMux(t)
	port.AddReadData([]byte("CONNECT\r\nGET_JOINT_ANGLES\nDISC"))

	u, err := readUnit(t, mux)
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", string(u.Payload))
	assert.Nil(t, u.Source)

	u, err = readUnit(t, mux)
	require.NoError(t, err)
	assert.Equal(t, "GET_JOINT_ANGLES", string(u.Payload))

	// partial line completes over later reads
	port.AddReadData([]byte("ONN"))
	port.AddReadData([]byte("ECT\n"))
	u, err = readUnit(t, mux)
	require.NoError(t, err)
	assert.Equal(t, "DISCONNECT", string(u.Payload))
}

func TestReadUnit_EmptyLine(t *testing.T) {
	mux, port := newTestMux(t)
	port.AddReadData([]byte("\r\n"))

	u, err := readUnit(t, mux)
	require.NoError(t, err)
	assert.Empty(t, u.Payload)
}

func TestReadUnit_TooLong(t *testing.T) {
	mux, port := newTestMux(t)
	port.AddReadData([]byte(strings.Repeat("A", transport.MaxUnitLen+10) + "\nCONNECT\n"))

	_, err := readUnit(t, mux)
	assert.ErrorIs(t, err, transport.ErrUnitTooLong)

	u, err := readUnit(t, mux)
	require.NoError(t, err)
	assert.Equal(t, "CONNECT", string(u.Payload))
}

func TestReadUnit_MaxLengthAccepted(t *testing.T) {
	mux, port := newTestMux(t)
	line := strings.Repeat("B", transport.MaxUnitLen)
	port.AddReadData([]byte(line + "\n"))

	u, err := readUnit(t, mux)
	require.NoError(t, err)
	assert.Equal(t, line, string(u.Payload))
}

func TestReadUnit_ContextCancelled(t *testing.T) {
	mux, _ := newTestMux(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := mux.ReadUnit(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadUnit_ReadError(t *testing.T) {
	mux, port := newTestMux(t)
	boom := errors.New("boom")
	port.FailNextRead(boom)

	_, err := readUnit(t, mux)
	assert.ErrorIs(t, err, boom)
}

func TestReadUnit_AfterClose(t *testing.T) {
	mux, _ := newTestMux(t)
	require.NoError(t, mux.Close())

	_, err := readUnit(t, mux)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestSendLine(t *testing.T) {
	mux, port := newTestMux(t)

	require.NoError(t, mux.SendLine("OK"))
	require.NoError(t, mux.WriteReply(transport.Unit{}, []byte("0.00,90.00")))
	require.NoError(t, mux.SendLine("NG\n"))

	assert.Equal(t, "OK\n0.00,90.00\nNG\n", string(port.GetWrittenData()))
	assert.Equal(t, []string{"OK", "0.00,90.00", "NG"}, port.Replies())
}

func TestSendLine_WriteError(t *testing.T) {
	mux, port := newTestMux(t)
	port.FailNextWrite(io.ErrClosedPipe)

	assert.ErrorIs(t, mux.SendLine("OK"), io.ErrClosedPipe)
}

type shortWritePort struct {
	*TestableSerialPort
}

func (p shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSendLine_ShortWrite(t *testing.T) {
	mux := NewSerialMux[SerialPorter](shortWritePort{NewTestableSerialPort()})
	defer mux.Close()

	assert.ErrorIs(t, mux.SendLine("OK"), ErrWriteFailed)
}

func TestSubscribe_Tap(t *testing.T) {
	mux, port := newTestMux(t)
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	port.AddReadData([]byte("CONNECT\n"))
	_, err := readUnit(t, mux)
	require.NoError(t, err)
	require.NoError(t, mux.SendLine("OK"))

	assert.Equal(t, "> CONNECT", <-ch)
	assert.Equal(t, "< OK", <-ch)
}

func TestPublish(t *testing.T) {
	mux, port := newTestMux(t)
	id, ch := mux.Subscribe()
	defer mux.Unsubscribe(id)

	mux.Publish("= ch3 0/307")
	assert.Equal(t, "= ch3 0/307", <-ch)
	assert.Empty(t, port.GetWrittenData())
}

func TestUnsubscribe_ClosesChannel(t *testing.T) {
	mux, _ := newTestMux(t)
	id, ch := mux.Subscribe()
	mux.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)

	// unknown ids are ignored
	mux.Unsubscribe("missing")
}

func TestClose(t *testing.T) {
	mux, port := newTestMux(t)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	assert.True(t, port.IsClosed())
	_, ok := <-ch
	assert.False(t, ok)

	// second close is a no-op
	require.NoError(t, mux.Close())
	assert.ErrorIs(t, mux.SendLine("OK"), transport.ErrClosed)
}

func TestServe_OverSerial(t *testing.T) {
	mux, port := newTestMux(t)
	h := transport.HandlerFunc(func(line string) (string, bool) {
		switch line {
		case "CONNECT":
			return "OK", true
		case "GET_JOINT_ANGLES":
			return "0.00,0.00,0.00,0.00,0.00,0.00,0.00", true
		}
		return "", false
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- transport.Serve(ctx, mux, h, nil) }()

	port.AddReadData([]byte("CONNECT\nBOGUS\nGET_JOINT_ANGLES\n"))

	want := "OK\n0.00,0.00,0.00,0.00,0.00,0.00,0.00\n"
	assert.Eventually(t, func() bool {
		return string(port.GetWrittenData()) == want
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

type recordingObserver struct {
	mu sync.Mutex
	ex []transport.Exchange
}

func (r *recordingObserver) Observe(e transport.Exchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ex = append(r.ex, e)
}

func TestAdminRoutes_SendCommand(t *testing.T) {
	mux, port := newTestMux(t)
	obs := &recordingObserver{}
	h := transport.HandlerFunc(func(line string) (string, bool) {
		if line == "CONNECT" {
			return "OK", true
		}
		return "", false
	})

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, h, obs)

	form := url.Values{"command": {"CONNECT"}}
	req := httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, "OK\n", string(port.GetWrittenData()))
	require.Len(t, obs.ex, 1)
	assert.Equal(t, "admin", obs.ex[0].Transport)
	assert.Equal(t, "CONNECT", obs.ex[0].Line)
	assert.True(t, obs.ex[0].Replied)

	// unknown command: no reply
	form = url.Values{"command": {"BOGUS"}}
	req = httptest.NewRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "127.0.0.1:1234"
	rec = httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "(no reply)", rec.Body.String())
}

func TestAdminRoutes_BadRequests(t *testing.T) {
	mux, _ := newTestMux(t)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, transport.HandlerFunc(func(string) (string, bool) { return "OK", true }), nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"get not allowed", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"missing command", http.MethodPost, "command=", http.StatusBadRequest},
		{"too long", http.MethodPost, "command=" + strings.Repeat("X", transport.MaxUnitLen+1), http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/debug/send-command-api", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.RemoteAddr = "127.0.0.1:1234"
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAdminRoutes_Page(t *testing.T) {
	mux, _ := newTestMux(t)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, transport.HandlerFunc(func(string) (string, bool) { return "", false }), nil)

	req := httptest.NewRequest(http.MethodGet, "/debug/send-command", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	httpMux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "EventSource")
}

func TestAdminRoutes_Tail(t *testing.T) {
	mux, _ := newTestMux(t)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux, transport.HandlerFunc(func(string) (string, bool) { return "", false }), nil)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/tail", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// wait for the subscription to exist before sending
	require.Eventually(t, func() bool {
		mux.subscriberMu.Lock()
		defer mux.subscriberMu.Unlock()
		return len(mux.subscribers) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, mux.SendLine("OK"))

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(string(buf), "data: < OK") && time.Now().Before(deadline) {
		n, err := resp.Body.Read(tmp)
		buf = append(buf, tmp[:n]...)
		if err != nil {
			break
		}
	}
	assert.Contains(t, string(buf), "data: < OK")
}
