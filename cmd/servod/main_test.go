package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagurobo/servod/internal/config"
	"github.com/tagurobo/servod/internal/pwm"
	"github.com/tagurobo/servod/internal/serialmux"
	"github.com/tagurobo/servod/internal/testutil"
)

func setFlag[T any](t *testing.T, p *T, v T) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, "", *configPath)
	assert.False(t, *devMode)
	assert.Equal(t, "", *listen)
	assert.False(t, *strict)
}

func TestLoadConfig_DevOverrides(t *testing.T) {
	setFlag(t, devMode, true)
	setFlag(t, udpListen, "127.0.0.1:0")
	setFlag(t, strict, true)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, config.DriverMemory, cfg.GetDriver())
	assert.Equal(t, "127.0.0.1:0", cfg.GetUDPListen())
	assert.True(t, cfg.GetStrictNumbers())
	assert.Equal(t, config.DefaultHTTPListen, cfg.GetHTTPListen())
}

func TestLoadConfig_BadFile(t *testing.T) {
	setFlag(t, configPath, filepath.Join(t.TempDir(), "servod.ini"))
	_, err := loadConfig()
	assert.Error(t, err)
}

func TestNewDriver(t *testing.T) {
	cfg := config.Empty()
	cfg.Apply(config.Overrides{Driver: config.DriverMemory})
	assert.IsType(t, &pwm.MemoryDriver{}, newDriver(cfg))

	assert.IsType(t, &pwm.PCA9685Driver{}, newDriver(config.Empty()))
}

func newTestApp(t *testing.T) (*app, *serialmux.TestableSerialPort) {
	t.Helper()
	cfg := config.Empty()
	cfg.Apply(config.Overrides{
		Driver:      config.DriverMemory,
		SerialPath:  "/dev/ttyTEST",
		UDPListen:   "127.0.0.1:0",
		JournalPath: filepath.Join(t.TempDir(), "journal.db"),
	})
	port := serialmux.NewTestableSerialPort()
	var openedPath string
	open := func(path string, opts serialmux.PortOptions) (serialmux.SerialPorter, error) {
		openedPath = path
		return port, nil
	}

	a, err := newApp(cfg, open)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	assert.Equal(t, "/dev/ttyTEST", openedPath)
	return a, port
}

func TestApp_EndToEnd(t *testing.T) {
	a, port := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx, "") }()

	client, err := net.DialUDP("udp", nil, a.udp.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("SET_JOINT_ANGLE,3,90,10\r\n"))
	require.NoError(t, err)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(buf[:n]))

	port.AddReadData([]byte("GET_JOINT_ANGLES\n"))
	require.Eventually(t, func() bool {
		return strings.HasPrefix(string(port.GetWrittenData()), "0.00,0.00,0.00,89.")
	}, 2*time.Second, 5*time.Millisecond)

	// both units land in the journal
	require.Eventually(t, func() bool {
		n, err := a.journal.Count(context.Background())
		return err == nil && n == 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestApp_Handler(t *testing.T) {
	a, _ := newTestApp(t)
	h, err := a.handler()
	require.NoError(t, err)

	rec := testutil.Serve(h, testutil.NewJSONRequest(http.MethodPost, "/servos", `[{"id":1,"on_time":0,"off_time":307}]`))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.Serve(h, testutil.NewJSONRequest(http.MethodGet, "/journal", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	req := testutil.NewJSONRequest(http.MethodGet, "/debug/", "")
	req.RemoteAddr = "127.0.0.1:5555"
	rec = testutil.Serve(h, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "send-command")
	assert.Contains(t, rec.Body.String(), "tailsql")
}
