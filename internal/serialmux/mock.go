package serialmux

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tagurobo/servod/internal/transport"
)

// TestableSerialPort is an in-memory console. Every AddReadData call queues
// one chunk and every Read hands back at most one chunk, so a command line
// split across calls reaches the framer in pieces like it does off a UART.
type TestableSerialPort struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  bytes.Buffer
	readErr  error
	writeErr error
	timeout  time.Duration
	closed   bool
}

// NewTestableSerialPort returns an open, empty console.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{}
}

// Read returns the next queued chunk. With nothing queued it behaves like
// a serial port: (0, nil) after a short wait once a read timeout is set,
// io.EOF otherwise.
func (p *TestableSerialPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, transport.ErrClosed
	}
	if err := p.readErr; err != nil {
		p.readErr = nil
		return 0, err
	}
	if len(p.chunks) == 0 {
		if p.timeout <= 0 {
			return 0, io.EOF
		}
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}

	n := copy(b, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

// Write records a reply.
func (p *TestableSerialPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, transport.ErrClosed
	}
	if err := p.writeErr; err != nil {
		p.writeErr = nil
		return 0, err
	}
	return p.written.Write(b)
}

func (p *TestableSerialPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter.
func (p *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = timeout
	return nil
}

// AddReadData queues one chunk of inbound bytes.
func (p *TestableSerialPort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chunks = append(p.chunks, bytes.Clone(data))
}

// FailNextRead makes the next Read return err.
func (p *TestableSerialPort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// FailNextWrite makes the next Write return err.
func (p *TestableSerialPort) FailNextWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// GetWrittenData returns a copy of everything written so far.
func (p *TestableSerialPort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.written.Bytes())
}

// Replies returns the written data split into lines, without line feeds.
func (p *TestableSerialPort) Replies() []string {
	s := strings.TrimSuffix(string(p.GetWrittenData()), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// ReadTimeout reports the timeout set through SetReadTimeout.
func (p *TestableSerialPort) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// IsClosed reports whether Close was called.
func (p *TestableSerialPort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
