package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// go.bug.st/serial ports implement it; a read that times out returns (0, nil).
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}

// SerialPortOpener opens a serial port. OpenPort is the real implementation;
// tests substitute their own.
type SerialPortOpener func(path string, opts PortOptions) (SerialPorter, error)

// readTimeout bounds a single blocking read on ports that support it.
const readTimeout = 100 * time.Millisecond
