package serialmux

import (
	"go.bug.st/serial"
)

// OpenPort opens the serial port at path with the given options.
func OpenPort(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// NewRealSerialMux creates a SerialMux instance backed by a real serial port at the
// given path using the provided serial options.
func NewRealSerialMux(path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	return NewSerialMuxWith(OpenPort, path, opts)
}

// NewSerialMuxWith opens path with open and wraps the port.
func NewSerialMuxWith(open SerialPortOpener, path string, opts PortOptions) (*SerialMux[SerialPorter], error) {
	port, err := open(path, opts)
	if err != nil {
		return nil, err
	}
	return NewSerialMux(port), nil
}
