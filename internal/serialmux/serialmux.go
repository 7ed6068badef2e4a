// Package serialmux adapts the controller's serial console to the command
// transport. Lines read from the port are handed to the command handler and
// replies are written back; every line in both directions is also fanned out
// to subscribers so the console can be tailed over the debug HTTP server.
package serialmux

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/tagurobo/servod/internal/transport"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// subscriberBuffer is how many tap lines may queue for a slow subscriber
// before lines are dropped for it.
const subscriberBuffer = 64

// SerialMux owns one serial port. It implements transport.Adapter for the
// command loop and lets any number of subscribers watch the traffic.
type SerialMux[T SerialPorter] struct {
	port    T
	framer  *transport.LineFramer
	readBuf []byte
	pending []byte

	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface is the console surface used by cmd/servod.
type SerialMuxInterface interface {
	transport.Adapter
	// Subscribe creates a new channel receiving console traffic. Received
	// lines are prefixed "> " and sent replies "< ".
	Subscribe() (string, chan string)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// SendLine writes one line to the port.
	SendLine(string) error
	// Publish sends a line to subscribers without writing it to the port.
	Publish(string)
	// Close closes all subscribed channels and the serial port.
	Close() error
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux wraps port. When the port supports read timeouts one is set so
// ReadUnit can notice context cancellation.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	if tp, ok := any(port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(readTimeout); err != nil {
			log.Printf("Warning: failed to set serial read timeout: %v", err)
		}
	}
	return &SerialMux[T]{
		port:        port,
		framer:      transport.NewLineFramer(transport.MaxUnitLen),
		readBuf:     make([]byte, 256),
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux[T]) Name() string { return "serial" }

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Publish sends line to tap subscribers only; nothing is written to the port.
func (s *SerialMux[T]) Publish(line string) {
	s.broadcast(line)
}

func (s *SerialMux[T]) broadcast(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
			// subscriber is behind; drop rather than stall the console
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// ReadUnit reads bytes until a full line is framed. A line longer than
// transport.MaxUnitLen is discarded and reported as transport.ErrUnitTooLong
// once its line feed arrives.
func (s *SerialMux[T]) ReadUnit(ctx context.Context) (transport.Unit, error) {
	for {
		for len(s.pending) > 0 {
			b := s.pending[0]
			s.pending = s.pending[1:]
			unit, done, err := s.framer.Feed(b)
			if err != nil {
				return transport.Unit{}, err
			}
			if done {
				s.broadcast("> " + string(unit))
				return transport.Unit{Payload: unit}, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return transport.Unit{}, err
		}
		if s.isClosing() {
			return transport.Unit{}, transport.ErrClosed
		}

		n, err := s.port.Read(s.readBuf)
		if err != nil {
			if s.isClosing() {
				return transport.Unit{}, transport.ErrClosed
			}
			return transport.Unit{}, err
		}
		if n == 0 {
			// read timeout
			continue
		}
		s.pending = s.readBuf[:n]
	}
}

// WriteReply writes reply followed by a line feed.
func (s *SerialMux[T]) WriteReply(_ transport.Unit, reply []byte) error {
	return s.SendLine(string(reply))
}

// SendLine writes line to the port, appending a line feed if missing.
func (s *SerialMux[T]) SendLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.isClosing() {
		return transport.ErrClosed
	}
	out := line
	if len(out) == 0 || out[len(out)-1] != '\n' {
		out += "\n"
	}
	n, err := s.port.Write([]byte(out))
	if err != nil {
		return err
	}
	if n != len(out) {
		return ErrWriteFailed
	}
	s.broadcast("< " + line)
	return nil
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	if err := s.port.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		return err
	}
	return nil
}
