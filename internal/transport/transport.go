// Package transport carries command units between a wire and a command
// handler. Each wire (console byte stream, UDP datagrams) implements Adapter
// with its own framing; Serve drives any Adapter the same way.
package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"time"
)

// MaxUnitLen is the largest command unit accepted, in bytes.
const MaxUnitLen = 255

var (
	// ErrUnitTooLong is returned when a unit exceeded MaxUnitLen and was
	// discarded.
	ErrUnitTooLong = errors.New("command unit too long")
	// ErrClosed is returned by an adapter whose underlying wire is gone.
	ErrClosed = errors.New("transport closed")
)

// Unit is one framed command.
type Unit struct {
	Payload []byte
	// Source is the sender for datagram units and nil for the console.
	Source net.Addr
}

// Adapter reads command units from a wire and writes replies back on it.
type Adapter interface {
	// Name identifies the wire in logs and the journal.
	Name() string
	// ReadUnit blocks until a unit is available or ctx is done.
	ReadUnit(ctx context.Context) (Unit, error)
	// WriteReply answers u on the wire it came from.
	WriteReply(u Unit, reply []byte) error
}

// Handler executes one command line. ok is false when no reply is due.
type Handler interface {
	Handle(line string) (reply string, ok bool)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(line string) (string, bool)

func (f HandlerFunc) Handle(line string) (string, bool) { return f(line) }

// Exchange describes one handled unit.
type Exchange struct {
	Transport string
	Source    string
	Line      string
	Reply     string
	Replied   bool
	At        time.Time
}

// Observer is told about every handled unit.
type Observer interface {
	Observe(Exchange)
}

// Observers fans an Exchange out to several observers.
type Observers []Observer

func (o Observers) Observe(e Exchange) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(e)
		}
	}
}

// errorBackoff spaces out retries after a read error so a failing wire does
// not spin.
var errorBackoff = 100 * time.Millisecond

// Serve reads units from a until ctx is done or the wire closes. A bad unit
// never stops the loop.
func Serve(ctx context.Context, a Adapter, h Handler, obs Observer) error {
	log.Printf("%s transport serving", a.Name())
	for {
		u, err := a.ReadUnit(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Printf("%s transport closed: %v", a.Name(), err)
				return nil
			}
			log.Printf("%s read error: %v", a.Name(), err)
			if !errors.Is(err, ErrUnitTooLong) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(errorBackoff):
				}
			}
			continue
		}

		line := string(u.Payload)
		reply, ok := h.Handle(line)
		if ok {
			if err := a.WriteReply(u, []byte(reply)); err != nil {
				log.Printf("%s failed to send reply %q: %v", a.Name(), reply, err)
			}
		}

		if obs != nil {
			e := Exchange{
				Transport: a.Name(),
				Line:      line,
				Reply:     reply,
				Replied:   ok,
				At:        time.Now(),
			}
			if u.Source != nil {
				e.Source = u.Source.String()
			}
			obs.Observe(e)
		}
	}
}
