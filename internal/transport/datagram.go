package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// DefaultUDPPort is the command port clients send to.
const DefaultUDPPort = 4210

// pollInterval bounds how long a read blocks before ctx is checked again.
const pollInterval = 100 * time.Millisecond

// DatagramAdapter treats every UDP datagram as one command unit and answers
// with one datagram to the sender.
type DatagramAdapter struct {
	sock   UDPSocket
	buf    []byte
	maxLen int
}

// NewDatagramAdapter wraps sock. rcvBuf sets the kernel receive buffer when
// positive.
func NewDatagramAdapter(sock UDPSocket, rcvBuf int) *DatagramAdapter {
	if rcvBuf > 0 {
		if err := sock.SetReadBuffer(rcvBuf); err != nil {
			log.Printf("Warning: Failed to set UDP receive buffer size to %d: %v", rcvBuf, err)
		}
	}
	log.Printf("UDP command listener on %s", sock.LocalAddr())
	return &DatagramAdapter{
		sock:   sock,
		buf:    make([]byte, 2048),
		maxLen: MaxUnitLen,
	}
}

func (d *DatagramAdapter) Name() string { return "udp" }

// ReadUnit waits for the next datagram. CR and LF bytes are stripped; a
// multi-line datagram is one unit, not several.
func (d *DatagramAdapter) ReadUnit(ctx context.Context) (Unit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Unit{}, err
		}
		d.sock.SetReadDeadline(time.Now().Add(pollInterval))

		n, addr, err := d.sock.ReadFromUDP(d.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return Unit{}, err
		}
		if n > d.maxLen {
			log.Printf("UDP datagram from %v truncated from %d to %d bytes", addr, n, d.maxLen)
		}
		log.Printf("UDP packet received: %d bytes from %v", n, addr)
		return Unit{Payload: FlattenDatagram(d.buf[:n], d.maxLen), Source: addr}, nil
	}
}

// WriteReply sends reply as a single datagram to the unit's source.
func (d *DatagramAdapter) WriteReply(u Unit, reply []byte) error {
	addr, ok := u.Source.(*net.UDPAddr)
	if !ok || addr == nil {
		return fmt.Errorf("datagram reply needs a UDP source, got %v", u.Source)
	}
	log.Printf("Sending reply (%s) over UDP to %v", reply, addr)
	_, err := d.sock.WriteToUDP(reply, addr)
	return err
}

// LocalAddr returns the bound address.
func (d *DatagramAdapter) LocalAddr() net.Addr {
	return d.sock.LocalAddr()
}

// Close closes the socket.
func (d *DatagramAdapter) Close() error {
	return d.sock.Close()
}
