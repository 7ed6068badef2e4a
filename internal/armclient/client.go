// Package armclient speaks the line command protocol to servod over UDP:
// one datagram per command, one datagram back.
//
// Joint limits and offsets are kept client side. An offset is added to the
// requested angle and the sum must fall inside the joint's limits before
// anything is sent.
package armclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tagurobo/servod/internal/command"
	"github.com/tagurobo/servod/internal/monitoring"
)

// NumJoints is the number of joints addressed by the arm commands.
const NumJoints = command.NumJoints

const (
	// DefaultTimeout bounds each request/reply exchange.
	DefaultTimeout = time.Second
	// DefaultSpeed is sent when the caller has no speed in mind. The daemon
	// logs it but does not act on it.
	DefaultSpeed = 50.0

	maxReply = 1024
)

var (
	ErrNotConnected = errors.New("armclient: not connected")
	ErrJoint        = errors.New("armclient: invalid joint")
	ErrLimit        = errors.New("armclient: angle outside joint limits")
	ErrRejected     = errors.New("armclient: command rejected")
	ErrBadReply     = errors.New("armclient: malformed reply")
)

// Limit is an inclusive angle range in degrees.
type Limit struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Options configures a Client.
type Options struct {
	// Timeout bounds each exchange. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Client is a UDP client for one arm. Methods are safe for concurrent use;
// exchanges are serialised.
type Client struct {
	conn    *net.UDPConn
	timeout time.Duration

	mu        sync.Mutex
	connected bool
	angles    [NumJoints]float64
	offsets   [NumJoints]float64
	limits    [NumJoints]Limit
}

// Dial opens a UDP socket to addr, e.g. "192.168.11.10:4210". It sends
// nothing; call Connect for the handshake.
func Dial(addr string, opts Options) (*Client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("armclient: resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("armclient: dial %s: %w", addr, err)
	}
	c := &Client{conn: conn, timeout: opts.Timeout}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	for i := range c.limits {
		c.limits[i] = Limit{Min: 0, Max: 180}
	}
	return c, nil
}

// Connect performs the CONNECT handshake and reads the current joint angles.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := c.exchange(ctx, "CONNECT")
	if err != nil {
		return err
	}
	if reply != command.ReplyOK {
		return fmt.Errorf("%w: CONNECT answered %q", ErrRejected, reply)
	}
	c.connected = true
	monitoring.Logf("Connected to arm at %s", c.conn.RemoteAddr())
	_, err = c.refreshLocked(ctx)
	return err
}

// Disconnect sends DISCONNECT without waiting for the reply and closes the
// socket. It is a no-op on a client that never connected.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return c.conn.Close()
	}
	c.connected = false
	if _, err := c.conn.Write([]byte("DISCONNECT\n")); err != nil {
		monitoring.Logf("armclient: DISCONNECT: %v", err)
	}
	monitoring.Logf("Disconnected from arm at %s", c.conn.RemoteAddr())
	return c.conn.Close()
}

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetJointLimits restricts the angles accepted for joint.
func (c *Client) SetJointLimits(joint int, min, max float64) error {
	if err := checkJoint(joint); err != nil {
		return err
	}
	if min >= max {
		return fmt.Errorf("%w: min %.2f must be below max %.2f", ErrLimit, min, max)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits[joint] = Limit{Min: min, Max: max}
	return nil
}

// SetJointOffset sets the angle added to every request for joint.
func (c *Client) SetJointOffset(joint int, offset float64) error {
	if err := checkJoint(joint); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsets[joint] = offset
	return nil
}

// Joints asks the arm for its joint angles.
func (c *Client) Joints(ctx context.Context) ([]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	return c.refreshLocked(ctx)
}

// LastAngles returns the angles from the last successful read or write
// without talking to the arm.
func (c *Client) LastAngles() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.angles[:]...)
}

// SetJoint moves one joint to angle plus its offset.
func (c *Client) SetJoint(ctx context.Context, joint int, angle, speed float64) error {
	if err := checkJoint(joint); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	target, err := c.targetLocked(joint, angle)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("SET_JOINT_ANGLE,%d,%.2f,%.2f", joint, target, speed)
	if err := c.expectOK(ctx, line); err != nil {
		return err
	}
	c.angles[joint] = target
	return nil
}

// SetAll moves every joint at once. angles must have NumJoints entries.
func (c *Client) SetAll(ctx context.Context, angles []float64, speed float64) error {
	if len(angles) != NumJoints {
		return fmt.Errorf("%w: %d angles, want %d", ErrJoint, len(angles), NumJoints)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}

	var targets [NumJoints]float64
	parts := make([]string, 0, NumJoints+2)
	parts = append(parts, "SET_ALL_JOINT_ANGLES")
	for i, a := range angles {
		t, err := c.targetLocked(i, a)
		if err != nil {
			return err
		}
		targets[i] = t
		parts = append(parts, strconv.FormatFloat(t, 'f', 2, 64))
	}
	parts = append(parts, strconv.FormatFloat(speed, 'f', 2, 64))

	if err := c.expectOK(ctx, strings.Join(parts, command.Delimiter)); err != nil {
		return err
	}
	c.angles = targets
	return nil
}

// Home moves every joint to 0° plus its offset.
func (c *Client) Home(ctx context.Context, speed float64) error {
	return c.SetAll(ctx, make([]float64, NumJoints), speed)
}

func checkJoint(joint int) error {
	if joint < 0 || joint >= NumJoints {
		return fmt.Errorf("%w: %d", ErrJoint, joint)
	}
	return nil
}

func (c *Client) targetLocked(joint int, angle float64) (float64, error) {
	target := angle + c.offsets[joint]
	lim := c.limits[joint]
	if target < lim.Min || target > lim.Max {
		return 0, fmt.Errorf("%w: joint %d at %.2f, limits [%.2f, %.2f]", ErrLimit, joint, target, lim.Min, lim.Max)
	}
	return target, nil
}

func (c *Client) refreshLocked(ctx context.Context) ([]float64, error) {
	reply, err := c.exchange(ctx, "GET_JOINT_ANGLES")
	if err != nil {
		return nil, err
	}
	angles, err := ParseAngles(reply)
	if err != nil {
		return nil, err
	}
	copy(c.angles[:], angles)
	return angles, nil
}

func (c *Client) expectOK(ctx context.Context, line string) error {
	reply, err := c.exchange(ctx, line)
	if err != nil {
		return err
	}
	if reply != command.ReplyOK {
		return fmt.Errorf("%w: %q answered %q", ErrRejected, line, reply)
	}
	return nil
}

// exchange sends line and waits for one reply datagram. The wait ends at the
// earlier of the client timeout and the ctx deadline.
func (c *Client) exchange(ctx context.Context, line string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", err
	}
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", fmt.Errorf("armclient: send %q: %w", line, err)
	}
	buf := make([]byte, maxReply)
	n, err := c.conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("armclient: awaiting reply to %q: %w", line, err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// ParseAngles reads a GET_JOINT_ANGLES reply.
func ParseAngles(reply string) ([]float64, error) {
	parts := strings.Split(reply, command.Delimiter)
	if len(parts) != NumJoints {
		return nil, fmt.Errorf("%w: %d angles in %q", ErrBadReply, len(parts), reply)
	}
	angles := make([]float64, NumJoints)
	for i, p := range parts {
		a, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrBadReply, p)
		}
		angles[i] = a
	}
	return angles, nil
}
