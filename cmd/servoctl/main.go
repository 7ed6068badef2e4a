// Command servoctl talks to a running servod over HTTP, or over the UDP
// command protocol when -udp is given.
//
//	servoctl [-addr URL] list
//	servoctl [-addr URL] joints
//	servoctl [-addr URL] stop
//	servoctl [-addr URL] set ID ON OFF [ID ON OFF ...]
//
//	servoctl -udp HOST:PORT joints
//	servoctl -udp HOST:PORT set-joint JOINT ANGLE
//	servoctl -udp HOST:PORT set-all A0 A1 A2 A3 A4 A5 A6
//	servoctl -udp HOST:PORT home
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/api"
	"github.com/tagurobo/servod/internal/armclient"
	"github.com/tagurobo/servod/internal/command"
)

var (
	addr    = flag.String("addr", "http://localhost:8080", "servod base URL")
	timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	udpAddr = flag.String("udp", "", "Talk the UDP command protocol to HOST:PORT instead of HTTP")
	speed   = flag.Float64("speed", armclient.DefaultSpeed, "Speed sent with UDP move commands")
	offsets = flag.String("offsets", "", "Comma-separated per-joint angle offsets for UDP moves")
)

var (
	errUsage    = errors.New("usage: servoctl [-addr URL] list | joints | stop | set ID ON OFF [ID ON OFF ...]")
	errUDPUsage = errors.New("usage: servoctl -udp HOST:PORT joints | set-joint JOINT ANGLE | set-all A0..A6 | home")
)

func main() {
	flag.Parse()
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	if *udpAddr != "" {
		err = runUDPAddr(ctx, *udpAddr, flag.Args(), os.Stdout)
	} else {
		err = run(ctx, api.NewClient(*addr, nil), flag.Args(), os.Stdout)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runUDPAddr(ctx context.Context, address string, args []string, out io.Writer) error {
	offs, err := parseFloats(*offsets)
	if err != nil {
		return err
	}
	c, err := armclient.Dial(address, armclient.Options{Timeout: *timeout})
	if err != nil {
		return err
	}
	defer c.Disconnect()
	for i, o := range offs {
		if err := c.SetJointOffset(i, o); err != nil {
			return err
		}
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return runUDP(ctx, c, *speed, args, out)
}

// runUDP executes one subcommand on a connected arm client.
func runUDP(ctx context.Context, c *armclient.Client, speed float64, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUDPUsage
	}
	switch args[0] {
	case "joints":
		angles, err := c.Joints(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, command.FormatAngles(angles))
		return nil
	case "set-joint":
		if len(args) != 3 {
			return errUDPUsage
		}
		joint, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("bad joint %q: %w", args[1], err)
		}
		angle, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("bad angle %q: %w", args[2], err)
		}
		if err := c.SetJoint(ctx, joint, angle, speed); err != nil {
			return err
		}
	case "set-all":
		angles, err := parseFloats(strings.Join(args[1:], ","))
		if err != nil {
			return err
		}
		if err := c.SetAll(ctx, angles, speed); err != nil {
			return err
		}
	case "home":
		if err := c.Home(ctx, speed); err != nil {
			return err
		}
	default:
		return errUDPUsage
	}
	fmt.Fprintln(out, "ok")
	return nil
}

// parseFloats reads a comma-separated list; an empty string is no values.
func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", p, err)
		}
		vals[i] = v
	}
	return vals, nil
}
