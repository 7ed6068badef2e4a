// Package pwm defines the PWM peripheral the actuator bank drives and
// provides an in-memory implementation and a PCA9685 implementation.
package pwm

import (
	"errors"
	"fmt"
)

const (
	// NumChannels is the number of outputs on a PCA9685.
	NumChannels = 16
	// DefaultOscillatorHz is the measured clock of common PCA9685 breakout
	// boards; the datasheet nominal is 25 MHz.
	DefaultOscillatorHz = 27_000_000
	// NominalOscillatorHz is the datasheet internal oscillator frequency.
	NominalOscillatorHz = 25_000_000
	// DefaultFrequencyHz is the servo update rate.
	DefaultFrequencyHz = 50
)

// ErrInvalidChannel is returned when a channel is outside [0, NumChannels).
var ErrInvalidChannel = errors.New("pwm: invalid channel")

// Edge selects which register of a channel to read.
type Edge int

const (
	// On is the tick at which the pulse starts.
	On Edge = iota
	// Off is the tick at which the pulse ends.
	Off
)

func (e Edge) String() string {
	if e == On {
		return "on"
	}
	return "off"
}

// Driver is the PWM peripheral. Calls are expected to complete immediately.
type Driver interface {
	// Begin prepares the device for use.
	Begin() error
	// SetPWMFreq sets the PWM update rate of all channels.
	SetPWMFreq(hz float64) error
	// SetOscillatorFrequency tells the driver the real oscillator clock so
	// that SetPWMFreq produces the requested rate.
	SetOscillatorFrequency(hz uint32) error
	// GetPWM reads one edge register of a channel.
	GetPWM(channel int, edge Edge) (uint16, error)
	// SetPWM writes both edge registers of a channel.
	SetPWM(channel int, on, off uint16) error
	// Close releases the device.
	Close() error
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrInvalidChannel, channel)
	}
	return nil
}
