package pwm

import (
	"fmt"
	"log"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// PCA9685Options selects the I2C bus and device address.
type PCA9685Options struct {
	// Bus is the periph bus name, e.g. "I2C1" or "/dev/i2c-1". Empty picks
	// the first bus found.
	Bus string `json:"bus" yaml:"bus"`
	// Address is the 7-bit device address.
	Address uint16 `json:"address" yaml:"address"`
}

// PCA9685Driver drives a PCA9685 over I2C using periph.io. The chip's
// registers are write-only through periph, so the driver keeps a shadow of
// every value it writes and serves GetPWM from it.
type PCA9685Driver struct {
	opts PCA9685Options

	mu           sync.Mutex
	bus          i2c.BusCloser
	dev          *pca9685.Dev
	shadow       [NumChannels][2]uint16
	oscillatorHz uint32
}

// NewPCA9685Driver returns an unopened driver; call Begin before use.
func NewPCA9685Driver(opts PCA9685Options) *PCA9685Driver {
	if opts.Address == 0 {
		opts.Address = pca9685.I2CAddr
	}
	return &PCA9685Driver{opts: opts, oscillatorHz: NominalOscillatorHz}
}

// Begin initialises the host drivers, opens the bus and resets the chip.
func (d *PCA9685Driver) Begin() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialise periph host: %w", err)
	}
	bus, err := i2creg.Open(d.opts.Bus)
	if err != nil {
		return fmt.Errorf("failed to open i2c bus %q: %w", d.opts.Bus, err)
	}
	dev, err := pca9685.NewI2C(bus, d.opts.Address)
	if err != nil {
		bus.Close()
		return fmt.Errorf("failed to open pca9685 at 0x%02x: %w", d.opts.Address, err)
	}
	d.bus = bus
	d.dev = dev
	log.Printf("pca9685 ready on bus %q address 0x%02x", d.opts.Bus, d.opts.Address)
	return nil
}

// SetOscillatorFrequency records the board's real clock. periph computes the
// prescaler from the 25 MHz nominal clock, so SetPWMFreq scales the request.
func (d *PCA9685Driver) SetOscillatorFrequency(hz uint32) error {
	if hz == 0 {
		return fmt.Errorf("oscillator frequency must be positive")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oscillatorHz = hz
	return nil
}

func (d *PCA9685Driver) SetPWMFreq(hz float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return fmt.Errorf("pca9685: not started")
	}
	requested := hz * float64(NominalOscillatorHz) / float64(d.oscillatorHz)
	return d.dev.SetPwmFreq(physic.Frequency(requested * float64(physic.Hertz)))
}

func (d *PCA9685Driver) GetPWM(channel int, edge Edge) (uint16, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shadow[channel][edge], nil
}

func (d *PCA9685Driver) SetPWM(channel int, on, off uint16) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dev == nil {
		return fmt.Errorf("pca9685: not started")
	}
	if err := d.dev.SetPwm(channel, gpio.Duty(on), gpio.Duty(off)); err != nil {
		return fmt.Errorf("pca9685: set channel %d: %w", channel, err)
	}
	d.shadow[channel] = [2]uint16{on, off}
	return nil
}

func (d *PCA9685Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bus == nil {
		return nil
	}
	err := d.bus.Close()
	d.bus = nil
	d.dev = nil
	return err
}
