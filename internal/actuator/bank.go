// Package actuator owns the on/off tick pair of every PWM channel and is the
// only writer of the PWM driver. Both command transports and the HTTP API
// share one Bank.
package actuator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tagurobo/servod/internal/pulse"
	"github.com/tagurobo/servod/internal/pwm"
)

// NumChannels is the fixed size of the bank.
const NumChannels = pwm.NumChannels

var (
	// ErrOutOfRange is returned for a channel index outside [0, NumChannels).
	ErrOutOfRange = errors.New("channel out of range")
	// ErrTickRange is returned for an on/off value above pulse.MaxTick.
	ErrTickRange = errors.New("tick value out of range")
	// ErrMissingField is returned when a batch entry omits id, on_time or off_time.
	ErrMissingField = errors.New("missing field")
)

// Channel is the state of one PWM output.
type Channel struct {
	ID      int    `json:"id"`
	OnTime  uint16 `json:"on_time"`
	OffTime uint16 `json:"off_time"`
}

// ChannelUpdate is one entry of a batch write. Pointer fields distinguish a
// missing key from a zero value.
type ChannelUpdate struct {
	ID      *int `json:"id"`
	OnTime  *int `json:"on_time"`
	OffTime *int `json:"off_time"`
}

// Update builds a fully populated ChannelUpdate.
func Update(id, on, off int) ChannelUpdate {
	return ChannelUpdate{ID: &id, OnTime: &on, OffTime: &off}
}

// Bank is the addressable state of the PWM channels.
type Bank struct {
	mu        sync.Mutex
	driver    pwm.Driver
	converter pulse.Converter
	channels  [NumChannels]Channel

	subMu       sync.Mutex
	subscribers map[string]chan Channel
}

// NewBank returns a bank driving driver, with every channel at (0, 0) until
// Begin reads the driver's registers.
func NewBank(driver pwm.Driver, converter pulse.Converter) *Bank {
	b := &Bank{
		driver:      driver,
		converter:   converter,
		subscribers: make(map[string]chan Channel),
	}
	for i := range b.channels {
		b.channels[i].ID = i
	}
	return b
}

// Begin starts the driver, configures its clock and output rate, and seeds
// the bank from the driver's current registers.
func (b *Bank) Begin(oscillatorHz uint32, frequencyHz float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.driver.Begin(); err != nil {
		return fmt.Errorf("failed to start pwm driver: %w", err)
	}
	if err := b.driver.SetOscillatorFrequency(oscillatorHz); err != nil {
		return fmt.Errorf("failed to set oscillator frequency: %w", err)
	}
	if err := b.driver.SetPWMFreq(frequencyHz); err != nil {
		return fmt.Errorf("failed to set pwm frequency: %w", err)
	}
	for i := range b.channels {
		on, err := b.driver.GetPWM(i, pwm.On)
		if err != nil {
			return fmt.Errorf("failed to read channel %d: %w", i, err)
		}
		off, err := b.driver.GetPWM(i, pwm.Off)
		if err != nil {
			return fmt.Errorf("failed to read channel %d: %w", i, err)
		}
		b.channels[i] = Channel{ID: i, OnTime: on, OffTime: off}
	}
	return nil
}

// Converter returns the angle/tick mapping used by the bank.
func (b *Bank) Converter() pulse.Converter {
	return b.converter
}

func checkChannel(channel int) error {
	if channel < 0 || channel >= NumChannels {
		return fmt.Errorf("%w: %d", ErrOutOfRange, channel)
	}
	return nil
}

func checkTicks(on, off int) error {
	if on < 0 || on > pulse.MaxTick || off < 0 || off > pulse.MaxTick {
		return fmt.Errorf("%w: on=%d off=%d", ErrTickRange, on, off)
	}
	return nil
}

// Get returns the on/off ticks of channel.
func (b *Bank) Get(channel int) (on, off uint16, err error) {
	if err := checkChannel(channel); err != nil {
		return 0, 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.channels[channel]
	return c.OnTime, c.OffTime, nil
}

// Set writes channel through to the driver.
func (b *Bank) Set(channel int, on, off uint16) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	if err := checkTicks(int(on), int(off)); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.setLocked(channel, on, off)
}

func (b *Bank) setLocked(channel int, on, off uint16) error {
	if err := b.driver.SetPWM(channel, on, off); err != nil {
		return fmt.Errorf("failed to write channel %d: %w", channel, err)
	}
	c := Channel{ID: channel, OnTime: on, OffTime: off}
	changed := b.channels[channel] != c
	b.channels[channel] = c
	if changed {
		b.publish(c)
	}
	return nil
}

// AllOff sets every channel to (0, 0) while holding the lock, so no reader
// observes a partially cleared bank.
func (b *Bank) AllOff() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for i := range b.channels {
		if err := b.setLocked(i, 0, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll is AllOff under the name used by the HTTP interface.
func (b *Bank) StopAll() error {
	return b.AllOff()
}

// List returns all channels in id order.
func (b *Bank) List() []Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Channel, NumChannels)
	copy(out, b.channels[:])
	return out
}

// ValidateBatch checks every entry of a batch without touching the bank.
func ValidateBatch(updates []ChannelUpdate) error {
	for i, u := range updates {
		if u.ID == nil || u.OnTime == nil || u.OffTime == nil {
			return fmt.Errorf("entry %d: %w", i, ErrMissingField)
		}
		if err := checkChannel(*u.ID); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		if err := checkTicks(*u.OnTime, *u.OffTime); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// ApplyBatch validates every entry and only then applies them in order under
// one lock. An invalid entry leaves every channel untouched.
func (b *Bank) ApplyBatch(updates []ChannelUpdate) error {
	if err := ValidateBatch(updates); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, u := range updates {
		if err := b.setLocked(*u.ID, uint16(*u.OnTime), uint16(*u.OffTime)); err != nil {
			return err
		}
	}
	return nil
}

// Angle returns the joint angle of channel derived from its off tick.
func (b *Bank) Angle(channel int) (float64, error) {
	_, off, err := b.Get(channel)
	if err != nil {
		return 0, err
	}
	return b.converter.TicksToAngle(off), nil
}

// Angles returns the joint angles of channels [0, n).
func (b *Bank) Angles(n int) ([]float64, error) {
	if n < 0 || n > NumChannels {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]float64, n)
	for i := range out {
		out[i] = b.converter.TicksToAngle(b.channels[i].OffTime)
	}
	return out, nil
}

// SetAngle moves channel to angle with the pulse starting at tick 0.
func (b *Bank) SetAngle(channel int, angle float64) error {
	return b.Set(channel, 0, b.converter.AngleToTicks(angle))
}

// SetAngles moves channels 0..len(angles)-1 in ascending order under one lock.
func (b *Bank) SetAngles(angles []float64) error {
	if len(angles) > NumChannels {
		return fmt.Errorf("%w: %d angles", ErrOutOfRange, len(angles))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, a := range angles {
		if err := b.setLocked(i, 0, b.converter.AngleToTicks(a)); err != nil {
			return err
		}
	}
	return nil
}
