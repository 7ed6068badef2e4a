// Package pulse maps joint angles to PWM tick counts and back.
//
// A PWM period is divided into a fixed number of ticks (4096 on a PCA9685).
// At 50 Hz one period lasts 20 ms, so one tick is 20/4096 = 0.0048828125 ms.
// Analog hobby servos expect a 0.5 ms pulse at 0° and 2.5 ms at their maximum
// angle; everything in between is linear.
package pulse

import "math"

const (
	// DefaultFrequencyHz is the update rate analog servos run at.
	DefaultFrequencyHz = 50.0
	// DefaultResolution is the number of ticks in one PWM period.
	DefaultResolution = 4096
	// DefaultMaxAngle is the upper angle bound in degrees.
	DefaultMaxAngle = 180.0
	// MinPulseMs is the pulse width at 0°.
	MinPulseMs = 0.5
	// PulseSpanMs is the pulse width added between 0° and the max angle.
	PulseSpanMs = 2.0
	// MaxTick is the largest valid on/off tick value.
	MaxTick = DefaultResolution - 1
)

// Converter holds the parameters of the angle/tick mapping. The zero value is
// not usable; start from Default.
type Converter struct {
	FrequencyHz float64 `json:"frequency_hz"`
	Resolution  int     `json:"resolution"`
	MaxAngle    float64 `json:"max_angle"`
}

// Default returns the 50 Hz / 4096 tick / 180° converter.
func Default() Converter {
	return Converter{
		FrequencyHz: DefaultFrequencyHz,
		Resolution:  DefaultResolution,
		MaxAngle:    DefaultMaxAngle,
	}
}

// PeriodMs is the length of one PWM period in milliseconds.
func (c Converter) PeriodMs() float64 {
	return 1000.0 / c.FrequencyHz
}

// TickMs is the duration of one tick in milliseconds.
func (c Converter) TickMs() float64 {
	return c.PeriodMs() / float64(c.Resolution)
}

// Clamp limits angle to [0, MaxAngle].
func (c Converter) Clamp(angle float64) float64 {
	if math.IsNaN(angle) || angle <= 0 {
		return 0
	}
	if angle >= c.MaxAngle {
		return c.MaxAngle
	}
	return angle
}

// AngleToTicks returns the off-tick for a pulse starting at tick 0 that
// holds the servo at angle. Out-of-range angles are clamped, never rejected.
func (c Converter) AngleToTicks(angle float64) uint16 {
	angle = c.Clamp(angle)
	pulseMs := angle*(PulseSpanMs/c.MaxAngle) + MinPulseMs
	ticks := math.Trunc(pulseMs / c.TickMs())
	if ticks > float64(c.Resolution-1) {
		ticks = float64(c.Resolution - 1)
	}
	return uint16(ticks)
}

// TicksToAngle converts an off-tick back into degrees, clamped to
// [0, MaxAngle]. The mapping loses up to one tick of precision, so
// TicksToAngle(AngleToTicks(a)) is only approximately a.
func (c Converter) TicksToAngle(ticks uint16) float64 {
	pulseMs := c.TickMs() * float64(ticks)
	angle := ((pulseMs - MinPulseMs) / PulseSpanMs) * c.MaxAngle
	return c.Clamp(angle)
}

// AngleResolution reports the angular size of one tick in degrees.
func (c Converter) AngleResolution() float64 {
	return c.TickMs() / PulseSpanMs * c.MaxAngle
}

var std = Default()

// AngleToTicks converts with the default converter.
func AngleToTicks(angle float64) uint16 { return std.AngleToTicks(angle) }

// TicksToAngle converts with the default converter.
func TicksToAngle(ticks uint16) float64 { return std.TicksToAngle(ticks) }
