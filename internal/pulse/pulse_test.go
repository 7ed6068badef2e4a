package pulse

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_TickMs(t *testing.T) {
	c := Default()
	assert.InDelta(t, 20.0, c.PeriodMs(), 1e-12)
	assert.InDelta(t, 0.0048828125, c.TickMs(), 1e-12)
	assert.InDelta(t, 0.439453125, c.AngleResolution(), 1e-12)
}

func TestAngleToTicks_KnownValues(t *testing.T) {
	tests := []struct {
		angle float64
		want  uint16
	}{
		{0, 102},   // 0.5ms / 0.0048828125
		{90, 307},  // 1.5ms
		{180, 512}, // 2.5ms
		{45, 204},  // 1.0ms
		{135, 409}, // 2.0ms, 409.6 truncated
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AngleToTicks(tt.angle), "angle %v", tt.angle)
	}
}

func TestAngleToTicks_Clamps(t *testing.T) {
	lo := AngleToTicks(0)
	hi := AngleToTicks(180)
	for _, a := range []float64{-0.001, -1, -90, -1e9, math.Inf(-1), math.NaN()} {
		assert.Equal(t, lo, AngleToTicks(a), "angle %v", a)
	}
	for _, a := range []float64{180.001, 181, 360, 1e9, math.Inf(1)} {
		assert.Equal(t, hi, AngleToTicks(a), "angle %v", a)
	}
}

func TestRoundTrip_WithinOneTick(t *testing.T) {
	tick := Default().AngleResolution()
	for a := 0.0; a <= 180.0; a += 0.25 {
		got := TicksToAngle(AngleToTicks(a))
		require.LessOrEqual(t, got, a+1e-9, "round trip of %v", a)
		require.InDelta(t, a, got, tick+1e-9, "round trip of %v", a)
	}
}

func TestRoundTrip_KnownAngles(t *testing.T) {
	tests := []struct {
		angle float64
		want  float64
	}{
		{0, 0},
		{30, 29.70703125},
		{60, 59.58984375},
		{90, 89.912109375},
		{120, 119.794921875},
		{150, 149.677734375},
		{180, 180},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, TicksToAngle(AngleToTicks(tt.angle)), 1e-9, "angle %v", tt.angle)
	}
	assert.InDelta(t, 90, TicksToAngle(AngleToTicks(90)), 0.1)
	assert.InDelta(t, 180, TicksToAngle(AngleToTicks(180)), 0.1)
}

func TestTicksToAngle_Clamps(t *testing.T) {
	assert.Equal(t, 0.0, TicksToAngle(0))
	assert.Equal(t, 0.0, TicksToAngle(50))
	assert.Equal(t, 180.0, TicksToAngle(4095))
	assert.Equal(t, 180.0, TicksToAngle(600))
}

func TestConverter_CustomMaxAngle(t *testing.T) {
	c := Default()
	c.MaxAngle = 270
	assert.InDelta(t, 512, float64(c.AngleToTicks(270)), 1)
	assert.Equal(t, c.AngleToTicks(270), c.AngleToTicks(400))
	assert.InDelta(t, 135.0, c.TicksToAngle(c.AngleToTicks(135)), c.AngleResolution())
}
