package pwm

import "sync"

// MemoryDriver is a Driver backed by a register array. It is used when no
// hardware is attached and in tests.
type MemoryDriver struct {
	mu sync.Mutex

	regs         [NumChannels][2]uint16
	frequencyHz  float64
	oscillatorHz uint32
	begun        bool
	closed       bool

	// Writes counts SetPWM calls.
	Writes int
	// SetError is returned by every SetPWM call if set.
	SetError error
}

// NewMemoryDriver returns a driver with every channel at (0, 0).
func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{oscillatorHz: NominalOscillatorHz}
}

func (m *MemoryDriver) Begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.begun = true
	return nil
}

func (m *MemoryDriver) SetPWMFreq(hz float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frequencyHz = hz
	return nil
}

func (m *MemoryDriver) SetOscillatorFrequency(hz uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.oscillatorHz = hz
	return nil
}

func (m *MemoryDriver) GetPWM(channel int, edge Edge) (uint16, error) {
	if err := checkChannel(channel); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs[channel][edge], nil
}

func (m *MemoryDriver) SetPWM(channel int, on, off uint16) error {
	if err := checkChannel(channel); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetError != nil {
		return m.SetError
	}
	m.Writes++
	m.regs[channel][On] = on
	m.regs[channel][Off] = off
	return nil
}

func (m *MemoryDriver) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FrequencyHz returns the last value passed to SetPWMFreq.
func (m *MemoryDriver) FrequencyHz() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frequencyHz
}

// OscillatorHz returns the last value passed to SetOscillatorFrequency.
func (m *MemoryDriver) OscillatorHz() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oscillatorHz
}

// Begun reports whether Begin was called.
func (m *MemoryDriver) Begun() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.begun
}

// Closed reports whether Close was called.
func (m *MemoryDriver) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Preset sets registers without counting a write, to simulate state left on
// the device by a previous run.
func (m *MemoryDriver) Preset(channel int, on, off uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[channel] = [2]uint16{on, off}
}
