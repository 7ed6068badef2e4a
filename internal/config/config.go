// Package config loads the servod configuration file. Every field is
// optional: a nil field falls back to the default reported by its getter, so
// a partial file (or none at all) is always valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tagurobo/servod/internal/monitoring"
	"github.com/tagurobo/servod/internal/pwm"
	"github.com/tagurobo/servod/internal/serialmux"
)

// Driver names.
const (
	DriverMemory  = "memory"
	DriverPCA9685 = "pca9685"
)

// Defaults.
const (
	DefaultDriver               = DriverPCA9685
	DefaultI2CAddress           = 0x40
	DefaultUDPListen            = ":4210"
	DefaultHTTPListen           = ":8080"
	DefaultJournalPath          = "servod.db"
	DefaultJournalKeep          = 10000
	DefaultJournalPruneInterval = 10 * time.Minute
	DefaultMaxAngle             = 180.0
)

const maxFileSize = 1 * 1024 * 1024

// Config is the root configuration document.
type Config struct {
	// Actuator board
	Driver         *string  `json:"driver,omitempty" yaml:"driver,omitempty"`
	I2CBus         *string  `json:"i2c_bus,omitempty" yaml:"i2c_bus,omitempty"`
	I2CAddress     *int     `json:"i2c_address,omitempty" yaml:"i2c_address,omitempty"`
	OscillatorHz   *int     `json:"oscillator_hz,omitempty" yaml:"oscillator_hz,omitempty"`
	PWMFrequencyHz *float64 `json:"pwm_frequency_hz,omitempty" yaml:"pwm_frequency_hz,omitempty"`
	MaxAngle       *float64 `json:"max_angle,omitempty" yaml:"max_angle,omitempty"`

	// Transports. An empty serial path or listen address disables it.
	SerialPath    *string                `json:"serial_path,omitempty" yaml:"serial_path,omitempty"`
	Serial        *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	UDPListen     *string                `json:"udp_listen,omitempty" yaml:"udp_listen,omitempty"`
	UDPReadBuffer *int                   `json:"udp_read_buffer,omitempty" yaml:"udp_read_buffer,omitempty"`
	HTTPListen    *string                `json:"http_listen,omitempty" yaml:"http_listen,omitempty"`

	// Command interpreter
	StrictNumbers *bool `json:"strict_numbers,omitempty" yaml:"strict_numbers,omitempty"`
	MaxTokens     *int  `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	MaxTokenLen   *int  `json:"max_token_len,omitempty" yaml:"max_token_len,omitempty"`

	// Journal. An empty path disables it.
	JournalPath          *string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
	JournalKeep          *int    `json:"journal_keep,omitempty" yaml:"journal_keep,omitempty"`
	JournalPruneInterval *string `json:"journal_prune_interval,omitempty" yaml:"journal_prune_interval,omitempty"` // e.g. "10m"

	Log *monitoring.FileOptions `json:"log,omitempty" yaml:"log,omitempty"`
}

func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a JSON (.json) or YAML (.yaml, .yml) config file and validates
// it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that are set.
func (c *Config) Validate() error {
	if c.Driver != nil {
		switch *c.Driver {
		case DriverMemory, DriverPCA9685:
		default:
			return fmt.Errorf("driver must be %q or %q, got %q", DriverMemory, DriverPCA9685, *c.Driver)
		}
	}
	if c.I2CAddress != nil && (*c.I2CAddress < 0x03 || *c.I2CAddress > 0x77) {
		return fmt.Errorf("i2c_address must be a 7-bit address, got %#x", *c.I2CAddress)
	}
	if c.OscillatorHz != nil && (*c.OscillatorHz < 1_000_000 || *c.OscillatorHz > 50_000_000) {
		return fmt.Errorf("oscillator_hz out of range: %d", *c.OscillatorHz)
	}
	if c.PWMFrequencyHz != nil && (*c.PWMFrequencyHz < 24 || *c.PWMFrequencyHz > 1526) {
		return fmt.Errorf("pwm_frequency_hz must be between 24 and 1526, got %g", *c.PWMFrequencyHz)
	}
	if c.MaxAngle != nil && *c.MaxAngle <= 0 {
		return fmt.Errorf("max_angle must be positive, got %g", *c.MaxAngle)
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalise(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	if c.UDPReadBuffer != nil && *c.UDPReadBuffer < 0 {
		return fmt.Errorf("udp_read_buffer must be non-negative, got %d", *c.UDPReadBuffer)
	}
	if c.MaxTokens != nil && *c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", *c.MaxTokens)
	}
	if c.MaxTokenLen != nil && *c.MaxTokenLen < 1 {
		return fmt.Errorf("max_token_len must be at least 1, got %d", *c.MaxTokenLen)
	}
	if c.JournalKeep != nil && *c.JournalKeep < 0 {
		return fmt.Errorf("journal_keep must be non-negative, got %d", *c.JournalKeep)
	}
	if c.JournalPruneInterval != nil && *c.JournalPruneInterval != "" {
		if _, err := time.ParseDuration(*c.JournalPruneInterval); err != nil {
			return fmt.Errorf("invalid journal_prune_interval '%s': %w", *c.JournalPruneInterval, err)
		}
	}
	return nil
}

func (c *Config) GetDriver() string {
	if c.Driver == nil {
		return DefaultDriver
	}
	return *c.Driver
}

func (c *Config) GetI2CBus() string {
	if c.I2CBus == nil {
		return ""
	}
	return *c.I2CBus
}

func (c *Config) GetI2CAddress() uint16 {
	if c.I2CAddress == nil {
		return DefaultI2CAddress
	}
	return uint16(*c.I2CAddress)
}

func (c *Config) GetOscillatorHz() uint32 {
	if c.OscillatorHz == nil {
		return pwm.DefaultOscillatorHz
	}
	return uint32(*c.OscillatorHz)
}

func (c *Config) GetPWMFrequencyHz() float64 {
	if c.PWMFrequencyHz == nil {
		return pwm.DefaultFrequencyHz
	}
	return *c.PWMFrequencyHz
}

func (c *Config) GetMaxAngle() float64 {
	if c.MaxAngle == nil {
		return DefaultMaxAngle
	}
	return *c.MaxAngle
}

// GetSerialPath returns the console device, or "" when the console is off.
func (c *Config) GetSerialPath() string {
	if c.SerialPath == nil {
		return ""
	}
	return *c.SerialPath
}

// GetSerialOptions returns the normalised port options.
func (c *Config) GetSerialOptions() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	n, err := opts.Normalise()
	if err != nil {
		// Validate rejects this; fall back to defaults for unvalidated configs.
		n, _ = serialmux.PortOptions{}.Normalise()
	}
	return n
}

func (c *Config) GetUDPListen() string {
	if c.UDPListen == nil {
		return DefaultUDPListen
	}
	return *c.UDPListen
}

func (c *Config) GetUDPReadBuffer() int {
	if c.UDPReadBuffer == nil {
		return 0
	}
	return *c.UDPReadBuffer
}

func (c *Config) GetHTTPListen() string {
	if c.HTTPListen == nil {
		return DefaultHTTPListen
	}
	return *c.HTTPListen
}

func (c *Config) GetStrictNumbers() bool {
	if c.StrictNumbers == nil {
		return false
	}
	return *c.StrictNumbers
}

// GetMaxTokens returns 0 when unset so the interpreter applies its own default.
func (c *Config) GetMaxTokens() int {
	if c.MaxTokens == nil {
		return 0
	}
	return *c.MaxTokens
}

func (c *Config) GetMaxTokenLen() int {
	if c.MaxTokenLen == nil {
		return 0
	}
	return *c.MaxTokenLen
}

func (c *Config) GetJournalPath() string {
	if c.JournalPath == nil {
		return DefaultJournalPath
	}
	return *c.JournalPath
}

func (c *Config) GetJournalKeep() int {
	if c.JournalKeep == nil {
		return DefaultJournalKeep
	}
	return *c.JournalKeep
}

func (c *Config) GetJournalPruneInterval() time.Duration {
	if c.JournalPruneInterval == nil || *c.JournalPruneInterval == "" {
		return DefaultJournalPruneInterval
	}
	d, err := time.ParseDuration(*c.JournalPruneInterval)
	if err != nil {
		return DefaultJournalPruneInterval
	}
	return d
}

func (c *Config) GetLog() monitoring.FileOptions {
	if c.Log == nil {
		return monitoring.FileOptions{}
	}
	return *c.Log
}

// Overrides holds command-line values that replace file values when set.
type Overrides struct {
	Driver        string
	SerialPath    string
	UDPListen     string
	HTTPListen    string
	JournalPath   string
	LogFile       string
	StrictNumbers bool
}

// Apply copies every non-zero override into c.
func (c *Config) Apply(o Overrides) {
	if o.Driver != "" {
		c.Driver = ptrString(o.Driver)
	}
	if o.SerialPath != "" {
		c.SerialPath = ptrString(o.SerialPath)
	}
	if o.UDPListen != "" {
		c.UDPListen = ptrString(o.UDPListen)
	}
	if o.HTTPListen != "" {
		c.HTTPListen = ptrString(o.HTTPListen)
	}
	if o.JournalPath != "" {
		c.JournalPath = ptrString(o.JournalPath)
	}
	if o.LogFile != "" {
		if c.Log == nil {
			c.Log = &monitoring.FileOptions{}
		}
		c.Log.Path = o.LogFile
	}
	if o.StrictNumbers {
		c.StrictNumbers = ptrBool(true)
	}
}
