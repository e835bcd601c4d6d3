// Package config loads the YAML configuration of a CAN29 host.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"can29/host/bus"
	"can29/host/serial"
	"can29/protocol"
)

// Config is the complete host configuration.
type Config struct {
	Port    serial.Config `yaml:"port"`
	Bus     BusConfig     `yaml:"bus"`
	Capture CaptureConfig `yaml:"capture"`
	Metrics MetricsConfig `yaml:"metrics"`
	Axes    []AxisConfig  `yaml:"axes"`
}

// BusConfig selects the wire variant and dispatcher timing.
type BusConfig struct {
	HostAddress    uint8         `yaml:"host_address"`
	Checksum       string        `yaml:"checksum"`
	MaxPayload     int           `yaml:"max_payload"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CaptureConfig controls the protocol capture.
type CaptureConfig struct {
	// File receives a CBOR capture stream when set.
	File string `yaml:"file"`

	// Log mirrors capture events to the debug log.
	Log bool `yaml:"log"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address /metrics is served on; empty disables it.
	Listen string `yaml:"listen"`
}

// AxisConfig describes one axis on the bus.
type AxisConfig struct {
	Name            string        `yaml:"name"`
	Address         uint8         `yaml:"address"`
	DeviceID        uint8         `yaml:"device_id"`
	ApplicationName string        `yaml:"application_name"`
	Monitor         bool          `yaml:"monitor"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(cfg *Config) {
	if cfg.Port.Baud == 0 {
		cfg.Port.Baud = serial.DefaultBaud
	}
	if cfg.Port.ReadTimeout == 0 {
		cfg.Port.ReadTimeout = serial.DefaultReadTimeout
	}

	if cfg.Bus.HostAddress == 0 {
		cfg.Bus.HostAddress = bus.DefaultHostAddress
	}
	if cfg.Bus.Checksum == "" {
		cfg.Bus.Checksum = protocol.ChecksumCRC16.Name()
	}
	if cfg.Bus.MaxPayload == 0 {
		cfg.Bus.MaxPayload = protocol.DefaultMaxPayload
	}
	if cfg.Bus.RequestTimeout == 0 {
		cfg.Bus.RequestTimeout = bus.DefaultRequestTimeout
	}

	for i := range cfg.Axes {
		axis := &cfg.Axes[i]
		if axis.Name == "" {
			axis.Name = fmt.Sprintf("axis%d", i)
		}
		if axis.Timeout == 0 {
			axis.Timeout = cfg.Bus.RequestTimeout
		}
	}
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	var errs []error

	if c.Port.Device == "" {
		errs = append(errs, errors.New("port.device is required"))
	}
	if c.Port.Baud < 0 {
		errs = append(errs, fmt.Errorf("port.baud %d is negative", c.Port.Baud))
	}
	if c.Bus.HostAddress == protocol.BroadcastAddress {
		errs = append(errs, errors.New("bus.host_address cannot be the broadcast address"))
	}
	if _, err := protocol.LookupChecksum(c.Bus.Checksum); err != nil {
		errs = append(errs, fmt.Errorf("bus.checksum: %w", err))
	}
	if c.Bus.MaxPayload < 1 || c.Bus.MaxPayload > protocol.PayloadHard {
		errs = append(errs, fmt.Errorf("bus.max_payload %d out of range 1..%d", c.Bus.MaxPayload, protocol.PayloadHard))
	}

	names := make(map[string]bool)
	ids := make(map[[2]uint8]string)
	for _, axis := range c.Axes {
		if names[axis.Name] {
			errs = append(errs, fmt.Errorf("axis %q defined twice", axis.Name))
		}
		names[axis.Name] = true

		key := [2]uint8{axis.Address, axis.DeviceID}
		if other, dup := ids[key]; dup {
			errs = append(errs, fmt.Errorf("axes %q and %q share address %d/%d", other, axis.Name, axis.Address, axis.DeviceID))
		}
		ids[key] = axis.Name

		if axis.Address == protocol.BroadcastAddress || axis.Address == c.Bus.HostAddress {
			errs = append(errs, fmt.Errorf("axis %q: address %d is reserved", axis.Name, axis.Address))
		}
	}

	return errors.Join(errs...)
}

// Codec builds the wire codec the bus section selects.
func (c *Config) Codec() (*protocol.Codec, error) {
	return protocol.NewCodec(c.Bus.Checksum, c.Bus.MaxPayload)
}

// Axis returns the axis called name.
func (c *Config) Axis(name string) (AxisConfig, bool) {
	for _, axis := range c.Axes {
		if axis.Name == name {
			return axis, true
		}
	}
	return AxisConfig{}, false
}

// Default returns a configuration for a single monitored axis at 3/1 on
// device.
func Default(device string) *Config {
	cfg := &Config{
		Port: *serial.DefaultConfig(device),
		Axes: []AxisConfig{
			{Name: "x", Address: 3, DeviceID: 1, Monitor: true},
		},
	}
	applyDefaults(cfg)
	return cfg
}
